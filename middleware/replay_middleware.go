package middleware

import (
	"context"

	"remote-agent/message"
	"remote-agent/registry"

	"go.uber.org/zap"
)

// CallRecorder receives successful calls of capabilities marked Record.
type CallRecorder interface {
	Record(call *registry.Call) error
}

// ReplayMiddleware records successful calls. A recording failure is logged
// and never changes the response.
func ReplayMiddleware(rec CallRecorder, reg *registry.Registry, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			resp := next(ctx, req)
			if resp.IsError() {
				return resp
			}
			c, err := reg.Resolve(req.Function)
			if err != nil || !c.Record {
				return resp
			}
			call, err := registry.Bind(c, req)
			if err != nil {
				return resp
			}
			if err := rec.Record(call); err != nil {
				logger.Warn("replay record failed", zap.String("function", req.Function), zap.Error(err))
			}
			return resp
		}
	}
}
