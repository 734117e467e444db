package middleware

import (
	"context"
	"time"

	"remote-agent/message"

	"go.uber.org/zap"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "dispatch"))
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("function", req.Function),
				zap.String("id", req.CorrelationID()),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.IsError() {
				logger.Warn("call failed", append(fields, zap.String("error", resp.Error))...)
			} else {
				logger.Info("call completed", fields...)
			}
			return resp
		}
	}
}
