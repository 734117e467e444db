package middleware

import (
	"context"
	"time"

	"remote-agent/message"
)

// TimeOutMiddleware answers with an error once timeout elapses. The
// capability keeps running in the background and keeps its admission slot
// until it returns; its late result is dropped.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.Failure(req.CorrelationID(), "request timed out")
			}
		}
	}
}
