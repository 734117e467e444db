package middleware

import (
	"context"
	"time"

	"remote-agent/message"
	"remote-agent/metrics"
)

func MetricsMiddleware(c *metrics.Collector) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			c.CallStarted()
			defer c.CallFinished()

			start := time.Now()
			resp := next(ctx, req)
			c.RecordCall(req.Function, string(resp.Status), time.Since(start))
			return resp
		}
	}
}
