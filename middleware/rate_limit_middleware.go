package middleware

import (
	"context"

	"remote-agent/message"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware rejects calls beyond a token bucket of r per second.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.Failure(req.CorrelationID(), "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
