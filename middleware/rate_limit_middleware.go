package middleware

import (
	"context"

	"reqrep-rpc/message"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件
// Rejected requests get a RATE_LIMITED reply and never reach the handler.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Result {
			if !limiter.Allow() {
				return message.Fail(message.CodeRateLimited, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
