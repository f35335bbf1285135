package middleware

import (
	"context"

	"reqrep-rpc/message"
)

// HandlerFunc handles one decoded request and returns the result to encode.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Result

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
//
//	Chain(A, B, C)(h) → A(B(C(h)))
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
