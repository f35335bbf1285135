package middleware

import (
	"context"
	"fmt"

	"reqrep-rpc/log"
	"reqrep-rpc/message"

	"go.uber.org/zap"
)

// RecoveryMiddleware turns a handler panic into a HANDLER_PANIC reply so the
// serving loop survives it.
func RecoveryMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (res *message.Result) {
			defer func() {
				if p := recover(); p != nil {
					log.Ctx(ctx).Error("handler panic",
						log.FieldFunction(req.Name),
						zap.Any("panic", p),
						zap.StackSkip("stack", 2))
					res = message.Fail(message.CodeHandlerPanic, fmt.Sprintf("panic in %s: %v", req.Name, p))
				}
			}()
			return next(ctx, req)
		}
	}
}
