package middleware

import (
	"context"
	"time"

	"reqrep-rpc/log"
	"reqrep-rpc/message"

	"go.uber.org/zap"
)

// Failed dispatches share one warn budget, independent of the global rated
// limiter, which is unbounded unless configured.
const (
	failureLogGroup     = "middleware.dispatch-failed"
	failureLogPerSecond = 10
	failureLogBurst     = 10
)

// LoggingMiddleware logs every dispatch at debug and failed ones at warn.
// Warnings are capped at failureLogPerSecond so a client hammering an unbound
// name cannot flood the log.
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Result {
			start := time.Now()
			res := next(ctx, req)
			duration := time.Since(start)

			logger := log.Ctx(ctx)
			if !res.Valid() {
				rated := &log.MLogger{Logger: logger.Logger}
				rated.WithRateGroup(failureLogGroup, failureLogPerSecond, failureLogBurst)
				rated.RatedWarn(1, "dispatch failed",
					log.FieldFunction(req.Name),
					log.FieldCode(res.Code),
					zap.String("msg", res.Msg),
					zap.Duration("duration", duration))
				return res
			}
			logger.Debug("dispatch",
				log.FieldFunction(req.Name),
				zap.Int("argBytes", len(req.Args)),
				zap.Duration("duration", duration))
			return res
		}
	}
}
