package middleware

import (
	"context"
	"time"

	"reqrep-rpc/message"
	"reqrep-rpc/metrics"
)

// MetricsMiddleware counts dispatches by reply code and observes handler latency.
func MetricsMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Result {
			start := time.Now()
			res := next(ctx, req)

			name := req.Name
			if res.Code == message.CodeFunctionNotBound {
				name = metrics.UnboundFunction
			}
			metrics.ServerDispatches.WithLabelValues(name, res.Code.String()).Inc()
			if res.Valid() {
				metrics.ServerDispatchLatency.WithLabelValues(name).
					Observe(float64(time.Since(start).Microseconds()) / 1000)
			}
			return res
		}
	}
}
