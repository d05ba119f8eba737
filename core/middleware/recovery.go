package middleware

import (
	"go.uber.org/zap"

	"github.com/miladsoleymani/deliverymux/core"
)

// Recovery returns middleware that recovers from panics in the wrapped
// context and logs them with a stack trace, so the polling goroutine keeps
// running. The report that caused the panic is lost.
func Recovery[D any](logger *zap.Logger) core.MiddlewareFunc[D] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next core.ProducerContext[D]) core.ProducerContext[D] {
		return core.DeliveryFunc[D](func(r core.DeliveryReport, dc *D) {
			defer func() {
				if v := recover(); v != nil {
					logger.Error("panic recovered in delivery callback",
						zap.String("topic", r.Topic()),
						zap.Any("panic", v),
						zap.Stack("stack"),
					)
				}
			}()
			next.Delivery(r, dc)
		})
	}
}
