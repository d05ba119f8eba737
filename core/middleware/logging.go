package middleware

import (
	"go.uber.org/zap"

	"github.com/miladsoleymani/deliverymux/core"
)

// Logging returns middleware that logs every delivery report: successes at
// debug level and failures at warn level.
func Logging[D any](logger *zap.Logger) core.MiddlewareFunc[D] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next core.ProducerContext[D]) core.ProducerContext[D] {
		return core.DeliveryFunc[D](func(r core.DeliveryReport, dc *D) {
			fields := []zap.Field{
				zap.String("topic", r.Topic()),
				zap.Int32("partition", r.Partition()),
			}
			if r.Success() {
				logger.Debug("message delivered", append(fields, zap.Int64("offset", r.Offset()))...)
			} else {
				logger.Warn("message delivery failed", append(fields, zap.Error(r.Err()))...)
			}
			next.Delivery(r, dc)
		})
	}
}
