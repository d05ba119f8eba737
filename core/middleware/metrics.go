package middleware

import (
	"time"

	"github.com/miladsoleymani/deliverymux/core"
)

// MetricsCollector is implemented by metrics backends. It keeps the
// middleware decoupled from any specific metrics library.
type MetricsCollector interface {
	// DeliveryReported records one delivery report. err is core.ErrNoError
	// on success and d is the time spent in the wrapped context.
	DeliveryReported(topic string, err core.RespErr, d time.Duration)
}

// Metrics returns middleware that reports every delivery to collector.
func Metrics[D any](collector MetricsCollector) core.MiddlewareFunc[D] {
	return func(next core.ProducerContext[D]) core.ProducerContext[D] {
		return core.DeliveryFunc[D](func(r core.DeliveryReport, dc *D) {
			start := time.Now()
			next.Delivery(r, dc)
			collector.DeliveryReported(r.Topic(), r.Err(), time.Since(start))
		})
	}
}
