// Package prom exports delivery metrics to Prometheus.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miladsoleymani/deliverymux/core"
	"github.com/miladsoleymani/deliverymux/core/middleware"
)

// Collector implements middleware.MetricsCollector with a counter of
// delivery reports per topic and outcome, and a histogram of the time spent
// handling them.
type Collector struct {
	Delivered *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
}

// NewCollector creates the metrics under namespace and registers them with
// reg. A nil reg leaves them unregistered.
func NewCollector(namespace string, reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "deliveries_total",
			Help:      "Delivery reports dispatched, by topic and result code.",
		}, []string{"topic", "result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "delivery_callback_seconds",
			Help:      "Time spent in the delivery callback.",
			Buckets:   []float64{.00001, .0001, .001, .01, .1, 1},
		}, []string{"topic"}),
	}
	if reg != nil {
		for _, m := range []prometheus.Collector{c.Delivered, c.Duration} {
			if err := reg.Register(m); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// Result returns the label value used for err.
func Result(err core.RespErr) string {
	if !err.IsError() {
		return "success"
	}
	return err.String()
}

func (c *Collector) DeliveryReported(topic string, err core.RespErr, d time.Duration) {
	c.Delivered.WithLabelValues(topic, Result(err)).Inc()
	c.Duration.WithLabelValues(topic).Observe(d.Seconds())
}

var _ middleware.MetricsCollector = (*Collector)(nil)
