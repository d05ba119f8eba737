// Package otelmetric records delivery metrics through an OpenTelemetry
// meter.
package otelmetric

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/miladsoleymani/deliverymux/core"
	"github.com/miladsoleymani/deliverymux/core/middleware"
)

// Collector implements middleware.MetricsCollector on top of a metric.Meter.
type Collector struct {
	delivered metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewCollector creates the instruments on meter.
func NewCollector(meter metric.Meter) (*Collector, error) {
	delivered, err := meter.Int64Counter("deliverymux.producer.deliveries",
		metric.WithDescription("Delivery reports dispatched, by topic and result code."),
		metric.WithUnit("{report}"),
	)
	if err != nil {
		return nil, fmt.Errorf("deliverymux/otelmetric: create counter: %w", err)
	}
	duration, err := meter.Float64Histogram("deliverymux.producer.callback.duration",
		metric.WithDescription("Time spent in the delivery callback."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("deliverymux/otelmetric: create histogram: %w", err)
	}
	return &Collector{delivered: delivered, duration: duration}, nil
}

func (c *Collector) DeliveryReported(topic string, err core.RespErr, d time.Duration) {
	ctx := context.Background()
	result := "success"
	if err.IsError() {
		result = err.String()
	}
	c.delivered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("result", result),
		attribute.Int("code", int(err)),
	))
	c.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("topic", topic)))
}

var _ middleware.MetricsCollector = (*Collector)(nil)
