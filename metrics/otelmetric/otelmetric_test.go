package otelmetric

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/miladsoleymani/deliverymux/core"
)

func TestCollector(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	c, err := NewCollector(provider.Meter("deliverymux"))
	require.NoError(t, err)

	c.DeliveryReported("orders", core.ErrNoError, time.Millisecond)
	c.DeliveryReported("orders", core.ErrNoError, time.Millisecond)
	c.DeliveryReported("orders", core.ErrMsgTimedOut, time.Millisecond)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	counts := make(map[string]int64)
	var histogramPoints int
	for _, m := range rm.ScopeMetrics[0].Metrics {
		switch data := m.Data.(type) {
		case metricdata.Sum[int64]:
			for _, dp := range data.DataPoints {
				v, ok := dp.Attributes.Value(attribute.Key("result"))
				require.True(t, ok)
				counts[v.AsString()] += dp.Value
			}
		case metricdata.Histogram[float64]:
			for _, dp := range data.DataPoints {
				histogramPoints++
				assert.Equal(t, uint64(3), dp.Count)
			}
		}
	}
	assert.Equal(t, int64(2), counts["success"])
	assert.Equal(t, int64(1), counts[core.ErrMsgTimedOut.String()])
	assert.Len(t, counts, 2)
	assert.Equal(t, 1, histogramPoints)
}

func TestCollector_Noop(t *testing.T) {
	c, err := NewCollector(noop.NewMeterProvider().Meter("deliverymux"))
	require.NoError(t, err)
	assert.NotPanics(t, func() { c.DeliveryReported("orders", core.ErrFail, time.Second) })
}
