package prom

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/deliverymux/core"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector("deliverymux", reg)
	require.NoError(t, err)

	c.DeliveryReported("orders", core.ErrNoError, time.Millisecond)
	c.DeliveryReported("orders", core.ErrNoError, time.Millisecond)
	c.DeliveryReported("orders", core.ErrMsgTimedOut, time.Millisecond)
	c.DeliveryReported("events", core.ErrNoError, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Delivered.WithLabelValues("orders", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Delivered.WithLabelValues("orders", core.ErrMsgTimedOut.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Delivered.WithLabelValues("events", "success")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.Duration))
}

func TestNewCollector_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector("deliverymux", reg)
	require.NoError(t, err)

	_, err = NewCollector("deliverymux", reg)
	assert.Error(t, err)
}

func TestNewCollector_Unregistered(t *testing.T) {
	c, err := NewCollector("deliverymux", nil)
	require.NoError(t, err)
	c.DeliveryReported("orders", core.ErrNoError, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Delivered.WithLabelValues("orders", "success")))
}
