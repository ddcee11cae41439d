package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SetConnected(true)
		c.Reconnect("backoff")
		c.Dispatched()
		c.Dropped("malformed")
		c.HandlerPanic()
		c.Frame("accepted")
		c.SetEntities(3)
		c.Recompute()
		c.StoreError("set")
	})
}

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.SetConnected(true)
	c.Reconnect("backoff")
	c.Reconnect("backoff")
	c.Reconnect("graceful")
	c.Frame("accepted")
	c.Frame("stale")
	c.Recompute()

	assert.Equal(t, float64(1), testutil.ToFloat64(c.connected))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.reconnects.WithLabelValues("backoff")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.reconnects.WithLabelValues("graceful")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.frames.WithLabelValues("stale")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.recomputes))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
