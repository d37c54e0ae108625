package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	m := c.Channel(3, "1C")
	m.Acquisition(true, 0.7)
	m.Acquisition(false, 0.01)
	m.Lock(45, 0.9)
	m.State(4)
	m.LossOfLock()
	m.Observable()
	m.Observable()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.acqAttempts.WithLabelValues("1C", "positive")))
	assert.Equal(t, 0.01, testutil.ToFloat64(c.acqStatistic.WithLabelValues("3", "1C")))
	assert.Equal(t, 45.0, testutil.ToFloat64(c.cn0.WithLabelValues("3", "1C")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.state.WithLabelValues("3", "1C")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.observables.WithLabelValues("3", "1C")))

	n, err := testutil.GatherAndCount(reg, "gnss_tracking_loss_of_lock_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilSafe(t *testing.T) {
	var c *Collectors
	m := c.Channel(0, "1C")
	assert.Nil(t, m)
	assert.NotPanics(t, func() {
		m.Acquisition(true, 1)
		m.Assign(1)
		m.Lock(1, 1)
		m.State(1)
		m.LossOfLock()
		m.Observable()
	})
}
