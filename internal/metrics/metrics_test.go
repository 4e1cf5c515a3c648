package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPOSMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveEvaluation("commit", 250*time.Microsecond, []string{"bogo", "percent", "bogo"})
	m.ObserveSale(5000, 2500)
	m.ObserveSale(-10, 0)
	m.IncRejected("not_sellable")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.applied.WithLabelValues("bogo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.applied.WithLabelValues("percent")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sales))
	assert.Equal(t, 5000.0, testutil.ToFloat64(m.netCents))
	assert.Equal(t, 2500.0, testutil.ToFloat64(m.discount))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("not_sellable")))

	count, err := testutil.GatherAndCount(reg, "pos_promo_evaluation_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPOSMetricsNilSafe(t *testing.T) {
	var m *POSMetrics
	assert.NotPanics(t, func() {
		m.ObserveEvaluation("quote", time.Millisecond, []string{"bogo"})
		m.ObserveSale(1, 1)
		m.IncRejected("x")
	})

	unregistered := New(nil)
	assert.NotPanics(t, func() {
		unregistered.ObserveSale(1, 1)
	})
}
