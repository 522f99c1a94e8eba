package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.Reservation("ok")
	m.Reservation("ok")
	m.Reservation("slots_full")
	m.TrustAdjusted("picked_success")
	m.WindowsRolled(4)
	m.SetQueueDepth(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Reservations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reservations.WithLabelValues("slots_full")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.RolledOver))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueDepth))

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_RegisterIdempotent(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	assert.NotPanics(t, func() { m.Register(registry) })
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Reservation("ok")
		m.EventFired("summary", "ok")
		m.DropFinalized()
		m.SetQueueDepth(1)
	})
}
