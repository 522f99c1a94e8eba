// Package metrics exposes Prometheus collectors for the drop engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Reservations  *prometheus.CounterVec // result
	Outcomes      *prometheus.CounterVec // outcome
	EventsFired   *prometheus.CounterVec // kind, result
	TrustDeltas   *prometheus.CounterVec // rule
	Finalized     prometheus.Counter
	AutoAssigned  prometheus.Counter
	Notifications *prometheus.CounterVec // result
	QueueDepth    prometheus.Gauge
	RolledOver    prometheus.Counter

	registerOnce sync.Once
}

// New creates the collectors and registers them with registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{}
	m.Register(registry)
	return m
}

// Register registers all collectors once. A nil registry leaves them unregistered.
func (m *Metrics) Register(registry prometheus.Registerer) {
	m.registerOnce.Do(func() {
		factory := promauto.With(registry)

		m.Reservations = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alphadrop_reservations_total",
			Help: "Reservation attempts by result",
		}, []string{"result"})
		m.Outcomes = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alphadrop_outcomes_total",
			Help: "Recorded drop outcomes",
		}, []string{"outcome"})
		m.EventsFired = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alphadrop_scheduler_events_total",
			Help: "Timer events fired by kind and result",
		}, []string{"kind", "result"})
		m.TrustDeltas = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alphadrop_trust_adjustments_total",
			Help: "Trust self-learning rule applications",
		}, []string{"rule"})
		m.Finalized = factory.NewCounter(prometheus.CounterOpts{
			Name: "alphadrop_drops_finalized_total",
			Help: "Drops finalized with trust applied",
		})
		m.AutoAssigned = factory.NewCounter(prometheus.CounterOpts{
			Name: "alphadrop_auto_assignments_total",
			Help: "Fallback assignments made at T-1h",
		})
		m.Notifications = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alphadrop_notifications_total",
			Help: "Notification deliveries by result",
		}, []string{"result"})
		m.QueueDepth = factory.NewGauge(prometheus.GaugeOpts{
			Name: "alphadrop_notification_queue_depth",
			Help: "Messages waiting to be sent",
		})
		m.RolledOver = factory.NewCounter(prometheus.CounterOpts{
			Name: "alphadrop_window_rollovers_total",
			Help: "Participant windows advanced by the daily rollover",
		})
	})
}

func (m *Metrics) Reservation(result string) {
	if m == nil {
		return
	}
	m.Reservations.WithLabelValues(result).Inc()
}

func (m *Metrics) Outcome(outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EventFired(kind, result string) {
	if m == nil {
		return
	}
	m.EventsFired.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) TrustAdjusted(rule string) {
	if m == nil {
		return
	}
	m.TrustDeltas.WithLabelValues(rule).Inc()
}

func (m *Metrics) DropFinalized() {
	if m == nil {
		return
	}
	m.Finalized.Inc()
}

func (m *Metrics) AutoAssignment() {
	if m == nil {
		return
	}
	m.AutoAssigned.Inc()
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) WindowsRolled(n int) {
	if m == nil {
		return
	}
	m.RolledOver.Add(float64(n))
}
