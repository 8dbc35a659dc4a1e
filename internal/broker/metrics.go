package broker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics carries the Prometheus instruments shared by the workers, the
// dispatcher and both executors. A nil *Metrics disables instrumentation;
// every method is nil-safe so callers never have to guard.
type Metrics struct {
	settled      *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	published    *prometheus.CounterVec
	tickDuration *prometheus.HistogramVec
	heartbeatAge *prometheus.GaugeVec
}

// NewMetrics registers the relay instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		settled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_messages_settled_total",
				Help: "Messages moved to a final status, per queue and status",
			},
			[]string{"queue", "status"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_processor_outcomes_total",
				Help: "Processor invocation outcomes, per queue and outcome kind",
			},
			[]string{"queue", "outcome"},
		),
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_messages_dispatched_total",
				Help: "Messages produced by the dispatcher, per queue and transport",
			},
			[]string{"queue", "transport"},
		),
		tickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_worker_tick_duration_seconds",
				Help:    "Duration of one worker tick including batch processing",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
		heartbeatAge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relay_queue_heartbeat_age_seconds",
				Help: "Seconds since the owning worker last refreshed the manifest heartbeat",
			},
			[]string{"queue"},
		),
	}
	reg.MustRegister(m.settled, m.outcomes, m.published, m.tickDuration, m.heartbeatAge)
	return m
}

// MessageSettled counts a message reaching a final status.
func (m *Metrics) MessageSettled(queue string, status Status) {
	if m == nil {
		return
	}
	m.settled.WithLabelValues(queue, string(status)).Inc()
}

// ObserveOutcome counts one processor invocation outcome.
func (m *Metrics) ObserveOutcome(queue string, kind OutcomeKind) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(queue, kind.String()).Inc()
}

// MessageDispatched counts a message produced by the dispatcher.
func (m *Metrics) MessageDispatched(queue, transport string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(queue, transport).Inc()
}

// ObserveTick records the duration of one worker tick.
func (m *Metrics) ObserveTick(queue string, d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.WithLabelValues(queue).Observe(d.Seconds())
}

// SetHeartbeatAge exposes the manifest heartbeat age for a queue.
func (m *Metrics) SetHeartbeatAge(queue string, age time.Duration) {
	if m == nil {
		return
	}
	m.heartbeatAge.WithLabelValues(queue).Set(age.Seconds())
}
