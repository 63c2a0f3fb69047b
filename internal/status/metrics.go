package status

import (
	"github.com/prometheus/client_golang/prometheus"

	"fieldsync/internal/models"
)

// Metrics mirrors the sync snapshot into prometheus gauges and counts replay
// activity. Served on the admin mux under /metrics.
type Metrics struct {
	pending  prometheus.Gauge
	inFlight prometheus.Gauge
	failed   prometheus.Gauge
	online   prometheus.Gauge

	passesTotal   prometheus.Counter
	attemptsTotal *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldsync_queue_pending",
			Help: "Mutation records waiting to be replayed.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldsync_queue_in_flight",
			Help: "Mutation records currently being sent.",
		}),
		failed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldsync_queue_failed",
			Help: "Mutation records that exhausted retries or were rejected.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldsync_online",
			Help: "Whether the backend is currently reachable (1) or not (0).",
		}),
		passesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_dispatch_passes_total",
			Help: "Completed replay passes.",
		}),
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_attempts_total",
			Help: "Remote call attempts by outcome.",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.pending, m.inFlight, m.failed, m.online, m.passesTotal, m.attemptsTotal)
	}
	return m
}

func (m *Metrics) Observe(snap models.SyncSnapshot) {
	m.pending.Set(float64(snap.PendingCount))
	m.inFlight.Set(float64(snap.InFlightCount))
	m.failed.Set(float64(snap.FailedCount))
	if snap.Online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
}

func (m *Metrics) PassCompleted() {
	m.passesTotal.Inc()
}

// AttemptOutcome values for the attempts counter.
const (
	OutcomeSuccess      = "success"
	OutcomeRetryable    = "retryable"
	OutcomeNonRetryable = "non_retryable"
	OutcomeConflict     = "conflict"
)

func (m *Metrics) AttemptFinished(outcome string) {
	m.attemptsTotal.WithLabelValues(outcome).Inc()
}
