package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/reminder-engine/pipeline"
	"github.com/warp/reminder-engine/reminder"
)

// Metrics exposes Prometheus collectors for fetches and reconciliations.
// It is the pipeline.Observer of the orchestrator the handler serves.
type Metrics struct {
	registry          *prometheus.Registry
	stageFailures     *prometheus.CounterVec
	staleDiscards     prometheus.Counter
	bookingStatus     *prometheus.GaugeVec
	reconcileDuration prometheus.Histogram
}

var _ pipeline.Observer = (*Metrics)(nil)

// NewMetrics creates collectors on a fresh registry, so several handlers
// (tests) never collide on registration.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reminderd",
				Subsystem: "pipeline",
				Name:      "stage_failures_total",
				Help:      "Fetch stage failures by stage.",
			},
			[]string{"stage"},
		),
		staleDiscards: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "reminderd",
				Subsystem: "pipeline",
				Name:      "stale_discards_total",
				Help:      "Loads discarded because a newer selection overtook them.",
			},
		),
		bookingStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "reminderd",
				Subsystem: "reconcile",
				Name:      "bookings",
				Help:      "Bookings per reminder status in the last reconciliation of an agent.",
			},
			[]string{"agent", "status"},
		),
		reconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "reminderd",
				Subsystem: "reconcile",
				Name:      "duration_seconds",
				Help:      "Time spent reconciling one snapshot.",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.stageFailures,
		m.staleDiscards,
		m.bookingStatus,
		m.reconcileDuration,
	)
	return m
}

func (m *Metrics) StageFailed(stage pipeline.Stage) {
	m.stageFailures.WithLabelValues(string(stage)).Inc()
}

func (m *Metrics) StaleDiscarded() {
	m.staleDiscards.Inc()
}

// ObserveReconcile records one reconciliation of agentID. Every status gets
// a sample so that vanished statuses drop to zero.
func (m *Metrics) ObserveReconcile(agentID string, counts map[reminder.Status]int, took time.Duration) {
	m.reconcileDuration.Observe(took.Seconds())
	for _, st := range reminder.AllStatuses {
		m.bookingStatus.WithLabelValues(agentID, string(st)).Set(float64(counts[st]))
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
