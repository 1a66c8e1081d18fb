// Package observability holds the Prometheus instruments of the daemon.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "locremind"

// Run outcomes.
const (
	OutcomePosted      = "posted"
	OutcomeThrottled   = "throttled"
	OutcomeVisible     = "already_visible"
	OutcomeNoCandidate = "no_candidate"
	OutcomeCancelled   = "cancelled"
	OutcomeFailed      = "failed"
)

// Metrics groups all Prometheus instruments used by the daemon.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Runs          *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	Posted        prometheus.Counter
	HistoryPruned prometheus.Counter
	HistorySize   prometheus.Gauge
	JobStarts     *prometheus.CounterVec
	Reschedules   *prometheus.CounterVec
}

// NewMetrics registers all instruments on a fresh registry, together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := newMetrics(reg)
	m.registry = reg
	return m
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "decision_runs_total",
			Help:      "Decision runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "decision_run_duration_seconds",
			Help:      "Wall time of a decision run.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}),
		Posted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "notifications_posted_total",
			Help:      "Reminder notifications posted.",
		}),
		HistoryPruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "history_pruned_total",
			Help:      "Already-notified entries dropped because the grant is gone.",
		}),
		HistorySize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "history_entries",
			Help:      "Entries in the already-notified history after the last run.",
		}),
		JobStarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "job_starts_total",
			Help:      "Job start requests by job id and result.",
		}, []string{"job", "result"}),
		Reschedules: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "job_reschedules_total",
			Help:      "Jobs re-armed after being stopped.",
		}, []string{"job"}),
	}
}

// ObserveRun records the outcome and duration of one decision run.
func (m *Metrics) ObserveRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// NotificationPosted counts a posted reminder.
func (m *Metrics) NotificationPosted() {
	if m == nil {
		return
	}
	m.Posted.Inc()
}

// PrunedHistory counts entries dropped from the history.
func (m *Metrics) PrunedHistory(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.HistoryPruned.Add(float64(n))
}

// SetHistorySize records the current history size.
func (m *Metrics) SetHistorySize(n int) {
	if m == nil {
		return
	}
	m.HistorySize.Set(float64(n))
}

// JobStarted records a start request for job.
func (m *Metrics) JobStarted(job int, accepted bool) {
	if m == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	m.JobStarts.WithLabelValues(strconv.Itoa(job), result).Inc()
}

// JobRescheduled records a job re-armed after a stop.
func (m *Metrics) JobRescheduled(job int) {
	if m == nil {
		return
	}
	m.Reschedules.WithLabelValues(strconv.Itoa(job)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
