// Package metrics exposes Prometheus collectors for routing, judge calls,
// background jobs and live sessions. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "moodtune"

// Job outcomes.
const (
	OutcomeCompleted  = "completed"
	OutcomeFailed     = "failed"
	OutcomeCancelled  = "cancelled"
	OutcomeSuperseded = "superseded"
)

type Metrics struct {
	routes        *prometheus.CounterVec
	judgeFailures *prometheus.CounterVec
	jobsStarted   prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	submitRetries prometheus.Counter
	jobsRunning   prometheus.Gauge
	sessions      prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		routes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Routing decisions by route.",
		}, []string{"route"}),
		judgeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_failures_total",
			Help:      "Failed classifier calls by call kind.",
		}, []string{"call"}),
		jobsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Music generation jobs started.",
		}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Music generation jobs finished by outcome.",
		}, []string{"outcome"}),
		submitRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_submit_retries_total",
			Help:      "Submit attempts that returned no task id and were retried.",
		}),
		jobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Music generation jobs currently registered.",
		}),
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Live sessions.",
		}),
	}
}

func (m *Metrics) ObserveRoute(route string) {
	if m == nil {
		return
	}
	m.routes.WithLabelValues(route).Inc()
}

func (m *Metrics) JudgeFailed(call string) {
	if m == nil {
		return
	}
	m.judgeFailures.WithLabelValues(call).Inc()
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsStarted.Inc()
	m.jobsRunning.Inc()
}

func (m *Metrics) JobFinished(outcome string) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(outcome).Inc()
	m.jobsRunning.Dec()
}

func (m *Metrics) SubmitRetried() {
	if m == nil {
		return
	}
	m.submitRetries.Inc()
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}
