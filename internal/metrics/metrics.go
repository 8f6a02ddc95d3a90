// Package metrics provides Prometheus metrics for the orchestration engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the orchestrator.
type Metrics struct {
	TasksEnqueued    *prometheus.CounterVec
	TasksClaimed     *prometheus.CounterVec
	TasksCompleted   *prometheus.CounterVec
	TasksFailed      *prometheus.CounterVec
	PhaseTransitions *prometheus.CounterVec
	DegradedContexts prometheus.Counter
	Escalations      *prometheus.CounterVec
	ClaimLatency     prometheus.Histogram

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TasksEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tasks_enqueued_total",
				Help: "Tasks enqueued by agent role and task type.",
			},
			[]string{"to_agent", "task_type"},
		),
		TasksClaimed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tasks_claimed_total",
				Help: "Tasks claimed by agent role.",
			},
			[]string{"agent"},
		),
		TasksCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tasks_completed_total",
				Help: "Tasks completed by agent role.",
			},
			[]string{"agent"},
		),
		TasksFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tasks_failed_total",
				Help: "Tasks failed by agent role and whether a retry was enqueued.",
			},
			[]string{"agent", "retried"},
		),
		PhaseTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_phase_transitions_total",
				Help: "Phase transitions by target phase and kind (advance or forced).",
			},
			[]string{"phase", "kind"},
		),
		DegradedContexts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "conductor_degraded_contexts_total",
				Help: "Context payloads assembled without semantic search.",
			},
		),
		Escalations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_escalations_total",
				Help: "Durable needs-human-attention records by reason.",
			},
			[]string{"reason"},
		),
		ClaimLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "conductor_claim_latency_seconds",
				Help:    "Latency of the atomic claim operation.",
				Buckets: prometheus.DefBuckets,
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.TasksEnqueued)
	reg.MustRegister(m.TasksClaimed)
	reg.MustRegister(m.TasksCompleted)
	reg.MustRegister(m.TasksFailed)
	reg.MustRegister(m.PhaseTransitions)
	reg.MustRegister(m.DegradedContexts)
	reg.MustRegister(m.Escalations)
	reg.MustRegister(m.ClaimLatency)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
