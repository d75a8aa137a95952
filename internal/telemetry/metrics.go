package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsCreated        = prometheus.NewCounter(prometheus.CounterOpts{Name: "planner_jobs_created_total", Help: "Planning jobs accepted"})
	RateLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "planner_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	JobsSucceeded      = prometheus.NewCounter(prometheus.CounterOpts{Name: "planner_jobs_succeeded_total", Help: "Jobs that reached SUCCEEDED"})
	JobsFailed         = prometheus.NewCounter(prometheus.CounterOpts{Name: "planner_jobs_failed_total", Help: "Jobs that reached FAILED"})
	InvalidTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "planner_invalid_transitions_total", Help: "Rejected lifecycle transitions"}, []string{"op"})
	LaunchRejects      = prometheus.NewCounter(prometheus.CounterOpts{Name: "planner_launch_rejects_total", Help: "Jobs the executor refused to launch"})
	LeaseReclaims      = prometheus.NewCounter(prometheus.CounterOpts{Name: "planner_lease_reclaims_total", Help: "Jobs whose worker lease expired"})
	JobsDeadLettered   = prometheus.NewCounter(prometheus.CounterOpts{Name: "planner_dead_letter_total", Help: "Jobs moved to DLQ"})
	ToolCalls          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "planner_tool_calls_total", Help: "Agent tool invocations"}, []string{"tool", "outcome"})
	QueueDepthGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "planner_queue_depth", Help: "Jobs waiting in the ready queue"})
	InFlightGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "planner_jobs_inflight", Help: "Jobs currently executing"})
	PlanDuration       = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "planner_plan_duration_seconds",
		Help:    "Wall time of planner invocations",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
	})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsCreated,
			RateLimitRejects,
			JobsSucceeded,
			JobsFailed,
			InvalidTransitions,
			LaunchRejects,
			LeaseReclaims,
			JobsDeadLettered,
			ToolCalls,
			QueueDepthGauge,
			InFlightGauge,
			PlanDuration,
		)
	})
	return promhttp.Handler()
}
