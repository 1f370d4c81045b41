// Package metrics exposes Prometheus collectors for the wizard engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task outcomes
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeTimedOut  = "timed_out"
	OutcomeStale     = "stale"
	OutcomeRejected  = "rejected"
)

var (
	tasksStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcpwizard",
		Name:      "tasks_started_total",
		Help:      "Background generation tasks started, by kind.",
	}, []string{"kind"})

	tasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcpwizard",
		Name:      "tasks_finished_total",
		Help:      "Background generation tasks finished, by kind and outcome.",
	}, []string{"kind", "outcome"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mcpwizard",
		Name:      "task_duration_seconds",
		Help:      "Wall time of background generation tasks.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"kind"})

	tasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mcpwizard",
		Name:      "tasks_in_flight",
		Help:      "Background generation tasks currently executing.",
	})

	stepTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcpwizard",
		Name:      "step_transitions_total",
		Help:      "Wizard step transitions, by source and target step.",
	}, []string{"from", "to"})

	operationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcpwizard",
		Name:      "operation_errors_total",
		Help:      "Rejected wizard operations, by operation and error class.",
	}, []string{"operation", "class"})
)

// TaskStarted records a task entering execution
func TaskStarted(kind string) {
	tasksStarted.WithLabelValues(kind).Inc()
	tasksInFlight.Inc()
}

// TaskFinished records a task leaving execution
func TaskFinished(kind, outcome string, elapsed time.Duration) {
	tasksInFlight.Dec()
	tasksFinished.WithLabelValues(kind, outcome).Inc()
	taskDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// TaskRejected records a job refused by the in-flight guard
func TaskRejected(kind string) {
	tasksFinished.WithLabelValues(kind, OutcomeRejected).Inc()
}

// TaskDropped records a job whose task was superseded before it started
func TaskDropped(kind string) {
	tasksFinished.WithLabelValues(kind, OutcomeStale).Inc()
}

// Transition records a step change
func Transition(from, to string) {
	if from == to {
		return
	}
	stepTransitions.WithLabelValues(from, to).Inc()
}

// OperationError records a rejected operation
func OperationError(operation, class string) {
	operationErrors.WithLabelValues(operation, class).Inc()
}
