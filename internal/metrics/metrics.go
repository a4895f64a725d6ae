// Package metrics holds the Prometheus collectors, exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskpilot_turns_total",
		Help: "Conversation turns processed, by outcome.",
	}, []string{"outcome"})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskpilot_turn_duration_seconds",
		Help:    "End-to-end turn latency.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	StepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskpilot_steps_total",
		Help: "Plan steps executed, by status.",
	}, []string{"status"})

	PlanParseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskpilot_plan_parse_failures_total",
		Help: "Model replies that contained no parseable plan.",
	})

	ClassificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskpilot_classifications_total",
		Help: "Intent classifications, by source.",
	}, []string{"source"})

	BusyRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskpilot_busy_rejections_total",
		Help: "Turns rejected because the thread already had a turn in flight.",
	})

	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskpilot_llm_requests_total",
		Help: "Completion requests, by result.",
	}, []string{"result"})
)
