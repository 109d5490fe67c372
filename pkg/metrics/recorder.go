// Package metrics instruments the event queue, engine workers, and
// scenario lifecycle with Prometheus counters and histograms, covering
// lease throughput, retry/terminal failures, lease and engine sweeps,
// scenario status transitions, and per-scenario LLM token usage.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsLeasedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_events_leased_total",
			Help: "Total number of events leased by engine type.",
		},
		[]string{"engine_type"},
	)

	eventsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_events_completed_total",
			Help: "Total number of events completed by engine type and event type.",
		},
		[]string{"engine_type", "event_type"},
	)

	eventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_events_failed_total",
			Help: "Total number of processing failures by engine type and terminal/retry outcome.",
		},
		[]string{"engine_type", "outcome"},
	)

	leaseSweepReclaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_lease_sweep_reclaimed_total",
			Help: "Total number of stale leases reclaimed by the sweep job.",
		},
		[]string{},
	)

	engineStaleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_engines_marked_stale_total",
			Help: "Total number of engines marked unhealthy by the stale-heartbeat sweep.",
		},
		[]string{},
	)

	scenarioTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_scenario_transitions_total",
			Help: "Total number of scenario run status transitions.",
		},
		[]string{"status"},
	)

	llmTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_llm_tokens_total",
			Help: "Total prompt/completion tokens consumed by Engine Worker LLM calls.",
		},
		[]string{"scenario_run_id", "engine_type", "direction"},
	)

	llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_llm_request_duration_seconds",
			Help:    "Duration of an Engine Worker's single-shot LLM completion call.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"engine_type"},
	)
)

// RecordEventsLeased records a batch lease of n events for engineType.
func RecordEventsLeased(engineType string, n int) {
	if n <= 0 {
		return
	}
	eventsLeasedTotal.WithLabelValues(engineType).Add(float64(n))
}

// RecordEventCompleted records one successfully completed event.
func RecordEventCompleted(engineType, eventType string) {
	eventsCompletedTotal.WithLabelValues(engineType, eventType).Inc()
}

// RecordEventFailed records one processing failure. outcome is "retry" or
// "terminal" depending on whether the event has retries remaining.
func RecordEventFailed(engineType, outcome string) {
	eventsFailedTotal.WithLabelValues(engineType, outcome).Inc()
}

// RecordLeaseSweepReclaimed records n leases reclaimed by a stale-lease sweep.
func RecordLeaseSweepReclaimed(n int64) {
	if n <= 0 {
		return
	}
	leaseSweepReclaimedTotal.WithLabelValues().Add(float64(n))
}

// RecordEnginesMarkedStale records n engines transitioned to unhealthy by
// the stale-heartbeat sweep.
func RecordEnginesMarkedStale(n int64) {
	if n <= 0 {
		return
	}
	engineStaleTotal.WithLabelValues().Add(float64(n))
}

// RecordScenarioTransition records a scenario run entering status.
func RecordScenarioTransition(status string) {
	scenarioTransitionsTotal.WithLabelValues(status).Inc()
}

// RecordLLMTokens records one completion call's prompt and completion token
// counts, labeled by scenario so QueryService can aggregate per-run spend.
func RecordLLMTokens(scenarioRunID, engineType string, promptTokens, completionTokens int) {
	if promptTokens > 0 {
		llmTokensTotal.WithLabelValues(scenarioRunID, engineType, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		llmTokensTotal.WithLabelValues(scenarioRunID, engineType, "completion").Add(float64(completionTokens))
	}
}

// ObserveLLMRequestDuration records how long one Engine Worker LLM call took.
func ObserveLLMRequestDuration(engineType string, seconds float64) {
	llmRequestDuration.WithLabelValues(engineType).Observe(seconds)
}
