package statemachine

import "orchestrator/pkg/domain"

// EventTransitions is the valid-transition table for domain.EventStatus:
// queued and retry lead into processing via lease, processing resolves to
// completed/failed/retry, retry returns to processing on the next
// successful lease, and completed/failed are terminal.
var EventTransitions = Table[domain.EventStatus]{
	domain.EventQueued: {domain.EventProcessing},
	domain.EventProcessing: {
		domain.EventCompleted,
		domain.EventFailed,
		domain.EventRetry,
		domain.EventQueued, // stale-lease sweep reverts to queued
	},
	domain.EventRetry:     {domain.EventProcessing},
	domain.EventCompleted: {},
	domain.EventFailed:    {},
}

// ScenarioTransitions is the valid-transition table for domain.ScenarioStatus:
// monotonic except running<->paused; terminal statuses never transition
// again.
var ScenarioTransitions = Table[domain.ScenarioStatus]{
	domain.ScenarioPending: {
		domain.ScenarioInitializing,
		domain.ScenarioFailed,
	},
	domain.ScenarioInitializing: {
		domain.ScenarioRunning,
		domain.ScenarioFailed,
	},
	domain.ScenarioRunning: {
		domain.ScenarioPaused,
		domain.ScenarioTerminated,
		domain.ScenarioCompleted,
		domain.ScenarioFailed,
	},
	domain.ScenarioPaused: {
		domain.ScenarioRunning,
		domain.ScenarioTerminated,
		domain.ScenarioCompleted,
		domain.ScenarioFailed,
	},
	domain.ScenarioTerminated: {},
	domain.ScenarioCompleted:  {},
	domain.ScenarioFailed:     {},
}
