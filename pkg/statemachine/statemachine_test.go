package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"orchestrator/pkg/domain"
)

func TestEventTransitions(t *testing.T) {
	assert.True(t, EventTransitions.IsValid(domain.EventQueued, domain.EventProcessing))
	assert.True(t, EventTransitions.IsValid(domain.EventRetry, domain.EventProcessing))
	assert.True(t, EventTransitions.IsValid(domain.EventProcessing, domain.EventCompleted))
	assert.True(t, EventTransitions.IsValid(domain.EventProcessing, domain.EventFailed))
	assert.True(t, EventTransitions.IsValid(domain.EventProcessing, domain.EventRetry))
	assert.True(t, EventTransitions.IsValid(domain.EventProcessing, domain.EventQueued), "stale-lease sweep")

	// Terminal statuses accept no further transitions.
	for _, terminal := range []domain.EventStatus{domain.EventCompleted, domain.EventFailed} {
		for _, to := range []domain.EventStatus{domain.EventQueued, domain.EventProcessing, domain.EventRetry, domain.EventCompleted, domain.EventFailed} {
			assert.False(t, EventTransitions.IsValid(terminal, to), "%s -> %s", terminal, to)
		}
	}

	assert.False(t, EventTransitions.IsValid(domain.EventQueued, domain.EventCompleted))
	assert.False(t, EventTransitions.IsValid(domain.EventRetry, domain.EventCompleted))
}

func TestScenarioTransitions(t *testing.T) {
	assert.True(t, ScenarioTransitions.IsValid(domain.ScenarioPending, domain.ScenarioInitializing))
	assert.True(t, ScenarioTransitions.IsValid(domain.ScenarioInitializing, domain.ScenarioRunning))
	assert.True(t, ScenarioTransitions.IsValid(domain.ScenarioRunning, domain.ScenarioPaused))
	assert.True(t, ScenarioTransitions.IsValid(domain.ScenarioPaused, domain.ScenarioRunning), "running<->paused is the one non-monotonic pair")
	assert.True(t, ScenarioTransitions.IsValid(domain.ScenarioRunning, domain.ScenarioTerminated))
	assert.True(t, ScenarioTransitions.IsValid(domain.ScenarioRunning, domain.ScenarioCompleted))

	assert.False(t, ScenarioTransitions.IsValid(domain.ScenarioPending, domain.ScenarioRunning))
	assert.False(t, ScenarioTransitions.IsValid(domain.ScenarioRunning, domain.ScenarioPending))

	for _, terminal := range []domain.ScenarioStatus{domain.ScenarioTerminated, domain.ScenarioCompleted, domain.ScenarioFailed} {
		assert.False(t, ScenarioTransitions.IsValid(terminal, domain.ScenarioRunning))
		assert.False(t, ScenarioTransitions.IsValid(terminal, domain.ScenarioPaused))
	}
}

func TestSourceStates(t *testing.T) {
	sources := EventTransitions.SourceStates(domain.EventProcessing)
	assert.ElementsMatch(t, []domain.EventStatus{domain.EventQueued, domain.EventRetry}, sources)
}

func TestNilTableAllowsEverything(t *testing.T) {
	var table Table[domain.EventStatus]
	assert.True(t, table.IsValid(domain.EventCompleted, domain.EventQueued))
}
