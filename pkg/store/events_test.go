package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/pkg/domain"
)

func enqueueTestEvent(t *testing.T, s *Store, scenarioRunID, agentID, eventType string, priority int) *domain.Event {
	t.Helper()
	ev := &domain.Event{
		ID:            uuid.NewString(),
		ScenarioRunID: scenarioRunID,
		TargetAgentID: agentID,
		EventType:     eventType,
		Priority:      priority,
	}
	require.NoError(t, s.EnqueueEvent(ev))
	return ev
}

func TestLeaseEvents_PriorityDescThenCreatedAtAsc(t *testing.T) {
	s := newTestStore(t)
	runID, agentID := seedScenario(t, s, domain.EngineTypeActor)

	low := enqueueTestEvent(t, s, runID, agentID, "actor_speech_generated", 0)
	high := enqueueTestEvent(t, s, runID, agentID, "actor_speech_generated", 5)
	mid := enqueueTestEvent(t, s, runID, agentID, "actor_speech_generated", 2)

	leased, err := s.LeaseEvents("engine-1", domain.EngineTypeActor, nil, 10)
	require.NoError(t, err)
	require.Len(t, leased, 3)
	assert.Equal(t, []string{high.ID, mid.ID, low.ID}, []string{leased[0].ID, leased[1].ID, leased[2].ID})
	for _, e := range leased {
		assert.Equal(t, domain.EventProcessing, e.Status)
		assert.Equal(t, "engine-1", e.LeaseHolder)
		assert.Contains(t, e.ProcessedByEngines, "engine-1")
	}
}

func TestLeaseEvents_EventTypeFilterJoinsCatalog(t *testing.T) {
	s := newTestStore(t)
	runID, agentID := seedScenario(t, s, domain.EngineTypeActor)

	catalogued := enqueueTestEvent(t, s, runID, agentID, "actor_speech_generated", 0)
	enqueueTestEvent(t, s, runID, agentID, "not_in_catalog", 0)

	leased, err := s.LeaseEvents("engine-1", domain.EngineTypeActor, []string{"actor_speech_generated", "not_in_catalog"}, 10)
	require.NoError(t, err)
	require.Len(t, leased, 1, "uncatalogued event type must never lease even when explicitly requested")
	assert.Equal(t, catalogued.ID, leased[0].ID)
}

func TestLeaseEvents_BatchSizeAndEngineTypeScoping(t *testing.T) {
	s := newTestStore(t)
	actorRunID, actorAgentID := seedScenario(t, s, domain.EngineTypeActor)
	_, narratorAgentID := seedScenario(t, s, domain.EngineTypeNarrator)

	enqueueTestEvent(t, s, actorRunID, actorAgentID, "actor_speech_generated", 0)
	enqueueTestEvent(t, s, actorRunID, actorAgentID, "actor_speech_generated", 0)
	enqueueTestEvent(t, s, actorRunID, narratorAgentID, "scene_description_generated", 0)

	leased, err := s.LeaseEvents("engine-1", domain.EngineTypeActor, nil, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, actorAgentID, leased[0].TargetAgentID)
}

func TestFailEvent_RetryThenTerminalFailure(t *testing.T) {
	s := newTestStore(t)
	runID, agentID := seedScenario(t, s, domain.EngineTypeActor)
	ev := enqueueTestEvent(t, s, runID, agentID, "actor_speech_generated", 0)
	_, err := s.db.Exec(`UPDATE events SET max_retries = 2 WHERE id = ?`, ev.ID)
	require.NoError(t, err)

	leased, err := s.LeaseEvents("engine-1", domain.EngineTypeActor, nil, 10)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	require.NoError(t, s.FailEvent(ev.ID, "engine-1", "first failure"))
	afterFirst, err := s.GetEvent(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventRetry, afterFirst.Status)
	assert.Equal(t, 1, afterFirst.RetryCount)
	require.NotNil(t, afterFirst.NextRetryTime)
	assert.WithinDuration(t, time.Now().UTC().Add(domain.RetryBackoff(0)), *afterFirst.NextRetryTime, 5*time.Second)
	assert.Equal(t, "", afterFirst.LeaseHolder)

	// Back-date next_retry_time so the retry is immediately visible again,
	// then re-lease it the way a worker's next poll would.
	_, err = s.db.Exec(`UPDATE events SET next_retry_time = ? WHERE id = ?`, time.Now().UTC().Add(-time.Second), ev.ID)
	require.NoError(t, err)
	leased, err = s.LeaseEvents("engine-1", domain.EngineTypeActor, nil, 10)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	require.NoError(t, s.FailEvent(ev.ID, "engine-1", "second failure"))
	afterSecond, err := s.GetEvent(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventFailed, afterSecond.Status)
	assert.Equal(t, 2, afterSecond.RetryCount)
	assert.Equal(t, "second failure", afterSecond.LastError)
}

func TestFailEvent_LeaseMismatch(t *testing.T) {
	s := newTestStore(t)
	runID, agentID := seedScenario(t, s, domain.EngineTypeActor)
	ev := enqueueTestEvent(t, s, runID, agentID, "actor_speech_generated", 0)

	_, err := s.LeaseEvents("engine-1", domain.EngineTypeActor, nil, 10)
	require.NoError(t, err)

	err = s.FailEvent(ev.ID, "someone-else", "boom")
	assert.ErrorIs(t, err, domain.ErrLeaseMismatch)
}

func TestCompleteEvent_InvalidTransitionFromQueued(t *testing.T) {
	s := newTestStore(t)
	runID, agentID := seedScenario(t, s, domain.EngineTypeActor)
	ev := enqueueTestEvent(t, s, runID, agentID, "actor_speech_generated", 0)

	err := s.CompleteEvent(ev.ID, "", map[string]any{"ok": true})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCompleteEvent_ResetsRetryCount(t *testing.T) {
	s := newTestStore(t)
	runID, agentID := seedScenario(t, s, domain.EngineTypeActor)
	ev := enqueueTestEvent(t, s, runID, agentID, "actor_speech_generated", 0)

	_, err := s.LeaseEvents("engine-1", domain.EngineTypeActor, nil, 10)
	require.NoError(t, err)
	require.NoError(t, s.FailEvent(ev.ID, "engine-1", "transient"))

	_, err = s.db.Exec(`UPDATE events SET next_retry_time = ? WHERE id = ?`, time.Now().UTC().Add(-time.Second), ev.ID)
	require.NoError(t, err)
	_, err = s.LeaseEvents("engine-1", domain.EngineTypeActor, nil, 10)
	require.NoError(t, err)

	require.NoError(t, s.CompleteEvent(ev.ID, "engine-1", map[string]any{"result": "done"}))
	completed, err := s.GetEvent(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventCompleted, completed.Status)
	assert.Equal(t, 0, completed.RetryCount)
	assert.Equal(t, "done", completed.Result["result"])
}

func TestSweepStaleLeases_RevertsExpiredLeaseToQueued(t *testing.T) {
	s := newTestStore(t)
	runID, agentID := seedScenario(t, s, domain.EngineTypeActor)
	ev := enqueueTestEvent(t, s, runID, agentID, "actor_speech_generated", 0)

	_, err := s.LeaseEvents("engine-1", domain.EngineTypeActor, nil, 10)
	require.NoError(t, err)

	_, err = s.db.Exec(`UPDATE events SET lease_deadline = ? WHERE id = ?`, time.Now().UTC().Add(-time.Minute), ev.ID)
	require.NoError(t, err)

	n, err := s.SweepStaleLeases()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	reverted, err := s.GetEvent(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventQueued, reverted.Status)
	assert.Equal(t, "", reverted.LeaseHolder)
	assert.Nil(t, reverted.LeaseDeadline)
}

func TestCountEventsByStatus(t *testing.T) {
	s := newTestStore(t)
	runID, agentID := seedScenario(t, s, domain.EngineTypeActor)
	enqueueTestEvent(t, s, runID, agentID, "actor_speech_generated", 0)
	enqueueTestEvent(t, s, runID, agentID, "actor_speech_generated", 0)
	leased, err := s.LeaseEvents("engine-1", domain.EngineTypeActor, nil, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	counts, err := s.CountEventsByStatus(runID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Queued)
	assert.Equal(t, int64(1), counts.Processing)
	assert.Equal(t, int64(0), counts.Completed)
}
