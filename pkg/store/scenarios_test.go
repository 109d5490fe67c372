package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/pkg/domain"
)

func TestScenarioRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	run := &domain.ScenarioRun{ID: uuid.NewString(), TemplateName: "tmpl", Name: "run"}
	require.NoError(t, s.CreateScenarioRun(run))

	loaded, err := s.GetScenarioRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScenarioPending, loaded.Status)
	assert.Nil(t, loaded.StartedAt)

	require.NoError(t, s.TransitionScenarioStatus(run.ID, domain.ScenarioInitializing))
	require.NoError(t, s.TransitionScenarioStatus(run.ID, domain.ScenarioRunning))

	running, err := s.GetScenarioRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScenarioRunning, running.Status)
	require.NotNil(t, running.StartedAt, "started_at stamped on first transition to running")
}

func TestTransitionScenarioStatus_RejectsSkippedStates(t *testing.T) {
	s := newTestStore(t)
	run := &domain.ScenarioRun{ID: uuid.NewString(), TemplateName: "tmpl"}
	require.NoError(t, s.CreateScenarioRun(run))

	err := s.TransitionScenarioStatus(run.ID, domain.ScenarioRunning)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestTransitionScenarioStatus_TerminalNeverTransitions(t *testing.T) {
	s := newTestStore(t)
	run := &domain.ScenarioRun{ID: uuid.NewString(), TemplateName: "tmpl"}
	require.NoError(t, s.CreateScenarioRun(run))
	require.NoError(t, s.TransitionScenarioStatus(run.ID, domain.ScenarioInitializing))
	require.NoError(t, s.TransitionScenarioStatus(run.ID, domain.ScenarioRunning))
	require.NoError(t, s.TransitionScenarioStatus(run.ID, domain.ScenarioCompleted))

	err := s.TransitionScenarioStatus(run.ID, domain.ScenarioRunning)
	assert.ErrorIs(t, err, domain.ErrTerminalScenario)
}

func TestPauseResumeTransition(t *testing.T) {
	s := newTestStore(t)
	run := &domain.ScenarioRun{ID: uuid.NewString(), TemplateName: "tmpl"}
	require.NoError(t, s.CreateScenarioRun(run))
	require.NoError(t, s.TransitionScenarioStatus(run.ID, domain.ScenarioInitializing))
	require.NoError(t, s.TransitionScenarioStatus(run.ID, domain.ScenarioRunning))
	require.NoError(t, s.TransitionScenarioStatus(run.ID, domain.ScenarioPaused))
	require.NoError(t, s.TransitionScenarioStatus(run.ID, domain.ScenarioRunning))
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	s := newTestStore(t)
	run := &domain.ScenarioRun{ID: uuid.NewString(), TemplateName: "tmpl"}
	require.NoError(t, s.CreateScenarioRun(run))

	snapshot := map[string]any{
		"current_turn": "agent-b",
		"turn_history": []any{"agent-a", "agent-b"},
	}
	require.NoError(t, s.SaveSnapshot(run.ID, snapshot))

	loaded, err := s.LoadSnapshot(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "agent-b", loaded["current_turn"])
	assert.Len(t, loaded["turn_history"], 2)

	// The snapshot is also mirrored under the run's results.
	withResults, err := s.GetScenarioRun(run.ID)
	require.NoError(t, err)
	assert.Contains(t, withResults.Results, "state_snapshot")
	assert.Contains(t, withResults.Results, "last_snapshot_time")
}

func TestLoadSnapshot_CorruptedJSON(t *testing.T) {
	s := newTestStore(t)
	run := &domain.ScenarioRun{ID: uuid.NewString(), TemplateName: "tmpl"}
	require.NoError(t, s.CreateScenarioRun(run))

	_, err := s.db.Exec(`UPDATE scenario_runs SET state_snapshot_json = '{"current_turn": ' WHERE id = ?`, run.ID)
	require.NoError(t, err)

	_, err = s.LoadSnapshot(run.ID)
	assert.ErrorIs(t, err, domain.ErrCorruptedSnapshot)
}

func TestCompleteScenarioRun_MergesResults(t *testing.T) {
	s := newTestStore(t)
	run := &domain.ScenarioRun{ID: uuid.NewString(), TemplateName: "tmpl"}
	require.NoError(t, s.CreateScenarioRun(run))
	require.NoError(t, s.SaveSnapshot(run.ID, map[string]any{"current_turn": "agent-a"}))

	require.NoError(t, s.CompleteScenarioRun(run.ID, domain.ScenarioTerminated, map[string]any{
		"termination_reason": "user",
	}))

	done, err := s.GetScenarioRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScenarioTerminated, done.Status)
	assert.Equal(t, "user", done.Results["termination_reason"])
	assert.Contains(t, done.Results, "state_snapshot", "pre-existing results survive completion")
	require.NotNil(t, done.CompletedAt)

	err = s.CompleteScenarioRun(run.ID, domain.ScenarioFailed, nil)
	assert.ErrorIs(t, err, domain.ErrTerminalScenario)
}

func TestCompleteScenarioRun_RejectsNonTerminalStatus(t *testing.T) {
	s := newTestStore(t)
	run := &domain.ScenarioRun{ID: uuid.NewString(), TemplateName: "tmpl"}
	require.NoError(t, s.CreateScenarioRun(run))

	err := s.CompleteScenarioRun(run.ID, domain.ScenarioRunning, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSetCurrentTurn(t *testing.T) {
	s := newTestStore(t)
	run := &domain.ScenarioRun{ID: uuid.NewString(), TemplateName: "tmpl"}
	require.NoError(t, s.CreateScenarioRun(run))

	require.NoError(t, s.SetCurrentTurn(run.ID, 4))
	loaded, err := s.GetScenarioRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.CurrentTurn)
}

func TestListActiveScenarioRuns_ExcludesTerminal(t *testing.T) {
	s := newTestStore(t)

	active := &domain.ScenarioRun{ID: uuid.NewString(), TemplateName: "tmpl"}
	require.NoError(t, s.CreateScenarioRun(active))

	done := &domain.ScenarioRun{ID: uuid.NewString(), TemplateName: "tmpl"}
	require.NoError(t, s.CreateScenarioRun(done))
	require.NoError(t, s.CompleteScenarioRun(done.ID, domain.ScenarioCompleted, nil))

	runs, err := s.ListActiveScenarioRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, active.ID, runs[0].ID)
}

func TestAgentInstanceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	runID, agentID := seedScenario(t, s, domain.EngineTypeAnalyst)

	agent, err := s.GetAgentInstance(agentID)
	require.NoError(t, err)
	assert.Equal(t, runID, agent.ScenarioRunID)
	assert.Equal(t, "lead", agent.RoleInScenario)
	assert.Equal(t, domain.EngineTypeAnalyst, agent.EngineType)

	agents, err := s.ListAgentInstances(runID)
	require.NoError(t, err)
	require.Len(t, agents, 1)

	_, err = s.GetAgentInstance("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
