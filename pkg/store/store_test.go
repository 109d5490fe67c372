package store

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"orchestrator/pkg/domain"
)

// newTestStore opens a fresh, file-backed sqlite database for one test,
// using the same Initialize/DB singleton lifecycle cmd/coordinator uses.
// store.Reset is test-only precisely for this: each test gets its own
// schema instead of sharing process-wide state.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	require.NoError(t, Reset())
	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, Initialize(dbPath))
	t.Cleanup(func() { _ = Reset() })
	return New(DB())
}

// seedScenario creates a scenario template, a pending scenario run, and one
// agent instance bound to engineType, returning the agent instance id that
// events should target.
func seedScenario(t *testing.T, s *Store, engineType domain.EngineType) (scenarioRunID, agentID string) {
	t.Helper()

	tmpl := &domain.ScenarioTemplate{
		Name:       "test-template",
		AgentRoles: map[string]domain.AgentRoleSpec{"lead": {TemplateName: "agent-tmpl", EngineType: engineType}},
	}
	require.NoError(t, s.PutScenarioTemplate(tmpl))

	agentTmpl := &domain.AgentTemplate{Name: "agent-tmpl", EngineType: engineType}
	require.NoError(t, s.PutAgentTemplate(agentTmpl))

	run := &domain.ScenarioRun{ID: uuid.NewString(), TemplateName: tmpl.Name, Name: "run"}
	require.NoError(t, s.CreateScenarioRun(run))

	agent := &domain.AgentInstance{
		ID:             uuid.NewString(),
		ScenarioRunID:  run.ID,
		TemplateName:   agentTmpl.Name,
		RoleInScenario: "lead",
		EngineType:     engineType,
	}
	require.NoError(t, s.CreateAgentInstance(agent))

	return run.ID, agent.ID
}
