package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/pkg/domain"
)

func TestPutScenarioTemplate_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	tmpl := &domain.ScenarioTemplate{
		Name:   "duel",
		Config: domain.ScenarioTemplateConfig{MaxTurns: 10, TurnBased: true},
		AgentRoles: map[string]domain.AgentRoleSpec{
			"primary": {TemplateName: "hero", EngineType: domain.EngineTypeActor, Required: true},
		},
		EventFlow: []domain.FlowRule{
			{Source: "primary", EventType: "actor_speech_generated", Target: "secondary", TransformTo: "conversation_message"},
		},
	}
	require.NoError(t, s.PutScenarioTemplate(tmpl))

	loaded, err := s.GetScenarioTemplate("duel")
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.Config.MaxTurns)
	assert.True(t, loaded.Config.TurnBased)
	require.Len(t, loaded.EventFlow, 1)
	assert.Equal(t, "conversation_message", loaded.EventFlow[0].TransformTo)
	assert.True(t, loaded.AgentRoles["primary"].Required)

	_, err = s.GetScenarioTemplate("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPutScenarioTemplate_RegistersFlowVocabulary(t *testing.T) {
	s := newTestStore(t)
	runID, agentID := seedScenario(t, s, domain.EngineTypeActor)

	tmpl := &domain.ScenarioTemplate{
		Name: "conversation",
		EventFlow: []domain.FlowRule{
			{Source: "primary", EventType: "actor_speech_generated", Target: "secondary", TransformTo: "conversation_message"},
		},
	}
	require.NoError(t, s.PutScenarioTemplate(tmpl))

	def, err := s.GetEventType("conversation_message")
	require.NoError(t, err)
	assert.Equal(t, "scenario_flow", def.Category)

	// Template-declared types pass the lease query's catalog join.
	enqueueTestEvent(t, s, runID, agentID, "conversation_message", 0)
	leased, err := s.LeaseEvents("engine-1", domain.EngineTypeActor, []string{"conversation_message"}, 10)
	require.NoError(t, err)
	assert.Len(t, leased, 1)
}

func TestPutAgentTemplate_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	tmpl := &domain.AgentTemplate{
		Name:              "hero",
		EngineType:        domain.EngineTypeActor,
		PersonalityConfig: map[string]any{"traits": "stoic"},
		LLMConfig:         map[string]any{"temperature": 0.7},
	}
	require.NoError(t, s.PutAgentTemplate(tmpl))

	loaded, err := s.GetAgentTemplate("hero")
	require.NoError(t, err)
	assert.Equal(t, domain.EngineTypeActor, loaded.EngineType)
	assert.Equal(t, "stoic", loaded.PersonalityConfig["traits"])
	assert.Equal(t, 0.7, loaded.LLMConfig["temperature"])
}
