package store

import (
	"database/sql"
	"fmt"

	"orchestrator/pkg/domain"
)

// PutScenarioTemplate upserts a scenario template row. Template CRUD and
// JSON-schema validation are an external collaborator; the store here only
// persists what the Runner needs to resolve a template by name when
// starting a scenario.
func (s *Store) PutScenarioTemplate(t *domain.ScenarioTemplate) error {
	roles, err := marshalJSON(t.AgentRoles)
	if err != nil {
		return fmt.Errorf("marshal agent roles: %w", err)
	}
	flow, err := marshalJSON(t.EventFlow)
	if err != nil {
		return fmt.Errorf("marshal event flow: %w", err)
	}
	cfg, err := marshalJSON(t.Config)
	if err != nil {
		return fmt.Errorf("marshal scenario config: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO scenario_templates (id, name, roles_json, event_flow_json, config_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			roles_json = excluded.roles_json,
			event_flow_json = excluded.event_flow_json,
			config_json = excluded.config_json
	`, t.Name, t.Name, roles, flow, cfg)
	if err != nil {
		return fmt.Errorf("put scenario template %s: %w", t.Name, err)
	}
	return s.registerFlowEventTypes(t)
}

// registerFlowEventTypes upserts every event type named by a template's
// flow graph into the event_types catalog. The vocabulary is open:
// whatever a template names becomes leasable the moment the template is
// stored, without a separate catalog write.
func (s *Store) registerFlowEventTypes(t *domain.ScenarioTemplate) error {
	names := map[string]bool{}
	for _, r := range t.EventFlow {
		if r.EventType != "" && r.EventType != domain.EventTypeAny {
			names[r.EventType] = true
		}
		if r.TransformTo != "" {
			names[r.TransformTo] = true
		}
	}
	for name := range names {
		if _, err := s.db.Exec(`
			INSERT OR IGNORE INTO event_types (name, description, category)
			VALUES (?, ?, 'scenario_flow')
		`, name, fmt.Sprintf("Declared by scenario template %s.", t.Name)); err != nil {
			return fmt.Errorf("register flow event type %s: %w", name, err)
		}
	}
	return nil
}

// GetScenarioTemplate loads a scenario template by name.
func (s *Store) GetScenarioTemplate(name string) (*domain.ScenarioTemplate, error) {
	row := s.db.QueryRow(`
		SELECT name, roles_json, event_flow_json, config_json
		FROM scenario_templates WHERE name = ?
	`, name)

	var t domain.ScenarioTemplate
	var rolesJSON, flowJSON, cfgJSON string
	if err := row.Scan(&t.Name, &rolesJSON, &flowJSON, &cfgJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get scenario template %s: %w", name, err)
	}
	if err := unmarshalInto(rolesJSON, &t.AgentRoles); err != nil {
		return nil, fmt.Errorf("unmarshal agent roles: %w", err)
	}
	if err := unmarshalInto(flowJSON, &t.EventFlow); err != nil {
		return nil, fmt.Errorf("unmarshal event flow: %w", err)
	}
	if err := unmarshalInto(cfgJSON, &t.Config); err != nil {
		return nil, fmt.Errorf("unmarshal scenario config: %w", err)
	}
	return &t, nil
}

// PutAgentTemplate upserts an agent template row.
func (s *Store) PutAgentTemplate(t *domain.AgentTemplate) error {
	personality, err := marshalJSON(t.PersonalityConfig)
	if err != nil {
		return fmt.Errorf("marshal personality config: %w", err)
	}
	llm, err := marshalJSON(t.LLMConfig)
	if err != nil {
		return fmt.Errorf("marshal llm config: %w", err)
	}
	tools, err := marshalJSON(t.ToolsConfig)
	if err != nil {
		return fmt.Errorf("marshal tools config: %w", err)
	}
	overrides, err := marshalJSON(t.RuntimeOverrides)
	if err != nil {
		return fmt.Errorf("marshal runtime overrides: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO agent_templates (id, name, engine_type, config_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			engine_type = excluded.engine_type,
			config_json = excluded.config_json
	`, t.Name, t.Name, string(t.EngineType),
		mustMergeConfigJSON(personality, llm, tools, overrides))
	if err != nil {
		return fmt.Errorf("put agent template %s: %w", t.Name, err)
	}
	return nil
}

// GetAgentTemplate loads an agent template by name.
func (s *Store) GetAgentTemplate(name string) (*domain.AgentTemplate, error) {
	row := s.db.QueryRow(`
		SELECT name, engine_type, config_json FROM agent_templates WHERE name = ?
	`, name)

	var t domain.AgentTemplate
	var engineType, cfgJSON string
	if err := row.Scan(&t.Name, &engineType, &cfgJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get agent template %s: %w", name, err)
	}
	t.EngineType = domain.EngineType(engineType)

	var merged struct {
		Personality map[string]any `json:"personality_config"`
		LLM         map[string]any `json:"llm_config"`
		Tools       map[string]any `json:"tools_config"`
		Overrides   map[string]any `json:"runtime_overrides"`
	}
	if err := unmarshalInto(cfgJSON, &merged); err != nil {
		return nil, fmt.Errorf("unmarshal agent template config: %w", err)
	}
	t.PersonalityConfig = merged.Personality
	t.LLMConfig = merged.LLM
	t.ToolsConfig = merged.Tools
	t.RuntimeOverrides = merged.Overrides
	return &t, nil
}

func mustMergeConfigJSON(personality, llm, tools, overrides string) string {
	merged := fmt.Sprintf(
		`{"personality_config":%s,"llm_config":%s,"tools_config":%s,"runtime_overrides":%s}`,
		personality, llm, tools, overrides,
	)
	return merged
}
