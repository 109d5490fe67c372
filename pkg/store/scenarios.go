package store

import (
	"database/sql"
	"fmt"
	"time"

	"orchestrator/pkg/domain"
	"orchestrator/pkg/statemachine"
)

// CreateScenarioRun inserts a new scenario run in pending status.
func (s *Store) CreateScenarioRun(r *domain.ScenarioRun) error {
	runtimeCfg, err := marshalJSON(r.RuntimeConfig)
	if err != nil {
		return fmt.Errorf("marshal runtime config: %w", err)
	}
	if r.Status == "" {
		r.Status = domain.ScenarioPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.Exec(`
		INSERT INTO scenario_runs (id, template_name, name, status, runtime_config_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.TemplateName, r.Name, string(r.Status), runtimeCfg, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create scenario run %s: %w", r.ID, err)
	}
	return nil
}

func scanScenarioRun(row interface{ Scan(...any) error }) (*domain.ScenarioRun, error) {
	var r domain.ScenarioRun
	var status, runtimeCfgJSON, resultsJSON string
	var startedAt, completedAt sql.NullTime

	if err := row.Scan(
		&r.ID, &r.TemplateName, &r.Name, &status, &runtimeCfgJSON,
		&r.CurrentTurn, &resultsJSON, &r.CreatedAt, &startedAt, &completedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan scenario run: %w", err)
	}
	r.Status = domain.ScenarioStatus(status)
	if err := unmarshalInto(runtimeCfgJSON, &r.RuntimeConfig); err != nil {
		return nil, fmt.Errorf("unmarshal runtime config: %w", err)
	}
	if err := unmarshalInto(resultsJSON, &r.Results); err != nil {
		return nil, fmt.Errorf("unmarshal results: %w", err)
	}
	if startedAt.Valid {
		t := startedAt.Time
		r.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

const scenarioRunSelectCols = `
	id, template_name, name, status, runtime_config_json,
	current_turn, results_json, created_at, started_at, completed_at
`

// GetScenarioRun loads one scenario run by id.
func (s *Store) GetScenarioRun(id string) (*domain.ScenarioRun, error) {
	row := s.db.QueryRow(`SELECT `+scenarioRunSelectCols+` FROM scenario_runs WHERE id = ?`, id)
	return scanScenarioRun(row)
}

// ListActiveScenarioRuns returns every run not in a terminal status.
func (s *Store) ListActiveScenarioRuns() ([]*domain.ScenarioRun, error) {
	rows, err := s.db.Query(`
		SELECT ` + scenarioRunSelectCols + ` FROM scenario_runs
		WHERE status NOT IN ('terminated','completed','failed')
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list active scenario runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.ScenarioRun
	for rows.Next() {
		r, err := scanScenarioRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TransitionScenarioStatus moves a scenario run to a new status, validated
// against statemachine.ScenarioTransitions (which also encodes that terminal
// statuses accept no further transitions).
func (s *Store) TransitionScenarioStatus(id string, newStatus domain.ScenarioStatus) error {
	current, err := s.GetScenarioRun(id)
	if err != nil {
		return err
	}
	if !statemachine.ScenarioTransitions.IsValid(current.Status, newStatus) {
		if current.Status.IsTerminal() {
			return domain.ErrTerminalScenario
		}
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, newStatus)
	}

	query := `UPDATE scenario_runs SET status = ?`
	args := []any{string(newStatus)}
	if newStatus == domain.ScenarioRunning && current.StartedAt == nil {
		query += `, started_at = ?`
		args = append(args, time.Now().UTC())
	}
	if newStatus.IsTerminal() {
		query += `, completed_at = ?`
		args = append(args, time.Now().UTC())
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	_, err = s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("transition scenario run %s to %s: %w", id, newStatus, err)
	}
	return nil
}

// SetCurrentTurn persists the scenario's turn counter.
func (s *Store) SetCurrentTurn(id string, turn int) error {
	_, err := s.db.Exec(`UPDATE scenario_runs SET current_turn = ? WHERE id = ?`, turn, id)
	if err != nil {
		return fmt.Errorf("set current turn for %s: %w", id, err)
	}
	return nil
}

// SaveSnapshot persists a merged scenario context as the run's state
// snapshot, under results.state_snapshot and results.last_snapshot_time.
func (s *Store) SaveSnapshot(id string, snapshot map[string]any) error {
	now := time.Now().UTC()
	run, err := s.GetScenarioRun(id)
	if err != nil {
		return err
	}
	if run.Results == nil {
		run.Results = map[string]any{}
	}
	run.Results["state_snapshot"] = snapshot
	run.Results["last_snapshot_time"] = now.Format(time.RFC3339)

	resultsJSON, err := marshalJSON(run.Results)
	if err != nil {
		return fmt.Errorf("marshal snapshot results: %w", err)
	}
	snapshotJSON, err := marshalJSON(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE scenario_runs SET results_json = ?, state_snapshot_json = ? WHERE id = ?
	`, resultsJSON, snapshotJSON, id)
	if err != nil {
		return fmt.Errorf("save snapshot for %s: %w", id, err)
	}
	return nil
}

// LoadSnapshot returns the most recently saved state snapshot, or
// domain.ErrCorruptedSnapshot if the stored JSON cannot be parsed.
func (s *Store) LoadSnapshot(id string) (map[string]any, error) {
	row := s.db.QueryRow(`SELECT state_snapshot_json FROM scenario_runs WHERE id = ?`, id)
	var snapshotJSON string
	if err := row.Scan(&snapshotJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("load snapshot for %s: %w", id, err)
	}
	var snapshot map[string]any
	if err := unmarshalInto(snapshotJSON, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptedSnapshot, err)
	}
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	return snapshot, nil
}

// CompleteScenarioRun writes final results and transitions to a terminal
// status in one call.
func (s *Store) CompleteScenarioRun(id string, status domain.ScenarioStatus, results map[string]any) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", domain.ErrValidation, status)
	}
	current, err := s.GetScenarioRun(id)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return domain.ErrTerminalScenario
	}

	merged := current.Results
	if merged == nil {
		merged = map[string]any{}
	}
	for k, v := range results {
		merged[k] = v
	}
	resultsJSON, err := marshalJSON(merged)
	if err != nil {
		return fmt.Errorf("marshal complete results: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE scenario_runs SET status = ?, results_json = ?, completed_at = ? WHERE id = ?
	`, string(status), resultsJSON, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("complete scenario run %s: %w", id, err)
	}
	return nil
}

// CreateAgentInstance inserts a new agent instance row bound to a scenario
// run.
func (s *Store) CreateAgentInstance(a *domain.AgentInstance) error {
	runtimeCfg, err := marshalJSON(a.RuntimeConfig)
	if err != nil {
		return fmt.Errorf("marshal agent runtime config: %w", err)
	}
	runtimeState, err := marshalJSON(a.RuntimeState)
	if err != nil {
		return fmt.Errorf("marshal agent runtime state: %w", err)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.Exec(`
		INSERT INTO agent_instances (
			id, scenario_run_id, template_name, instance_name, role_in_scenario,
			engine_type, runtime_config_json, runtime_state_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ScenarioRunID, a.TemplateName, a.InstanceName, a.RoleInScenario,
		string(a.EngineType), runtimeCfg, runtimeState, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create agent instance %s: %w", a.ID, err)
	}
	return nil
}

func scanAgentInstance(row interface{ Scan(...any) error }) (*domain.AgentInstance, error) {
	var a domain.AgentInstance
	var engineType, runtimeCfgJSON, runtimeStateJSON string

	if err := row.Scan(
		&a.ID, &a.ScenarioRunID, &a.TemplateName, &a.InstanceName, &a.RoleInScenario,
		&engineType, &runtimeCfgJSON, &runtimeStateJSON, &a.CreatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan agent instance: %w", err)
	}
	a.EngineType = domain.EngineType(engineType)
	if err := unmarshalInto(runtimeCfgJSON, &a.RuntimeConfig); err != nil {
		return nil, fmt.Errorf("unmarshal agent runtime config: %w", err)
	}
	if err := unmarshalInto(runtimeStateJSON, &a.RuntimeState); err != nil {
		return nil, fmt.Errorf("unmarshal agent runtime state: %w", err)
	}
	return &a, nil
}

const agentInstanceSelectCols = `
	id, scenario_run_id, template_name, instance_name, role_in_scenario,
	engine_type, runtime_config_json, runtime_state_json, created_at
`

// GetAgentInstance loads one agent instance by id.
func (s *Store) GetAgentInstance(id string) (*domain.AgentInstance, error) {
	row := s.db.QueryRow(`SELECT `+agentInstanceSelectCols+` FROM agent_instances WHERE id = ?`, id)
	return scanAgentInstance(row)
}

// ListAgentInstances returns every agent instance bound to a scenario run.
func (s *Store) ListAgentInstances(scenarioRunID string) ([]*domain.AgentInstance, error) {
	rows, err := s.db.Query(`
		SELECT `+agentInstanceSelectCols+` FROM agent_instances
		WHERE scenario_run_id = ? ORDER BY created_at ASC
	`, scenarioRunID)
	if err != nil {
		return nil, fmt.Errorf("list agent instances for %s: %w", scenarioRunID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.AgentInstance
	for rows.Next() {
		a, err := scanAgentInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// BindAgentEngine records which live engine instance is serving an agent
// instance in agent_instances.engine_id. Event leasing matches on the
// agent's engine_type and does not read this column.
func (s *Store) BindAgentEngine(agentInstanceID, engineID string) error {
	_, err := s.db.Exec(`UPDATE agent_instances SET engine_id = ? WHERE id = ?`, engineID, agentInstanceID)
	if err != nil {
		return fmt.Errorf("bind agent %s to engine %s: %w", agentInstanceID, engineID, err)
	}
	return nil
}
