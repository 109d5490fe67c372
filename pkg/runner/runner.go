// Package runner implements the Scenario Runner: the lifecycle
// controller and external entry point for scenario commands — start,
// monitor, snapshot, resume, stop, complete.
package runner

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"orchestrator/pkg/domain"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/manager"
	"orchestrator/pkg/metrics"
	"orchestrator/pkg/store"
)

// Store is the subset of pkg/store the Runner needs.
type Store interface {
	GetScenarioTemplate(name string) (*domain.ScenarioTemplate, error)
	GetAgentTemplate(name string) (*domain.AgentTemplate, error)
	CreateScenarioRun(r *domain.ScenarioRun) error
	GetScenarioRun(id string) (*domain.ScenarioRun, error)
	ListActiveScenarioRuns() ([]*domain.ScenarioRun, error)
	TransitionScenarioStatus(id string, status domain.ScenarioStatus) error
	SetCurrentTurn(id string, turn int) error
	SaveSnapshot(id string, snapshot map[string]any) error
	LoadSnapshot(id string) (map[string]any, error)
	CompleteScenarioRun(id string, status domain.ScenarioStatus, results map[string]any) error
	CreateAgentInstance(a *domain.AgentInstance) error
	ListAgentInstances(scenarioRunID string) ([]*domain.AgentInstance, error)
	EnqueueEvent(e *domain.Event) error
	CountEventsByStatus(scenarioRunID string) (*store.EventQueueCounts, error)
}

// Runner is the Scenario Runner.
type Runner struct {
	store   Store
	manager *manager.Manager
	log     *logx.Logger
}

// New builds a Runner.
func New(store Store, mgr *manager.Manager) *Runner {
	return &Runner{store: store, manager: mgr, log: logx.NewLogger("runner")}
}

// StartOptions parameterizes start_scenario.
type StartOptions struct {
	TemplateName   string
	RuntimeConfig  map[string]any
	RoleOverrides  map[string]map[string]any // role name -> config override
	ScenarioName   string
}

// StartScenario resolves the template, materializes scenario-run and
// agent-instance rows, registers with the Engine Manager, starts agent
// workers, emits the scenario-start event, and transitions to running.
// If a required role ends up without a live engine, the run transitions
// to failed instead of running.
func (r *Runner) StartScenario(opts StartOptions) (*domain.ScenarioRun, error) {
	tmpl, err := r.store.GetScenarioTemplate(opts.TemplateName)
	if err != nil {
		return nil, fmt.Errorf("resolve scenario template %s: %w", opts.TemplateName, err)
	}

	run := &domain.ScenarioRun{
		ID:            uuid.NewString(),
		TemplateName:  opts.TemplateName,
		Name:          opts.ScenarioName,
		Status:        domain.ScenarioPending,
		RuntimeConfig: opts.RuntimeConfig,
	}
	if err := r.store.CreateScenarioRun(run); err != nil {
		return nil, fmt.Errorf("create scenario run: %w", err)
	}
	if err := r.store.TransitionScenarioStatus(run.ID, domain.ScenarioInitializing); err != nil {
		return nil, fmt.Errorf("transition to initializing: %w", err)
	}
	metrics.RecordScenarioTransition(string(domain.ScenarioInitializing))

	agents := make([]*domain.AgentInstance, 0, len(tmpl.AgentRoles))
	templates := make(map[string]*domain.AgentTemplate, len(tmpl.AgentRoles))
	for role, spec := range tmpl.AgentRoles {
		cfg := mergeConfig(spec.RoleConfig, opts.RoleOverrides[role])
		agent := &domain.AgentInstance{
			ID:             uuid.NewString(),
			ScenarioRunID:  run.ID,
			TemplateName:   spec.TemplateName,
			InstanceName:   fmt.Sprintf("%s-%s", spec.TemplateName, role),
			RoleInScenario: role,
			EngineType:     spec.EngineType,
			RuntimeConfig:  cfg,
		}
		if err := r.store.CreateAgentInstance(agent); err != nil {
			return nil, fmt.Errorf("create agent instance for role %s: %w", role, err)
		}
		agents = append(agents, agent)

		agentTmpl, err := r.store.GetAgentTemplate(spec.TemplateName)
		if err != nil {
			return nil, fmt.Errorf("resolve agent template %s: %w", spec.TemplateName, err)
		}
		templates[spec.TemplateName] = agentTmpl
	}

	if _, err := r.manager.RegisterScenario(run, agents, tmpl); err != nil {
		_ = r.store.CompleteScenarioRun(run.ID, domain.ScenarioFailed, map[string]any{
			"error": err.Error(),
		})
		metrics.RecordScenarioTransition(string(domain.ScenarioFailed))
		return r.store.GetScenarioRun(run.ID)
	}

	if _, err := r.manager.StartAgents(agents, templates); err != nil {
		_ = r.store.CompleteScenarioRun(run.ID, domain.ScenarioFailed, map[string]any{
			"error": err.Error(),
		})
		metrics.RecordScenarioTransition(string(domain.ScenarioFailed))
		return r.store.GetScenarioRun(run.ID)
	}

	if err := r.manager.EmitInitialEvent(run); err != nil {
		r.log.Error("emit initial event for %s: %v", run.ID, err)
	}

	if err := r.store.TransitionScenarioStatus(run.ID, domain.ScenarioRunning); err != nil {
		return nil, fmt.Errorf("transition to running: %w", err)
	}
	metrics.RecordScenarioTransition(string(domain.ScenarioRunning))
	return r.store.GetScenarioRun(run.ID)
}

func mergeConfig(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// SendEventToScenario enqueues an externally-originated event into the
// Event Store, targeted at targetAgentID when given, otherwise delivered to
// every agent instance of the run. The flow graph is not consulted.
func (r *Runner) SendEventToScenario(runID, eventType string, data map[string]any, targetAgentID string) (map[string]any, error) {
	run, err := r.store.GetScenarioRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, domain.ErrTerminalScenario
	}

	if targetAgentID != "" {
		if err := r.manager.Deliver(runID, eventType, targetAgentID, data, 0); err != nil {
			return nil, fmt.Errorf("deliver event: %w", err)
		}
		return map[string]any{"status": "delivered", "target_agent_id": targetAgentID}, nil
	}

	agents, err := r.store.ListAgentInstances(runID)
	if err != nil {
		return nil, err
	}
	var delivered []string
	for _, a := range agents {
		if err := r.manager.Deliver(runID, eventType, a.ID, data, 0); err != nil {
			return nil, fmt.Errorf("deliver event to %s: %w", a.ID, err)
		}
		delivered = append(delivered, a.ID)
	}
	return map[string]any{"status": "delivered", "target_agent_ids": delivered}, nil
}

// MonitorResult is the output of monitor_scenario.
type MonitorResult struct {
	Run         *domain.ScenarioRun
	EventCounts *store.EventQueueCounts
}

// MonitorScenario reports current status, state, and event-queue counts.
func (r *Runner) MonitorScenario(runID string) (*MonitorResult, error) {
	run, err := r.store.GetScenarioRun(runID)
	if err != nil {
		return nil, err
	}
	counts, err := r.store.CountEventsByStatus(runID)
	if err != nil {
		return nil, err
	}
	return &MonitorResult{Run: run, EventCounts: counts}, nil
}

// SaveStateSnapshot persists the merged in-memory Scenario Context state
// under the scenario run's results.
func (r *Runner) SaveStateSnapshot(runID string) error {
	ctx := r.manager.Context(runID)
	if ctx == nil {
		return fmt.Errorf("%w: scenario %s has no active context", domain.ErrNotFound, runID)
	}
	snapshot := map[string]any{
		"role_to_agent": ctx.RoleToAgent,
		"current_turn":  ctx.CurrentTurn,
		"turn_history":  ctx.TurnHistory,
		"initial_state": ctx.InitialState,
		"actor_agents":  ctx.ActorAgents,
	}
	return r.store.SaveSnapshot(runID, snapshot)
}

// StopScenario takes a snapshot, then completes the run as terminated
// with the given reason.
func (r *Runner) StopScenario(runID, reason string) (*domain.ScenarioRun, error) {
	if err := r.SaveStateSnapshot(runID); err != nil {
		r.log.Warn("snapshot before stop for %s: %v", runID, err)
	}
	return r.CompleteScenario(runID, domain.ScenarioTerminated, map[string]any{
		"termination_reason": reason,
	})
}

// CompleteScenario takes a final snapshot and event-count metrics into
// results, writes them, transitions to the given terminal status, and
// asks the Engine Manager to clean up.
func (r *Runner) CompleteScenario(runID string, status domain.ScenarioStatus, results map[string]any) (*domain.ScenarioRun, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is not a terminal status", domain.ErrValidation, status)
	}

	merged := map[string]any{}
	for k, v := range results {
		merged[k] = v
	}
	if ctx := r.manager.Context(runID); ctx != nil {
		merged["final_turn_history"] = ctx.TurnHistory
	}
	if counts, err := r.store.CountEventsByStatus(runID); err == nil {
		merged["final_event_counts"] = counts
	}

	if err := r.store.CompleteScenarioRun(runID, status, merged); err != nil {
		return nil, fmt.Errorf("complete scenario run %s: %w", runID, err)
	}
	metrics.RecordScenarioTransition(string(status))
	r.manager.StopScenario(runID)
	return r.store.GetScenarioRun(runID)
}

// ResumeScenario reloads a paused/interrupted scenario run, re-registers
// it with the Engine Manager, restores its state snapshot, and
// transitions it back to running.
func (r *Runner) ResumeScenario(runID string) (*domain.ScenarioRun, error) {
	run, err := r.store.GetScenarioRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, domain.ErrTerminalScenario
	}

	tmpl, err := r.store.GetScenarioTemplate(run.TemplateName)
	if err != nil {
		return nil, fmt.Errorf("resolve scenario template %s: %w", run.TemplateName, err)
	}
	agents, err := r.store.ListAgentInstances(runID)
	if err != nil {
		return nil, err
	}

	ctx, err := r.manager.RegisterScenario(run, agents, tmpl)
	if err != nil {
		return nil, fmt.Errorf("re-register scenario %s: %w", runID, err)
	}

	snapshot, err := r.store.LoadSnapshot(runID)
	if err == nil && snapshot != nil {
		restoreContext(ctx, snapshot)
	} else if err != nil && err != domain.ErrNotFound {
		return nil, fmt.Errorf("load snapshot for %s: %w", runID, err)
	}

	templates := make(map[string]*domain.AgentTemplate, len(agents))
	for _, a := range agents {
		t, err := r.store.GetAgentTemplate(a.TemplateName)
		if err != nil {
			return nil, fmt.Errorf("resolve agent template %s: %w", a.TemplateName, err)
		}
		templates[a.TemplateName] = t
	}
	if _, err := r.manager.StartAgents(agents, templates); err != nil {
		return nil, fmt.Errorf("restart agents for %s: %w", runID, err)
	}

	if err := r.store.TransitionScenarioStatus(runID, domain.ScenarioRunning); err != nil {
		return nil, fmt.Errorf("transition to running: %w", err)
	}
	metrics.RecordScenarioTransition(string(domain.ScenarioRunning))
	return r.store.GetScenarioRun(runID)
}

func restoreContext(ctx *domain.ScenarioContext, snapshot map[string]any) {
	if v, ok := snapshot["current_turn"].(string); ok {
		ctx.CurrentTurn = v
	}
	if v, ok := snapshot["turn_history"].([]any); ok {
		for _, item := range v {
			if s, ok := item.(string); ok {
				ctx.TurnHistory = append(ctx.TurnHistory, s)
			}
		}
	}
	if v, ok := snapshot["initial_state"].(map[string]any); ok {
		ctx.InitialState = v
	}
}

// MonitorTimeoutsAndMaxTurns is called periodically by pkg/scheduler: for
// every active scenario, enforce timeout_seconds and max_turns from the
// template config by stopping the run with the matching reason.
func (r *Runner) MonitorTimeoutsAndMaxTurns(now time.Time) {
	runs, err := r.store.ListActiveScenarioRuns()
	if err != nil {
		r.log.Error("list active scenario runs: %v", err)
		return
	}
	for _, run := range runs {
		tmpl, err := r.store.GetScenarioTemplate(run.TemplateName)
		if err != nil {
			continue
		}
		if tmpl.Config.TimeoutSeconds > 0 && run.StartedAt != nil {
			deadline := run.StartedAt.Add(time.Duration(tmpl.Config.TimeoutSeconds) * time.Second)
			if now.After(deadline) {
				if _, err := r.StopScenario(run.ID, "timeout"); err != nil {
					r.log.Error("stop timed-out scenario %s: %v", run.ID, err)
				}
				continue
			}
		}
		if tmpl.Config.MaxTurns > 0 && run.CurrentTurn >= tmpl.Config.MaxTurns {
			if _, err := r.StopScenario(run.ID, "max_turns"); err != nil {
				r.log.Error("stop max-turns scenario %s: %v", run.ID, err)
			}
		}
	}
}
