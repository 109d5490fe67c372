// Package manager implements the Engine Manager: the central coordinator
// that owns every running scenario's in-memory Scenario Context,
// subscribes to Engine Worker outputs on the EventBus, applies the
// Router, and enqueues the resulting deliveries back into the Event
// Store.
package manager

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"orchestrator/pkg/bus"
	"orchestrator/pkg/domain"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/router"
)

// EventStore is the subset of pkg/store the Manager needs.
type EventStore interface {
	EnqueueEvent(e *domain.Event) error
	SetCurrentTurn(scenarioRunID string, turn int) error
	LogEventFlow(scenarioRunID, sourceEventID, ruleName string, deliveredEventIDs []string, outOfTurn bool) error
}

// AgentRuntime starts and stops one Engine Worker per agent instance. The
// concrete implementation (wired in cmd/coordinator) knows how to build a
// Worker from an agent's template and engine type; the Manager only needs
// to ask for agents to start or stop.
type AgentRuntime interface {
	StartAgent(agent *domain.AgentInstance, tmpl *domain.AgentTemplate) (engineID string, err error)
	StopAgent(agentID string) error
}

type scenarioEntry struct {
	mu        sync.Mutex
	ctx       *domain.ScenarioContext
	turnBased bool
}

// Manager is the Engine Manager. One Manager instance serves every
// scenario run in the coordinator process.
type Manager struct {
	store   EventStore
	bus     *bus.EventBus
	runtime AgentRuntime
	log     *logx.Logger

	mu        sync.RWMutex
	scenarios map[string]*scenarioEntry
}

// New builds a Manager and subscribes it to bus as the bus's single
// reader.
func New(store EventStore, b *bus.EventBus, runtime AgentRuntime) *Manager {
	m := &Manager{
		store:     store,
		bus:       b,
		runtime:   runtime,
		log:       logx.NewLogger("manager"),
		scenarios: make(map[string]*scenarioEntry),
	}
	b.Subscribe(m.handleEngineOutput)
	return m
}

// RegisterScenario builds the Scenario Context for a newly started or
// resumed scenario run: role↔agent maps, actor list, event-flow copy, and
// turn-holder initialized to the first actor if the template is
// turn-based. Registration fails with domain.ErrMissingRequiredRole if a
// role that tmpl.AgentRoles marks Required has no agent in agents.
func (m *Manager) RegisterScenario(run *domain.ScenarioRun, agents []*domain.AgentInstance, tmpl *domain.ScenarioTemplate) (*domain.ScenarioContext, error) {
	ctx := domain.NewScenarioContext(run.ID)
	ctx.EventFlow = append([]domain.FlowRule{}, tmpl.EventFlow...)
	ctx.InitialState = tmpl.Config.InitialState
	if ctx.InitialState == nil {
		ctx.InitialState = map[string]any{}
	}

	for _, a := range agents {
		ctx.RegisterRole(a.RoleInScenario, a.ID, a.EngineType)
	}

	for role, spec := range tmpl.AgentRoles {
		if !spec.Required {
			continue
		}
		if _, ok := ctx.RoleToAgent[role]; !ok {
			return nil, fmt.Errorf("%w: role %s", domain.ErrMissingRequiredRole, role)
		}
	}

	if tmpl.Config.TurnBased && len(ctx.ActorAgents) > 0 {
		ctx.CurrentTurn = ctx.ActorAgents[0]
	}

	m.mu.Lock()
	m.scenarios[run.ID] = &scenarioEntry{ctx: ctx, turnBased: tmpl.Config.TurnBased}
	m.mu.Unlock()
	return ctx, nil
}

// StartAgents asks the worker runtime to start one Engine Worker per
// agent instance, binding each to its live engine id.
func (m *Manager) StartAgents(agents []*domain.AgentInstance, templates map[string]*domain.AgentTemplate) (map[string]string, error) {
	started := make(map[string]string, len(agents))
	for _, a := range agents {
		tmpl, ok := templates[a.TemplateName]
		if !ok {
			return started, fmt.Errorf("%w: agent template %s", domain.ErrNotFound, a.TemplateName)
		}
		engineID, err := m.runtime.StartAgent(a, tmpl)
		if err != nil {
			return started, fmt.Errorf("start agent %s: %w", a.ID, err)
		}
		started[a.ID] = engineID
	}
	return started, nil
}

// EmitInitialEvent locates the flow graph's scenario_start rule and
// enqueues one event per resolved target, carrying a system-assembled
// payload (scenario id, participant roles, a short context blurb). A
// template with no init rule is valid: no events are enqueued.
func (m *Manager) EmitInitialEvent(run *domain.ScenarioRun) error {
	m.mu.RLock()
	entry, ok := m.scenarios[run.ID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: scenario %s not registered", domain.ErrNotFound, run.ID)
	}

	entry.mu.Lock()
	rule, found := router.InitRule(entry.ctx.EventFlow)
	targets := map[string]string{} // agentID -> role
	if found {
		// An absent target means every mapped role; anything else goes
		// through the same selector resolution routed events use, with no
		// source agent (the system fires this rule).
		target := rule.Target
		if target == "" {
			target = string(domain.TargetAllAgents)
		}
		for _, agentID := range router.ResolveTargets(entry.ctx, target, "") {
			targets[agentID] = entry.ctx.AgentToRole[agentID]
		}
	}
	roles := make([]string, 0, len(entry.ctx.RoleToAgent))
	for role := range entry.ctx.RoleToAgent {
		roles = append(roles, role)
	}
	entry.mu.Unlock()

	if !found {
		m.log.Info("scenario %s: no scenario_start flow rule, skipping initial event", run.ID)
		return nil
	}
	if len(targets) == 0 {
		m.log.Info("scenario %s: scenario_start rule target %q resolved no agents", run.ID, rule.Target)
		return nil
	}

	eventType := rule.TransformTo
	if eventType == "" {
		eventType = "scenario_start"
	}

	for agentID, role := range targets {
		ev := &domain.Event{
			ID:            newEventID(),
			ScenarioRunID: run.ID,
			EventType:     eventType,
			TargetAgentID: agentID,
			Payload: map[string]any{
				"scenario_run_id":   run.ID,
				"participant_roles": roles,
				"target_role":       role,
				"context_blurb":     fmt.Sprintf("Scenario %q is beginning.", run.Name),
			},
			Priority:  0,
			CreatedAt: time.Now().UTC(),
		}
		if err := m.store.EnqueueEvent(ev); err != nil {
			return fmt.Errorf("enqueue initial event for %s: %w", agentID, err)
		}
	}
	return nil
}

// handleEngineOutput is the EventBus's single subscriber: it identifies
// the producing agent, applies the Router, and enqueues one delivered
// event per target. A routing error (unknown source agent) is logged and
// swallowed, since the bus has no caller to return an error to.
func (m *Manager) handleEngineOutput(msg bus.Message) {
	scenarioID, role := m.findScenarioForAgent(msg.AgentID)
	if scenarioID == "" {
		m.log.Warn("engine output from unknown agent %s type %s", msg.AgentID, msg.EventType)
		return
	}
	_ = role

	m.mu.RLock()
	entry := m.scenarios[scenarioID]
	m.mu.RUnlock()
	if entry == nil {
		return
	}

	entry.mu.Lock()
	result, err := router.Route(entry.ctx, msg.AgentID, msg.EventType, msg.Payload, entry.turnBased)
	turnCount := len(entry.ctx.TurnHistory)
	entry.mu.Unlock()
	if err != nil {
		m.log.Warn("routing error for scenario %s: %v", scenarioID, err)
		return
	}
	if result.OutOfTurn {
		m.log.Warn("scenario %s: out-of-turn emission from agent %s", scenarioID, msg.AgentID)
	}

	// Route only appends to TurnHistory for turn-based scenarios, so this
	// persists the turn counter MonitorTimeoutsAndMaxTurns enforces against
	// tmpl.Config.MaxTurns; non-turn-based scenarios never advance it.
	if entry.turnBased {
		if err := m.store.SetCurrentTurn(scenarioID, turnCount); err != nil {
			m.log.Error("persist turn count for scenario %s: %v", scenarioID, err)
		}
	}

	delivered := make([]string, 0, len(result.Deliveries))
	for _, d := range result.Deliveries {
		ev := &domain.Event{
			ID:            newEventID(),
			ScenarioRunID: scenarioID,
			EventType:     d.EventType,
			SourceAgentID: msg.AgentID,
			TargetAgentID: d.TargetAgentID,
			Payload:       d.Payload,
			CreatedAt:     time.Now().UTC(),
		}
		if err := m.store.EnqueueEvent(ev); err != nil {
			m.log.Error("enqueue routed event for scenario %s: %v", scenarioID, err)
			continue
		}
		delivered = append(delivered, ev.ID)
	}

	if result.RuleName != "" {
		sourceEventID, _ := msg.Payload["source_event_id"].(string)
		if err := m.store.LogEventFlow(scenarioID, sourceEventID, result.RuleName, delivered, result.OutOfTurn); err != nil {
			m.log.Error("log event flow for scenario %s: %v", scenarioID, err)
		}
	}
}

func (m *Manager) findScenarioForAgent(agentID string) (scenarioID, role string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, entry := range m.scenarios {
		entry.mu.Lock()
		r, ok := entry.ctx.AgentToRole[agentID]
		entry.mu.Unlock()
		if ok {
			return id, r
		}
	}
	return "", ""
}

// Deliver enqueues an externally-originated event (e.g. from
// send_event_to_scenario) targeted at a specific agent.
func (m *Manager) Deliver(scenarioID, eventType, targetAgentID string, payload map[string]any, priority int) error {
	ev := &domain.Event{
		ID:            newEventID(),
		ScenarioRunID: scenarioID,
		EventType:     eventType,
		TargetAgentID: targetAgentID,
		Payload:       payload,
		Priority:      priority,
		CreatedAt:     time.Now().UTC(),
	}
	return m.store.EnqueueEvent(ev)
}

// Context returns a reader-safe copy of a scenario's context, or nil if
// unregistered.
func (m *Manager) Context(scenarioID string) *domain.ScenarioContext {
	m.mu.RLock()
	entry := m.scenarios[scenarioID]
	m.mu.RUnlock()
	if entry == nil {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.ctx.Clone()
}

// StopScenario asks the runtime to stop every agent bound to a scenario
// and discards its Scenario Context.
func (m *Manager) StopScenario(scenarioID string) {
	m.mu.Lock()
	entry := m.scenarios[scenarioID]
	delete(m.scenarios, scenarioID)
	m.mu.Unlock()
	if entry == nil {
		return
	}

	entry.mu.Lock()
	agentIDs := make([]string, 0, len(entry.ctx.AgentToRole))
	for id := range entry.ctx.AgentToRole {
		agentIDs = append(agentIDs, id)
	}
	entry.mu.Unlock()

	for _, id := range agentIDs {
		if err := m.runtime.StopAgent(id); err != nil {
			m.log.Error("stop agent %s: %v", id, err)
		}
	}
}

func newEventID() string {
	return uuid.NewString()
}
