package domain

// ScenarioContext is the in-memory, per-running-scenario coordination
// record: role bindings, turn order, and event-flow routing for one
// scenario run. It is reconstructible from the Event Store and Scenario
// Store for resume, and is single-writer: callers must hold the owning
// scenario's lock (the Engine Manager's per-scenario mutex in pkg/manager)
// before mutating it.
type ScenarioContext struct {
	ScenarioRunID string

	// RoleToAgent and AgentToRole are inverse maps populated at registration.
	RoleToAgent map[string]string
	AgentToRole map[string]string

	// ActorAgents is the ordered list of agent ids whose role engine type is
	// actor; turn-taking round-robins through this slice.
	ActorAgents []string

	// EventFlow is a copy of the template's flow graph, isolated from any
	// later template edits.
	EventFlow []FlowRule

	// CurrentTurn is the agent id whose turn it is, or "" when untimed.
	CurrentTurn string

	// TurnHistory is the ordered list of past turn holders.
	TurnHistory []string

	// InitialState is the merged initial state dictionary from the template
	// and any runtime override.
	InitialState map[string]any
}

// NewScenarioContext builds an empty context ready for role registration.
func NewScenarioContext(scenarioRunID string) *ScenarioContext {
	return &ScenarioContext{
		ScenarioRunID: scenarioRunID,
		RoleToAgent:   make(map[string]string),
		AgentToRole:   make(map[string]string),
		ActorAgents:   nil,
		EventFlow:     nil,
		TurnHistory:   nil,
		InitialState:  make(map[string]any),
	}
}

// RegisterRole binds a role name to an agent instance id and, if the agent's
// engine type is actor, appends it to ActorAgents.
func (c *ScenarioContext) RegisterRole(role, agentID string, engineType EngineType) {
	c.RoleToAgent[role] = agentID
	c.AgentToRole[agentID] = role
	if engineType == EngineTypeActor {
		c.ActorAgents = append(c.ActorAgents, agentID)
	}
}

// AdvanceTurn moves CurrentTurn to the next actor in ActorAgents after
// fromAgentID, round-robin, and appends fromAgentID to TurnHistory. If there
// are no actor agents, or fromAgentID is not one of them, only TurnHistory
// changes and CurrentTurn stays as it is.
func (c *ScenarioContext) AdvanceTurn(fromAgentID string) {
	c.TurnHistory = append(c.TurnHistory, fromAgentID)

	if len(c.ActorAgents) == 0 {
		return
	}
	idx := -1
	for i, a := range c.ActorAgents {
		if a == fromAgentID {
			idx = i
			break
		}
	}
	if idx == -1 {
		// Source isn't a known actor; hold the pointer where it is.
		return
	}
	next := (idx + 1) % len(c.ActorAgents)
	c.CurrentTurn = c.ActorAgents[next]
}

// Clone returns a deep-enough copy suitable for handing to a reader without
// sharing the writer's backing arrays/maps.
func (c *ScenarioContext) Clone() *ScenarioContext {
	clone := &ScenarioContext{
		ScenarioRunID: c.ScenarioRunID,
		RoleToAgent:   make(map[string]string, len(c.RoleToAgent)),
		AgentToRole:   make(map[string]string, len(c.AgentToRole)),
		ActorAgents:   append([]string{}, c.ActorAgents...),
		EventFlow:     append([]FlowRule{}, c.EventFlow...),
		CurrentTurn:   c.CurrentTurn,
		TurnHistory:   append([]string{}, c.TurnHistory...),
		InitialState:  make(map[string]any, len(c.InitialState)),
	}
	for k, v := range c.RoleToAgent {
		clone.RoleToAgent[k] = v
	}
	for k, v := range c.AgentToRole {
		clone.AgentToRole[k] = v
	}
	for k, v := range c.InitialState {
		clone.InitialState[k] = v
	}
	return clone
}
