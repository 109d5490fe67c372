package domain

// TargetSelector names how a FlowRule resolves the set of agents an event
// is delivered to.
type TargetSelector string

const (
	// TargetAllAgents resolves to every role-mapped agent in the scenario.
	TargetAllAgents TargetSelector = "all_agents"
	// TargetOtherActors resolves to every actor agent except the source.
	TargetOtherActors TargetSelector = "other_actors"
	// TargetAllActors resolves to every actor agent, including the source.
	TargetAllActors TargetSelector = "all_actors"
	// TargetSystem resolves to no agent; the event is logged, not redelivered.
	TargetSystem TargetSelector = "system"
)

// Source selector tokens a FlowRule.Source may hold besides a literal role
// name.
const (
	SourceAny      = "any"
	SourceAnyActor = "any_actor"
	SourceAnyAgent = "any_agent"
)

// EventTypeAny matches any emitted event type, and an absent EventType
// field has the same effect.
const EventTypeAny = "any"

// FlowRule is one entry of a scenario template's declarative event-flow
// graph: it maps an emitted (source role, event type) to a target set and
// an optional rewritten delivered event type.
type FlowRule struct {
	// Source is a literal role name, or one of SourceAny / SourceAnyActor /
	// SourceAnyAgent.
	Source string `json:"source"`
	// EventType is the emitted event type this rule matches, or EventTypeAny
	// (equivalently, an empty string) to match any emitted event type.
	EventType string `json:"event_type,omitempty"`
	// Target is either a TargetSelector or a literal role name.
	Target string `json:"target"`
	// TransformTo rewrites the delivered event type; empty means pass-through.
	TransformTo string `json:"transform_to,omitempty"`
	// Trigger marks this rule as the scenario's initialization rule when its
	// value is "scenario_start", or the rule is named "scenario_initialization".
	Trigger string `json:"trigger,omitempty"`
	Name    string `json:"name,omitempty"`
}

// IsScenarioInitRule reports whether this rule is the flow graph's
// scenario-start trigger, fired once when a scenario run begins.
func (r *FlowRule) IsScenarioInitRule() bool {
	return r.Trigger == "scenario_start" || r.Name == "scenario_initialization"
}
