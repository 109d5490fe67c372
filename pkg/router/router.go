// Package router implements the pure event-rewriting function at the
// heart of scenario routing: given an emitted (source role, event type,
// payload) and a scenario's event-flow graph, it resolves the ordered set
// of delivered (target agent, event type, enriched payload) tuples.
//
// The router never touches a store; it is a pure function over a
// domain.ScenarioContext snapshot, performing rule-matching and
// target-set resolution in declaration order.
package router

import (
	"fmt"

	"orchestrator/pkg/domain"
)

// Delivery is one resolved, enriched event ready for enqueueing.
type Delivery struct {
	TargetAgentID string
	EventType     string
	Payload       map[string]any
}

// Result is the outcome of routing one emitted event.
type Result struct {
	Deliveries []Delivery
	// OutOfTurn is true when the scenario is turn-based, the source is an
	// actor, and the source was not the current turn holder. The event is
	// still routed: a non-fatal, logged condition.
	OutOfTurn bool
	// RuleName names the matched rule, empty if none matched.
	RuleName string
}

// Route resolves one emitted event against ctx's flow graph, applying
// turn-taking bookkeeping as a side effect on ctx when the scenario is
// turn-based and interaction rules are configured via turnBased.
//
// If sourceAgentID has no role in ctx, routing aborts and returns
// domain.ErrValidation wrapped with detail; if no rule matches, Result is
// the empty, valid no-op.
func Route(ctx *domain.ScenarioContext, sourceAgentID, sourceEventType string, payload map[string]any, turnBased bool) (*Result, error) {
	sourceRole, ok := ctx.AgentToRole[sourceAgentID]
	if !ok {
		return nil, fmt.Errorf("%w: source agent %s has no role in scenario %s", domain.ErrValidation, sourceAgentID, ctx.ScenarioRunID)
	}

	isActor := isActorAgent(ctx, sourceAgentID)

	rule, ok := matchRule(ctx.EventFlow, sourceRole, sourceEventType, isActor)
	res := &Result{}
	if !ok {
		return res, nil // no matching rule: valid no-op
	}
	res.RuleName = ruleDisplayName(rule)

	targets := ResolveTargets(ctx, rule.Target, sourceAgentID)

	deliveredType := sourceEventType
	if rule.TransformTo != "" {
		deliveredType = rule.TransformTo
	}

	for _, target := range targets {
		res.Deliveries = append(res.Deliveries, Delivery{
			TargetAgentID: target,
			EventType:     deliveredType,
			Payload:       enrich(payload, sourceEventType, sourceRole, ctx.ScenarioRunID),
		})
	}

	if turnBased && isActor {
		res.OutOfTurn = ctx.CurrentTurn != "" && ctx.CurrentTurn != sourceAgentID
		ctx.AdvanceTurn(sourceAgentID)
	}

	return res, nil
}

func isActorAgent(ctx *domain.ScenarioContext, agentID string) bool {
	for _, a := range ctx.ActorAgents {
		if a == agentID {
			return true
		}
	}
	return false
}

// matchRule scans rules in declaration order; the first rule whose source
// and event-type both match wins.
func matchRule(rules []domain.FlowRule, sourceRole, sourceEventType string, sourceIsActor bool) (domain.FlowRule, bool) {
	for _, r := range rules {
		if r.IsScenarioInitRule() {
			continue // scenario-start rules are fired once by the Manager, not by Route
		}
		if !sourceMatches(r.Source, sourceRole, sourceIsActor) {
			continue
		}
		if !eventTypeMatches(r.EventType, sourceEventType) {
			continue
		}
		return r, true
	}
	return domain.FlowRule{}, false
}

func sourceMatches(ruleSource, sourceRole string, sourceIsActor bool) bool {
	switch ruleSource {
	case sourceRole:
		return true
	case domain.SourceAny, domain.SourceAnyAgent:
		return true
	case domain.SourceAnyActor:
		return sourceIsActor
	default:
		return false
	}
}

func eventTypeMatches(ruleEventType, sourceEventType string) bool {
	return ruleEventType == "" || ruleEventType == domain.EventTypeAny || ruleEventType == sourceEventType
}

// ResolveTargets expands a rule's Target field into a concrete agent id
// set. The source is excluded if and only if target is other_actors;
// sourceAgentID may be empty for system-originated rules (scenario
// start), in which case other_actors resolves to every actor. The
// Engine Manager uses this for init-rule delivery so selector semantics
// stay in one place.
func ResolveTargets(ctx *domain.ScenarioContext, target, sourceAgentID string) []string {
	switch domain.TargetSelector(target) {
	case domain.TargetAllAgents:
		out := make([]string, 0, len(ctx.RoleToAgent))
		for _, agentID := range ctx.RoleToAgent {
			out = append(out, agentID)
		}
		return out
	case domain.TargetOtherActors:
		out := make([]string, 0, len(ctx.ActorAgents))
		for _, a := range ctx.ActorAgents {
			if a != sourceAgentID {
				out = append(out, a)
			}
		}
		return out
	case domain.TargetAllActors:
		return append([]string{}, ctx.ActorAgents...)
	case domain.TargetSystem:
		return nil
	default:
		// A literal role name.
		if agentID, ok := ctx.RoleToAgent[target]; ok {
			return []string{agentID}
		}
		return nil
	}
}

// enrich carries the original event type, source role, and scenario id
// alongside the caller's payload.
func enrich(payload map[string]any, sourceEventType, sourceRole, scenarioRunID string) map[string]any {
	out := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		out[k] = v
	}
	out["_original_event_type"] = sourceEventType
	out["_source_role"] = sourceRole
	out["_scenario_run_id"] = scenarioRunID
	return out
}

func ruleDisplayName(r domain.FlowRule) string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("%s:%s->%s", r.Source, r.EventType, r.Target)
}

// InitRule locates the flow graph's scenario-start trigger rule, if any.
func InitRule(flow []domain.FlowRule) (domain.FlowRule, bool) {
	for _, r := range flow {
		if r.IsScenarioInitRule() {
			return r, true
		}
	}
	return domain.FlowRule{}, false
}
