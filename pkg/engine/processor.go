// Package engine implements the Engine Worker loop and the three
// polymorphic engine types: actor, narrator, analyst. They share the
// worker loop verbatim and differ only in process(event), encoded here
// as the Processor interface rather than inheritance.
package engine

import "orchestrator/pkg/domain"

// Processor is the per-engine-type capability set: build the system
// message from a template's config, and name the output event type this
// engine type produces.
type Processor interface {
	EngineType() domain.EngineType
	// BuildSystemPrompt composes the system message from the agent
	// template's personality/style/focus config and character name.
	BuildSystemPrompt(tmpl *domain.AgentTemplate, agent *domain.AgentInstance) string
	// UserPrompt extracts the conversational/scene/observation text this
	// engine type expects from an event's payload.
	UserPrompt(payload map[string]any) string
	// OutputEventType names the event type this engine type's output is
	// published as.
	OutputEventType() string
	// ResultKey names the payload/result field the generated text is
	// stored under.
	ResultKey() string
}

func stringField(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func configString(cfg map[string]any, key string) string {
	if cfg == nil {
		return ""
	}
	if v, ok := cfg[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
