package engine

import (
	"fmt"

	"orchestrator/pkg/domain"
)

// NarratorProcessor composes a system message from narrative style, then
// generates descriptive text from a scene/setting prompt. It produces
// scene_description_generated.
type NarratorProcessor struct{}

func (NarratorProcessor) EngineType() domain.EngineType { return domain.EngineTypeNarrator }

func (NarratorProcessor) BuildSystemPrompt(tmpl *domain.AgentTemplate, _ *domain.AgentInstance) string {
	style := configString(tmpl.PersonalityConfig, "narrative_style")
	prompt := "You are the narrator of an interactive scenario, describing scenes and settings vividly."
	if style != "" {
		prompt += fmt.Sprintf(" Narrative style: %s.", style)
	}
	return prompt
}

func (NarratorProcessor) UserPrompt(payload map[string]any) string {
	return stringField(payload, "scene_prompt", "setting_prompt", "prompt", "content")
}

func (NarratorProcessor) OutputEventType() string { return "scene_description_generated" }
func (NarratorProcessor) ResultKey() string       { return "description" }
