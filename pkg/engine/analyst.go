package engine

import (
	"fmt"

	"orchestrator/pkg/domain"
)

// AnalystProcessor composes a system message from analytical focus, then
// generates an analysis from observation data. It produces
// analysis_checkpoint_generated.
type AnalystProcessor struct{}

func (AnalystProcessor) EngineType() domain.EngineType { return domain.EngineTypeAnalyst }

func (AnalystProcessor) BuildSystemPrompt(tmpl *domain.AgentTemplate, _ *domain.AgentInstance) string {
	focus := configString(tmpl.PersonalityConfig, "analytical_focus")
	prompt := "You are an analyst observing an interactive scenario and producing structured analysis."
	if focus != "" {
		prompt += fmt.Sprintf(" Analytical focus: %s.", focus)
	}
	return prompt
}

func (AnalystProcessor) UserPrompt(payload map[string]any) string {
	return stringField(payload, "observation", "observation_data", "prompt", "content")
}

func (AnalystProcessor) OutputEventType() string { return "analysis_checkpoint_generated" }
func (AnalystProcessor) ResultKey() string       { return "analysis" }
