package engine

import (
	"fmt"

	"orchestrator/pkg/domain"
)

// ActorProcessor composes a system message from the template's personality
// traits and character name, then replies to a prompt or delivered
// conversational message. It produces actor_speech_generated.
type ActorProcessor struct{}

func (ActorProcessor) EngineType() domain.EngineType { return domain.EngineTypeActor }

func (ActorProcessor) BuildSystemPrompt(tmpl *domain.AgentTemplate, agent *domain.AgentInstance) string {
	name := tmpl.Name
	if agent.InstanceName != "" {
		name = agent.InstanceName
	}
	traits := configString(tmpl.PersonalityConfig, "traits")
	background := configString(tmpl.PersonalityConfig, "background")

	prompt := fmt.Sprintf("You are %s, a character in an interactive scenario.", name)
	if traits != "" {
		prompt += fmt.Sprintf(" Personality traits: %s.", traits)
	}
	if background != "" {
		prompt += fmt.Sprintf(" Background: %s.", background)
	}
	prompt += " Stay in character and respond as this character would."
	return prompt
}

func (ActorProcessor) UserPrompt(payload map[string]any) string {
	return stringField(payload, "prompt", "message", "conversation_message", "content")
}

func (ActorProcessor) OutputEventType() string { return "actor_speech_generated" }
func (ActorProcessor) ResultKey() string       { return "reply" }
