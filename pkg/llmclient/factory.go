package llmclient

import (
	"fmt"

	"orchestrator/pkg/config"
)

// New builds the adapter named by backend. apiKeyOrHost is the API key for
// hosted backends, or the server URL for ollama.
func New(backend config.LLMBackend, apiKeyOrHost, model string) (Client, error) {
	switch backend {
	case config.BackendAnthropic:
		return NewAnthropicClient(apiKeyOrHost, model), nil
	case config.BackendOpenAI:
		return NewOpenAIClient(apiKeyOrHost, model), nil
	case config.BackendOllama:
		return NewOllamaClient(apiKeyOrHost, model), nil
	case config.BackendGemini:
		return NewGeminiClient(apiKeyOrHost, model), nil
	default:
		return nil, fmt.Errorf("%w: unknown llm backend %q", errUnknownBackend, backend)
	}
}

var errUnknownBackend = fmt.Errorf("llmclient: unknown backend")
