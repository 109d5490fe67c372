// Package llmclient is the single-shot completion interface Engine
// Workers call from process(event): given a system prompt and a user
// message, return generated text. The orchestrator passes prompts in and
// stores responses; it neither chooses nor tunes models, so the
// interface is deliberately narrow: no tool-calling, no streaming, since
// actor/narrator/analyst process(event) only ever needs one completion
// per event.
package llmclient

import (
	"context"
)

// Message is one turn of a single-shot completion request.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Request is a single-shot completion request.
type Request struct {
	Messages    []Message
	Model       string
	Temperature float32
	MaxTokens   int
}

// Response is a single-shot completion result.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Client generates a single completion from a prompt. Each of the three
// engine types calls Complete once per processed event.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
