package llmclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// OllamaClient adapts github.com/ollama/ollama's api.Client to Client: a
// single non-streaming chat call, no tool-calling.
type OllamaClient struct {
	client *api.Client
	model  string
}

// NewOllamaClient builds a client pointed at hostURL (e.g.
// "http://localhost:11434") for the given model.
func NewOllamaClient(hostURL, model string) *OllamaClient {
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &OllamaClient{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}
}

// Complete issues one non-streaming chat completion.
func (c *OllamaClient) Complete(ctx context.Context, req Request) (Response, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	messages := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
	}

	stream := false
	var out Response
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}

	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		out.Content += resp.Message.Content
		out.PromptTokens = resp.PromptEvalCount
		out.CompletionTokens = resp.EvalCount
		return nil
	})
	if err != nil {
		return Response{}, fmt.Errorf("ollama completion: %w", err)
	}
	return out, nil
}
