package llmclient

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiClient adapts google.golang.org/genai to Client; the underlying
// client is created lazily on first Complete call since genai.NewClient
// needs a context.
type GeminiClient struct {
	client *genai.Client
	apiKey string
	model  string
}

// NewGeminiClient builds a client for the given API key and model name.
func NewGeminiClient(apiKey, model string) *GeminiClient {
	return &GeminiClient{apiKey: apiKey, model: model}
}

// Complete issues one generate-content call.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (Response, error) {
	if c.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return Response{}, fmt.Errorf("create gemini client: %w", err)
		}
		c.client = client
	}

	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	var system string
	var contents []*genai.Content
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	temp := req.Temperature
	maxTokens := int32(req.MaxTokens) //nolint:gosec // bounded by caller config
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: maxTokens,
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return Response{}, fmt.Errorf("gemini completion: %w", err)
	}

	var text string
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, p := range resp.Candidates[0].Content.Parts {
			text += p.Text
		}
	}
	return Response{Content: text}, nil
}
