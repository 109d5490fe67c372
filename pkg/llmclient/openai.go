package llmclient

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// OpenAIClient adapts github.com/openai/openai-go to Client, flattening
// the Message slice into the Responses API's input format.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient builds a client for the given API key and model name.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete issues one completion call via the Responses API.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	var inputText string
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			inputText += fmt.Sprintf("System: %s\n\n", m.Content)
		case "assistant":
			inputText += fmt.Sprintf("Assistant: %s\n\n", m.Content)
		default:
			inputText += m.Content
		}
	}

	resp, err := c.client.Responses.New(ctx, responses.ResponseNewParams{
		Model: openai.ChatModel(model),
		Input: responses.ResponseNewParamsInputUnion{OfString: openai.String(inputText)},
	})
	if err != nil {
		return Response{}, fmt.Errorf("openai completion: %w", err)
	}

	return Response{
		Content:          resp.OutputText(),
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}
