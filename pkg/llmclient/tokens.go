package llmclient

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens for a completion request or response. Every
// backend here is approximated with the GPT-4 encoding; the counts feed
// the metrics layer for cost estimation, so encoding drift of a few
// percent is acceptable.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter builds a counter. The codec load can only fail if the
// embedded vocabulary is unavailable, in which case CountTokens falls back
// to a character-based estimate.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in text, falling back to a
// 4-chars-per-token estimate when no codec is available.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// EstimateTokens counts tokens with a shared default counter. Used to fill
// in Response token counts for backends, like the mock or a misconfigured
// Ollama build, that do not report usage themselves.
func EstimateTokens(text string) int {
	return defaultCounter.CountTokens(text)
}

var defaultCounter = func() *TokenCounter {
	tc, err := NewTokenCounter()
	if err != nil {
		return &TokenCounter{}
	}
	return tc
}()

// FillTokenCounts populates zero token counts on resp by estimating from
// the request messages and generated content.
func FillTokenCounts(req Request, resp *Response) {
	if resp.PromptTokens == 0 {
		total := 0
		for _, m := range req.Messages {
			total += EstimateTokens(m.Content)
		}
		resp.PromptTokens = total
	}
	if resp.CompletionTokens == 0 {
		resp.CompletionTokens = EstimateTokens(resp.Content)
	}
}
