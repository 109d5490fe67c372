package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// ScenarioMetrics is aggregated token metrics for one scenario run, the
// unit of LLM spend this system tracks.
type ScenarioMetrics struct {
	ScenarioRunID    string `json:"scenario_run_id"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// QueryService queries aggregated metrics back out of Prometheus for a
// completed or running scenario. This is read-path only: recorder.go's
// counters are what actually populate the series this queries.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService builds a QueryService against a running Prometheus server.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("create prometheus client: %w", err)
	}
	return &QueryService{client: client, queryAPI: v1.NewAPI(client)}, nil
}

// GetScenarioMetrics aggregates prompt, completion, and total token counts
// across every engine that participated in scenarioRunID. It reports no
// cost figures.
func (q *QueryService) GetScenarioMetrics(ctx context.Context, scenarioRunID string) (*ScenarioMetrics, error) {
	m := &ScenarioMetrics{ScenarioRunID: scenarioRunID}

	prompt, err := q.scalar(ctx, fmt.Sprintf(
		`sum(orchestrator_llm_tokens_total{scenario_run_id=%q, direction="prompt"})`, scenarioRunID))
	if err != nil {
		return nil, fmt.Errorf("query prompt tokens: %w", err)
	}
	m.PromptTokens = int64(prompt)

	completion, err := q.scalar(ctx, fmt.Sprintf(
		`sum(orchestrator_llm_tokens_total{scenario_run_id=%q, direction="completion"})`, scenarioRunID))
	if err != nil {
		return nil, fmt.Errorf("query completion tokens: %w", err)
	}
	m.CompletionTokens = int64(completion)
	m.TotalTokens = m.PromptTokens + m.CompletionTokens

	return m, nil
}

func (q *QueryService) scalar(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}
