package llmclient

import "context"

// MockClient is a scripted Client for tests: it returns Responses in
// order, or repeats the last one once exhausted. If Err is set, Complete
// returns it instead (and does not consume a Response), letting tests
// drive the retry/backoff path.
type MockClient struct {
	Responses []Response
	Err       error
	calls     int
	Requests  []Request
}

// Complete returns the next scripted response.
func (m *MockClient) Complete(_ context.Context, req Request) (Response, error) {
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return Response{}, m.Err
	}
	if len(m.Responses) == 0 {
		return Response{Content: "ok"}, nil
	}
	idx := m.calls
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.calls++
	return m.Responses[idx], nil
}
