package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/pkg/domain"
	"orchestrator/pkg/runner"
	"orchestrator/pkg/store"
)

type fakeEngines struct {
	engines    map[string]*domain.Engine
	events     map[string]*domain.Event
	health     *store.SystemHealth
	leaseCalls int
	lastFilter []string
}

func newFakeEngines() *fakeEngines {
	return &fakeEngines{engines: map[string]*domain.Engine{}, events: map[string]*domain.Event{}}
}

func (f *fakeEngines) RegisterEngine(e *domain.Engine) error {
	e.Status = domain.EngineHealthy
	e.LastHeartbeat = time.Now().UTC()
	f.engines[e.ID] = e
	return nil
}

func (f *fakeEngines) GetEngine(id string) (*domain.Engine, error) {
	e, ok := f.engines[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e, nil
}

func (f *fakeEngines) ListEngines(engineType domain.EngineType, status domain.EngineStatus) ([]*domain.Engine, error) {
	var out []*domain.Engine
	for _, e := range f.engines {
		if engineType != "" && e.EngineType != engineType {
			continue
		}
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeEngines) Heartbeat(id string, status domain.EngineStatus, workload, activeAgents int, processedCount, errorCount int64, lastError string) (*domain.Engine, error) {
	e, ok := f.engines[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	e.Status = status
	e.CurrentWorkload = workload
	e.ActiveAgentCount = activeAgents
	e.ProcessedCount = processedCount
	e.ErrorCount = errorCount
	e.LastError = lastError
	e.LastHeartbeat = time.Now().UTC()
	return e, nil
}

func (f *fakeEngines) DeregisterEngine(id string) error {
	if _, ok := f.engines[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.engines, id)
	return nil
}

func (f *fakeEngines) GetSystemHealth() (*store.SystemHealth, error) {
	if f.health != nil {
		return f.health, nil
	}
	return &store.SystemHealth{}, nil
}

func (f *fakeEngines) LeaseEvents(engineID string, engineType domain.EngineType, supportedEventTypes []string, batchSize int) ([]*domain.Event, error) {
	f.leaseCalls++
	f.lastFilter = supportedEventTypes
	var out []*domain.Event
	for _, e := range f.events {
		if e.Status == domain.EventQueued {
			e.Status = domain.EventProcessing
			e.LeaseHolder = engineID
			out = append(out, e)
			if len(out) >= batchSize {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeEngines) GetEvent(id string) (*domain.Event, error) {
	e, ok := f.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e, nil
}

func (f *fakeEngines) CompleteEvent(id, leaseHolder string, result map[string]any) error {
	e, ok := f.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	if e.LeaseHolder != leaseHolder {
		return domain.ErrLeaseMismatch
	}
	e.Status = domain.EventCompleted
	e.Result = result
	return nil
}

func (f *fakeEngines) FailEvent(id, leaseHolder, errMsg string) error {
	e, ok := f.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	if e.LeaseHolder != leaseHolder {
		return domain.ErrLeaseMismatch
	}
	e.Status = domain.EventFailed
	e.LastError = errMsg
	return nil
}

type fakeScenarios struct {
	runs map[string]*domain.ScenarioRun
}

func (f *fakeScenarios) GetScenarioRun(id string) (*domain.ScenarioRun, error) {
	r, ok := f.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeScenarios) ListActiveScenarioRuns() ([]*domain.ScenarioRun, error) {
	var out []*domain.ScenarioRun
	for _, r := range f.runs {
		if !r.Status.IsTerminal() {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeRunner struct {
	startResult   *domain.ScenarioRun
	startErr      error
	sendResult    map[string]any
	sendErr       error
	monitorResult *runner.MonitorResult
	monitorErr    error
	stopResult    *domain.ScenarioRun
	stopErr       error
	lastStopReason string
}

func (f *fakeRunner) StartScenario(opts runner.StartOptions) (*domain.ScenarioRun, error) {
	return f.startResult, f.startErr
}

func (f *fakeRunner) SendEventToScenario(runID, eventType string, data map[string]any, targetAgentID string) (map[string]any, error) {
	return f.sendResult, f.sendErr
}

func (f *fakeRunner) MonitorScenario(runID string) (*runner.MonitorResult, error) {
	return f.monitorResult, f.monitorErr
}

func (f *fakeRunner) StopScenario(runID, reason string) (*domain.ScenarioRun, error) {
	f.lastStopReason = reason
	return f.stopResult, f.stopErr
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHandleRegisterEngine(t *testing.T) {
	fe := newFakeEngines()
	s := New(fe, &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, &fakeRunner{})

	rec := doRequest(t, s, http.MethodPost, "/engines/register", EngineRegistrationRequest{
		EngineType:   domain.EngineTypeActor,
		Capabilities: domain.Capabilities{SupportedEventTypes: []string{"actor_speech_generated"}},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var got domain.Engine
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, domain.EngineHealthy, got.Status)
}

func TestHandleRegisterEngine_UsesHintWhenProvided(t *testing.T) {
	fe := newFakeEngines()
	s := New(fe, &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, &fakeRunner{})

	rec := doRequest(t, s, http.MethodPost, "/engines/register", EngineRegistrationRequest{
		EngineType:   domain.EngineTypeNarrator,
		EngineIDHint: "engine-fixed-1",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var got domain.Engine
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "engine-fixed-1", got.ID)
}

func TestHandleHeartbeat_UnknownEngineReturnsNotFound(t *testing.T) {
	fe := newFakeEngines()
	s := New(fe, &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, &fakeRunner{})

	rec := doRequest(t, s, http.MethodPut, "/engines/ghost/heartbeat", HeartbeatRequest{Status: domain.EngineHealthy})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleEngineMetrics(t *testing.T) {
	fe := newFakeEngines()
	fe.engines["e1"] = &domain.Engine{
		ID: "e1", EngineType: domain.EngineTypeActor, Status: domain.EngineHealthy,
		CurrentWorkload: 3, ActiveAgentCount: 2, ProcessedCount: 40, ErrorCount: 1,
	}
	s := New(fe, &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, &fakeRunner{})

	rec := doRequest(t, s, http.MethodGet, "/engines/e1/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got EngineMetricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "e1", got.EngineID)
	assert.Equal(t, 3, got.CurrentWorkload)
	assert.Equal(t, 2, got.ActiveAgentCount)
	assert.Equal(t, int64(40), got.ProcessedCount)
	assert.Equal(t, int64(1), got.ErrorCount)
}

func TestHandleEngineMetrics_UnknownEngineReturnsNotFound(t *testing.T) {
	fe := newFakeEngines()
	s := New(fe, &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, &fakeRunner{})

	rec := doRequest(t, s, http.MethodGet, "/engines/ghost/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSystemHealth_ClassifiesCritical(t *testing.T) {
	fe := newFakeEngines()
	fe.health = &store.SystemHealth{HealthyEngines: 0, UnhealthyEngines: 2}
	s := New(fe, &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, &fakeRunner{})

	rec := doRequest(t, s, http.MethodGet, "/engines/health/system", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got SystemHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "critical", got.SystemHealth)
}

func TestHandleSystemHealth_ClassifiesDegradedOnStale(t *testing.T) {
	fe := newFakeEngines()
	fe.health = &store.SystemHealth{HealthyEngines: 3, StaleEngines: 1}
	s := New(fe, &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, &fakeRunner{})

	rec := doRequest(t, s, http.MethodGet, "/engines/health/system", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got SystemHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "degraded", got.SystemHealth)
}

func TestHandleSystemHealth_ClassifiesHealthy(t *testing.T) {
	fe := newFakeEngines()
	fe.health = &store.SystemHealth{HealthyEngines: 3}
	s := New(fe, &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, &fakeRunner{})

	rec := doRequest(t, s, http.MethodGet, "/engines/health/system", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got SystemHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "healthy", got.SystemHealth)
}

func TestHandleQueueRequest_RejectsUnhealthyEngine(t *testing.T) {
	fe := newFakeEngines()
	fe.engines["e1"] = &domain.Engine{ID: "e1", EngineType: domain.EngineTypeActor, Status: domain.EngineUnhealthy}
	s := New(fe, &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, &fakeRunner{})

	rec := doRequest(t, s, http.MethodPost, "/engines/queue/request", EventQueueRequest{
		EngineType: domain.EngineTypeActor, EngineID: "e1", MaxEvents: 10,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleQueueRequest_RejectsOutOfRangeMaxEvents(t *testing.T) {
	fe := newFakeEngines()
	fe.engines["e1"] = &domain.Engine{ID: "e1", EngineType: domain.EngineTypeActor, Status: domain.EngineHealthy}
	s := New(fe, &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, &fakeRunner{})

	rec := doRequest(t, s, http.MethodPost, "/engines/queue/request", EventQueueRequest{
		EngineType: domain.EngineTypeActor, EngineID: "e1", MaxEvents: 0,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleQueueRequest_LeasesEvents(t *testing.T) {
	fe := newFakeEngines()
	fe.engines["e1"] = &domain.Engine{ID: "e1", EngineType: domain.EngineTypeActor, Status: domain.EngineHealthy}
	fe.events["ev1"] = &domain.Event{ID: "ev1", EventType: "actor_speech_generated", Status: domain.EventQueued}
	s := New(fe, &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, &fakeRunner{})

	rec := doRequest(t, s, http.MethodPost, "/engines/queue/request", EventQueueRequest{
		EngineType: domain.EngineTypeActor, EngineID: "e1", MaxEvents: 10,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var got []*domain.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "ev1", got[0].ID)
}

func TestHandleQueueRequest_FilterOutsideDeclaredCapabilitiesReturnsEmpty(t *testing.T) {
	fe := newFakeEngines()
	fe.engines["e1"] = &domain.Engine{
		ID: "e1", EngineType: domain.EngineTypeActor, Status: domain.EngineHealthy,
		Capabilities: domain.Capabilities{SupportedEventTypes: []string{"conversation_message"}},
	}
	fe.events["ev1"] = &domain.Event{ID: "ev1", EventType: "analyze_checkpoint", Status: domain.EventQueued}
	s := New(fe, &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, &fakeRunner{})

	rec := doRequest(t, s, http.MethodPost, "/engines/queue/request", EventQueueRequest{
		EngineType: domain.EngineTypeActor, EngineID: "e1", MaxEvents: 10,
		EventTypeFilter: []string{"analyze_checkpoint"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var got []*domain.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Empty(t, got, "an undeclared capability must lease zero events")
	assert.Zero(t, fe.leaseCalls, "the store is never consulted for an undeclared capability")
}

func TestHandleQueueRequest_AbsentFilterDefaultsToDeclaredCapabilities(t *testing.T) {
	fe := newFakeEngines()
	fe.engines["e1"] = &domain.Engine{
		ID: "e1", EngineType: domain.EngineTypeActor, Status: domain.EngineHealthy,
		Capabilities: domain.Capabilities{SupportedEventTypes: []string{"conversation_message"}},
	}
	s := New(fe, &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, &fakeRunner{})

	rec := doRequest(t, s, http.MethodPost, "/engines/queue/request", EventQueueRequest{
		EngineType: domain.EngineTypeActor, EngineID: "e1", MaxEvents: 10,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"conversation_message"}, fe.lastFilter,
		"lease is scoped to the engine's declared capability set")
}

func TestHandleQueueRequest_FilterWithinDeclaredCapabilitiesPassesThrough(t *testing.T) {
	fe := newFakeEngines()
	fe.engines["e1"] = &domain.Engine{
		ID: "e1", EngineType: domain.EngineTypeActor, Status: domain.EngineHealthy,
		Capabilities: domain.Capabilities{SupportedEventTypes: []string{"conversation_message", "scenario_start"}},
	}
	s := New(fe, &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, &fakeRunner{})

	rec := doRequest(t, s, http.MethodPost, "/engines/queue/request", EventQueueRequest{
		EngineType: domain.EngineTypeActor, EngineID: "e1", MaxEvents: 10,
		EventTypeFilter: []string{"scenario_start"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"scenario_start"}, fe.lastFilter)
}

func TestHandleEventStatus_CompletedRequiresLeaseHolder(t *testing.T) {
	fe := newFakeEngines()
	fe.events["ev1"] = &domain.Event{ID: "ev1", Status: domain.EventProcessing, LeaseHolder: "e1"}
	s := New(fe, &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, &fakeRunner{})

	rec := doRequest(t, s, http.MethodPut, "/engines/events/ev1/status", EventStatusUpdateRequest{
		EngineID: "wrong-engine", Status: "completed",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleEventStatus_CompletedByLeaseHolder(t *testing.T) {
	fe := newFakeEngines()
	fe.events["ev1"] = &domain.Event{ID: "ev1", Status: domain.EventProcessing, LeaseHolder: "e1"}
	s := New(fe, &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, &fakeRunner{})

	rec := doRequest(t, s, http.MethodPut, "/engines/events/ev1/status", EventStatusUpdateRequest{
		EngineID: "e1", Status: "completed", Result: map[string]any{"ok": true},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.EventCompleted, fe.events["ev1"].Status)
}

func TestHandleExecuteFromTemplate(t *testing.T) {
	fr := &fakeRunner{startResult: &domain.ScenarioRun{ID: "run-1", Status: domain.ScenarioRunning}}
	s := New(newFakeEngines(), &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, fr)

	rec := doRequest(t, s, http.MethodPost, "/scenarios/execute-from-template", ExecuteFromTemplateRequest{
		TemplateName: "duel",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var got ExecuteFromTemplateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got.ScenarioRunID)
	assert.Equal(t, domain.ScenarioRunning, got.Status)
}

func TestHandleListActiveScenarios(t *testing.T) {
	started := time.Now().UTC()
	fs := &fakeScenarios{runs: map[string]*domain.ScenarioRun{
		"r1": {ID: "r1", Name: "duel-1", Status: domain.ScenarioRunning, TemplateName: "duel", StartedAt: &started},
		"r2": {ID: "r2", Name: "duel-2", Status: domain.ScenarioCompleted, TemplateName: "duel"},
	}}
	s := New(newFakeEngines(), fs, &fakeRunner{})

	rec := doRequest(t, s, http.MethodGet, "/scenarios/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got []ActiveScenarioSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)
}

func TestHandleStopScenario_EmptyBodyAllowed(t *testing.T) {
	fr := &fakeRunner{stopResult: &domain.ScenarioRun{ID: "run-1", Status: domain.ScenarioTerminated}}
	s := New(newFakeEngines(), &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, fr)

	req := httptest.NewRequest(http.MethodPost, "/scenarios/run-1/stop", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", fr.lastStopReason)
}

func TestHandleStopScenario_WithReason(t *testing.T) {
	fr := &fakeRunner{stopResult: &domain.ScenarioRun{ID: "run-1", Status: domain.ScenarioTerminated}}
	s := New(newFakeEngines(), &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, fr)

	rec := doRequest(t, s, http.MethodPost, "/scenarios/run-1/stop", StopRequest{Reason: "operator request"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "operator request", fr.lastStopReason)
}

func TestHandleDispatchEvent(t *testing.T) {
	fr := &fakeRunner{sendResult: map[string]any{"status": "delivered"}}
	s := New(newFakeEngines(), &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, fr)

	rec := doRequest(t, s, http.MethodPost, "/scenarios/run-1/dispatch-event", DispatchEventRequest{
		EventType: "custom_event", EventData: map[string]any{"k": "v"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleScenarioStatus_NotFound(t *testing.T) {
	fr := &fakeRunner{monitorErr: domain.ErrNotFound}
	s := New(newFakeEngines(), &fakeScenarios{runs: map[string]*domain.ScenarioRun{}}, fr)

	rec := doRequest(t, s, http.MethodGet, "/scenarios/ghost/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
