// Package api exposes the control-plane HTTP surface: engine
// registration/heartbeat/deregistration, the event queue's request/status
// endpoints engines poll, and scenario lifecycle commands. Routing uses
// gorilla/mux for path-variable support ({engine_id}/{event_id}/{id}).
package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"orchestrator/pkg/domain"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/metrics"
	"orchestrator/pkg/runner"
	"orchestrator/pkg/store"
	"orchestrator/pkg/tracing"
)

// EngineStore is the subset of pkg/store the API needs for engine and event
// queue endpoints.
type EngineStore interface {
	RegisterEngine(e *domain.Engine) error
	GetEngine(id string) (*domain.Engine, error)
	ListEngines(engineType domain.EngineType, status domain.EngineStatus) ([]*domain.Engine, error)
	Heartbeat(id string, status domain.EngineStatus, workload, activeAgents int, processedCount, errorCount int64, lastError string) (*domain.Engine, error)
	DeregisterEngine(id string) error
	GetSystemHealth() (*store.SystemHealth, error)
	LeaseEvents(engineID string, engineType domain.EngineType, supportedEventTypes []string, batchSize int) ([]*domain.Event, error)
	GetEvent(id string) (*domain.Event, error)
	CompleteEvent(id, leaseHolder string, result map[string]any) error
	FailEvent(id, leaseHolder, errMsg string) error
}

// ScenarioStore is the subset of pkg/store the API needs to list/describe
// scenario runs without going through the Runner.
type ScenarioStore interface {
	GetScenarioRun(id string) (*domain.ScenarioRun, error)
	ListActiveScenarioRuns() ([]*domain.ScenarioRun, error)
}

// Runner is the subset of pkg/runner.Runner the API drives scenario
// lifecycle commands through.
type Runner interface {
	StartScenario(opts runner.StartOptions) (*domain.ScenarioRun, error)
	SendEventToScenario(runID, eventType string, data map[string]any, targetAgentID string) (map[string]any, error)
	MonitorScenario(runID string) (*runner.MonitorResult, error)
	StopScenario(runID, reason string) (*domain.ScenarioRun, error)
}

// Server wires the three families of endpoints to their backing stores and
// exposes the composed mux.Router as an http.Handler.
type Server struct {
	engines   EngineStore
	scenarios ScenarioStore
	runner    Runner
	metrics   *metrics.QueryService
	log       *logx.Logger
	router    *mux.Router
}

// New builds a Server and registers every control-plane route.
func New(engines EngineStore, scenarios ScenarioStore, r Runner) *Server {
	s := &Server{
		engines:   engines,
		scenarios: scenarios,
		runner:    r,
		log:       logx.NewLogger("api"),
		router:    mux.NewRouter(),
	}
	s.routes()
	return s
}

// WithMetrics attaches a Prometheus-backed QueryService, enabling
// GET /scenarios/{id}/metrics. Without it, that route responds 503 — querying
// aggregated token metrics is optional infrastructure, not required for
// the control plane to run.
func (s *Server) WithMetrics(q *metrics.QueryService) *Server {
	s.metrics = q
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// tracingMiddleware opens one span per request, named after the matched
// route template.
func tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if m := mux.CurrentRoute(r); m != nil {
			if tmpl, err := m.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		ctx, span := tracing.Start(r.Context(), r.Method+" "+route)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) routes() {
	s.router.Use(tracingMiddleware)
	s.router.HandleFunc("/engines/register", s.handleRegisterEngine).Methods(http.MethodPost)
	s.router.HandleFunc("/engines/health/system", s.handleSystemHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/engines/queue/request", s.handleQueueRequest).Methods(http.MethodPost)
	s.router.HandleFunc("/engines/events/{event_id}/status", s.handleEventStatus).Methods(http.MethodPut)
	s.router.HandleFunc("/engines/{engine_id}/heartbeat", s.handleHeartbeat).Methods(http.MethodPut)
	s.router.HandleFunc("/engines/{engine_id}/metrics", s.handleEngineMetrics).Methods(http.MethodGet)
	s.router.HandleFunc("/engines/{engine_id}", s.handleGetEngine).Methods(http.MethodGet)
	s.router.HandleFunc("/engines/{engine_id}", s.handleDeregisterEngine).Methods(http.MethodDelete)
	s.router.HandleFunc("/engines", s.handleListEngines).Methods(http.MethodGet)

	s.router.HandleFunc("/scenarios/execute-from-template", s.handleExecuteFromTemplate).Methods(http.MethodPost)
	s.router.HandleFunc("/scenarios/active", s.handleListActiveScenarios).Methods(http.MethodGet)
	s.router.HandleFunc("/scenarios/{id}/dispatch-event", s.handleDispatchEvent).Methods(http.MethodPost)
	s.router.HandleFunc("/scenarios/{id}/status", s.handleScenarioStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/scenarios/{id}/metrics", s.handleScenarioMetrics).Methods(http.MethodGet)
	s.router.HandleFunc("/scenarios/{id}/stop", s.handleStopScenario).Methods(http.MethodPost)
}

func (s *Server) handleRegisterEngine(w http.ResponseWriter, r *http.Request) {
	var req EngineRegistrationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := req.EngineIDHint
	if id == "" {
		id = uuid.NewString()
	}
	e := &domain.Engine{
		ID:             id,
		EngineType:     req.EngineType,
		Capabilities:   req.Capabilities,
		ResourceLimits: req.ResourceLimits,
		Metadata:       req.Metadata,
	}
	if err := s.engines.RegisterEngine(e); err != nil {
		writeStoreError(w, err)
		return
	}
	stored, err := s.engines.GetEngine(e.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["engine_id"]
	var req HeartbeatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	updated, err := s.engines.Heartbeat(id, req.Status, req.CurrentWorkload, req.ActiveAgents,
		req.ProcessedEventsCount, req.ErrorCount, req.LastError)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeregisterEngine(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["engine_id"]
	if err := s.engines.DeregisterEngine(id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleListEngines(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	engineType := domain.EngineType(q.Get("engine_type"))
	status := domain.EngineStatus(q.Get("status"))
	list, err := s.engines.ListEngines(engineType, status)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetEngine(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["engine_id"]
	e, err := s.engines.GetEngine(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleEngineMetrics reports one engine's accumulated workload/processed/
// error counters, the subset of GetEngine a monitoring caller wants without
// the capability and resource-limit detail GET /engines/{engine_id} carries.
func (s *Server) handleEngineMetrics(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["engine_id"]
	e, err := s.engines.GetEngine(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EngineMetricsResponse{
		EngineID:         e.ID,
		Status:           e.Status,
		CurrentWorkload:  e.CurrentWorkload,
		ActiveAgentCount: e.ActiveAgentCount,
		ProcessedCount:   e.ProcessedCount,
		ErrorCount:       e.ErrorCount,
		LastError:        e.LastError,
		LastHeartbeat:    e.LastHeartbeat.Format(time.RFC3339),
	})
}

// handleSystemHealth classifies the fleet: critical with no healthy
// engines, degraded when unhealthy engines outnumber healthy ones or any
// engine is stale or degraded, healthy otherwise.
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.engines.GetSystemHealth()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	classification := "healthy"
	switch {
	case h.HealthyEngines == 0:
		classification = "critical"
	case h.UnhealthyEngines > h.HealthyEngines || h.StaleEngines > 0 || h.DegradedEngines > 0:
		classification = "degraded"
	}
	writeJSON(w, http.StatusOK, SystemHealthResponse{
		SystemHealth:     classification,
		HealthyEngines:   h.HealthyEngines,
		DegradedEngines:  h.DegradedEngines,
		UnhealthyEngines: h.UnhealthyEngines,
		StaleEngines:     h.StaleEngines,
		QueuedEvents:     h.QueuedEvents,
		ProcessingEvents: h.ProcessingEvents,
		FailedEvents:     h.FailedEvents,
	})
}

func (s *Server) handleQueueRequest(w http.ResponseWriter, r *http.Request) {
	var req EventQueueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MaxEvents <= 0 || req.MaxEvents > 100 {
		writeError(w, http.StatusUnprocessableEntity, "max_events must be between 1 and 100")
		return
	}
	engine, err := s.engines.GetEngine(req.EngineID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if engine.Status != domain.EngineHealthy && engine.Status != domain.EngineDegraded {
		writeError(w, http.StatusConflict, "engine must be healthy or degraded to lease events")
		return
	}

	// The registered engine's declared capabilities gate what it may lease,
	// the same way an in-process Worker self-limits with its own capability
	// set: an absent filter defaults to the declared types, and a filter
	// naming a type the engine never declared returns zero events.
	filter := req.EventTypeFilter
	if declared := engine.Capabilities.SupportedEventTypes; len(declared) > 0 {
		if len(filter) == 0 {
			filter = declared
		} else if !withinDeclaredCapabilities(filter, declared) {
			writeJSON(w, http.StatusOK, []*domain.Event{})
			return
		}
	}

	events, err := s.engines.LeaseEvents(req.EngineID, req.EngineType, filter, req.MaxEvents)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if req.PriorityFilter != nil {
		filtered := make([]*domain.Event, 0, len(events))
		for _, e := range events {
			if e.Priority == *req.PriorityFilter {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	writeJSON(w, http.StatusOK, events)
}

// withinDeclaredCapabilities reports whether every requested event type is
// in the engine's declared supported set.
func withinDeclaredCapabilities(requested, declared []string) bool {
	set := make(map[string]bool, len(declared))
	for _, d := range declared {
		set[d] = true
	}
	for _, r := range requested {
		if !set[r] {
			return false
		}
	}
	return true
}

func (s *Server) handleEventStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["event_id"]
	var req EventStatusUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	switch req.Status {
	case "completed":
		if err := s.engines.CompleteEvent(id, req.EngineID, req.Result); err != nil {
			writeStoreError(w, err)
			return
		}
	case "failed", "retrying":
		if err := s.engines.FailEvent(id, req.EngineID, req.Error); err != nil {
			writeStoreError(w, err)
			return
		}
	case "processing":
		// The event is already processing as of LeaseEvents; this status is
		// accepted as a progress keepalive with no store mutation.
	default:
		writeError(w, http.StatusUnprocessableEntity, "unknown status: "+req.Status)
		return
	}

	ev, err := s.engines.GetEvent(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleExecuteFromTemplate(w http.ResponseWriter, r *http.Request) {
	var req ExecuteFromTemplateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	run, err := s.runner.StartScenario(runner.StartOptions{
		TemplateName:  req.TemplateName,
		ScenarioName:  req.ScenarioName,
		RuntimeConfig: req.ScenarioConfig,
		RoleOverrides: req.AgentConfigs,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ExecuteFromTemplateResponse{
		ScenarioRunID: run.ID,
		Status:        run.Status,
	})
}

func (s *Server) handleDispatchEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req DispatchEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.runner.SendEventToScenario(id, req.EventType, req.EventData, req.TargetAgentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListActiveScenarios(w http.ResponseWriter, r *http.Request) {
	runs, err := s.scenarios.ListActiveScenarioRuns()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]ActiveScenarioSummary, 0, len(runs))
	for _, run := range runs {
		summary := ActiveScenarioSummary{
			ID:           run.ID,
			Name:         run.Name,
			Status:       run.Status,
			TemplateName: run.TemplateName,
		}
		if run.StartedAt != nil {
			ts := run.StartedAt.Format(time.RFC3339)
			summary.StartedAt = &ts
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleScenarioStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := s.runner.MonitorScenario(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleScenarioMetrics reports aggregated token totals for a scenario
// run, read back out of Prometheus via the optional QueryService attached
// with WithMetrics.
func (s *Server) handleScenarioMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics query service not configured")
		return
	}
	id := mux.Vars(r)["id"]
	m, err := s.metrics.GetScenarioMetrics(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadGateway, "query scenario metrics: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleStopScenario(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req StopRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	run, err := s.runner.StopScenario(id, req.Reason)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
