package api

import "orchestrator/pkg/domain"

// EngineRegistrationRequest is the body of POST /engines/register.
type EngineRegistrationRequest struct {
	EngineType     domain.EngineType     `json:"engine_type"`
	EngineIDHint   string                `json:"engine_id_hint,omitempty"`
	Capabilities   domain.Capabilities   `json:"capabilities"`
	ResourceLimits domain.ResourceLimits `json:"resource_limits"`
	Metadata       map[string]any        `json:"metadata,omitempty"`
}

// HeartbeatRequest is the body of PUT /engines/{engine_id}/heartbeat.
type HeartbeatRequest struct {
	Status               domain.EngineStatus `json:"status"`
	CurrentWorkload      int                 `json:"current_workload"`
	ActiveAgents         int                 `json:"active_agents"`
	ProcessedEventsCount int64               `json:"processed_events_count"`
	ErrorCount           int64               `json:"error_count"`
	ResourceUtilization  map[string]any      `json:"resource_utilization,omitempty"`
	LastError            string              `json:"last_error,omitempty"`
}

// EventQueueRequest is the body of POST /engines/queue/request.
//
// EventTypeFilter names event types by string on the wire, but
// LeaseEvents resolves each name against the event_types catalog table
// before it can match anything queued under it — a name absent from the
// catalog never leases an event, even if the caller asks for it by name.
type EventQueueRequest struct {
	EngineType      domain.EngineType `json:"engine_type"`
	EngineID        string            `json:"engine_id"`
	MaxEvents       int               `json:"max_events"`
	PriorityFilter  *int              `json:"priority_filter,omitempty"`
	EventTypeFilter []string          `json:"event_type_filter,omitempty"`
}

// EventStatusUpdateRequest is the body of PUT /engines/events/{event_id}/status.
//
// The endpoint must verify the request originates from the current lease
// holder, so EngineID is required: the lease holder names itself and
// CompleteEvent/FailEvent compare it against the stored lease holder (by
// engine id, not by connection).
type EventStatusUpdateRequest struct {
	EngineID         string         `json:"engine_id"`
	Status           string         `json:"status"`
	Result           map[string]any `json:"result,omitempty"`
	Error            string         `json:"error,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms,omitempty"`
}

// ExecuteFromTemplateRequest is the body of POST /scenarios/execute-from-template.
type ExecuteFromTemplateRequest struct {
	TemplateName   string                    `json:"template_name"`
	ScenarioName   string                    `json:"scenario_name,omitempty"`
	ScenarioConfig map[string]any            `json:"scenario_config,omitempty"`
	AgentConfigs   map[string]map[string]any `json:"agent_configs,omitempty"`
}

// ExecuteFromTemplateResponse is the response of POST /scenarios/execute-from-template.
type ExecuteFromTemplateResponse struct {
	ScenarioRunID string                `json:"scenario_run_id"`
	Status        domain.ScenarioStatus `json:"status"`
}

// DispatchEventRequest is the body of POST /scenarios/{id}/dispatch-event.
type DispatchEventRequest struct {
	EventType     string         `json:"event_type"`
	EventData     map[string]any `json:"event_data,omitempty"`
	TargetAgentID string         `json:"target_agent_id,omitempty"`
}

// StopRequest is the body of POST /scenarios/{id}/stop.
type StopRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ActiveScenarioSummary is one entry of GET /scenarios/active.
type ActiveScenarioSummary struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Status       domain.ScenarioStatus `json:"status"`
	StartedAt    *string               `json:"started_at,omitempty"`
	TemplateName string                `json:"template_id"`
}

// EngineMetricsResponse is the response of GET /engines/{engine_id}/metrics:
// the per-engine processed/error/workload counters Heartbeat accumulates,
// reported without the capability/resource-limit detail GET /engines/{id}
// already carries.
type EngineMetricsResponse struct {
	EngineID         string              `json:"engine_id"`
	Status           domain.EngineStatus `json:"status"`
	CurrentWorkload  int                 `json:"current_workload"`
	ActiveAgentCount int                 `json:"active_agent_count"`
	ProcessedCount   int64               `json:"processed_count"`
	ErrorCount       int64               `json:"error_count"`
	LastError        string              `json:"last_error,omitempty"`
	LastHeartbeat    string              `json:"last_heartbeat"`
}

// SystemHealthResponse is the response of GET /engines/health/system.
type SystemHealthResponse struct {
	SystemHealth     string `json:"system_health"`
	HealthyEngines   int64  `json:"healthy_engines"`
	DegradedEngines  int64  `json:"degraded_engines"`
	UnhealthyEngines int64  `json:"unhealthy_engines"`
	StaleEngines     int64  `json:"stale_engines"`
	QueuedEvents     int64  `json:"queued_events"`
	ProcessingEvents int64  `json:"processing_events"`
	FailedEvents     int64  `json:"failed_events"`
}
