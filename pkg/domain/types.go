// Package domain defines the core data model of the orchestration runtime:
// engine instances, agent/scenario templates, scenario runs, agent instances,
// event instances, and the in-memory scenario context that ties them
// together during a run.
package domain

import "time"

// EngineType identifies which kind of LLM-backed engine processes an event.
type EngineType string

const (
	EngineTypeActor    EngineType = "actor"
	EngineTypeNarrator EngineType = "narrator"
	EngineTypeAnalyst  EngineType = "analyst"
)

// EngineStatus is the dynamic health of a registered Engine Worker.
type EngineStatus string

const (
	EngineHealthy   EngineStatus = "healthy"
	EngineDegraded  EngineStatus = "degraded"
	EngineUnhealthy EngineStatus = "unhealthy"
)

// StaleAfter is the heartbeat age past which an engine is considered stale.
const StaleAfter = 5 * time.Minute

// Capabilities describes what an engine instance declares it can do.
type Capabilities struct {
	SupportedEventTypes        []string `json:"supported_event_types"`
	MaxConcurrentAgents        int      `json:"max_concurrent_agents"`
	SupportsStreaming          bool     `json:"supports_streaming"`
	SupportsMemoryPersistence  bool     `json:"supports_memory_persistence"`
	CustomCapabilities         []string `json:"custom_capabilities,omitempty"`
}

// ResourceLimits bounds an engine instance's declared concurrency and memory.
type ResourceLimits struct {
	MaxConcurrentEvents     int `json:"max_concurrent_events"`
	MemoryLimitMB           int `json:"memory_limit_mb"`
	CPULimitPercent         int `json:"cpu_limit_percent"`
	MaxProcessingTimeSeconds int `json:"max_processing_time_seconds"`
}

// Engine is the durable record of one registered Engine Worker.
type Engine struct {
	ID               string         `json:"id"`
	EngineType       EngineType     `json:"engine_type"`
	Capabilities     Capabilities   `json:"capabilities"`
	ResourceLimits   ResourceLimits `json:"resource_limits"`
	Status           EngineStatus   `json:"status"`
	CurrentWorkload  int            `json:"current_workload"`
	ActiveAgentCount int            `json:"active_agent_count"`
	ProcessedCount   int64          `json:"processed_count"`
	ErrorCount       int64          `json:"error_count"`
	LastHeartbeat    time.Time      `json:"last_heartbeat"`
	LastError        string         `json:"last_error,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	RegisteredAt     time.Time      `json:"registered_at"`
}

// IsStale reports whether the engine's last heartbeat is older than StaleAfter.
func (e *Engine) IsStale(now time.Time) bool {
	return now.Sub(e.LastHeartbeat) > StaleAfter
}

// EventTypeDef is one catalog row naming a legal event type: its payload
// shape (as a JSON-schema string, informational only), category, and the
// engine type that produces it. EngineType is empty for event types, like
// scenario_start, that any engine may receive. The control plane's
// event_type_filter (see pkg/api) joins against this table instead of
// matching a free string.
type EventTypeDef struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Schema      string     `json:"schema,omitempty"`
	Category    string     `json:"category"`
	EngineType  EngineType `json:"engine_type,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AgentTemplate is a consumed-not-owned description of a reusable agent
// personality bound to one engine type.
type AgentTemplate struct {
	Name               string         `json:"name"`
	EngineType         EngineType     `json:"engine_type"`
	PersonalityConfig  map[string]any `json:"personality_config"`
	LLMConfig          map[string]any `json:"llm_config"`
	ToolsConfig        map[string]any `json:"tools_config,omitempty"`
	RuntimeOverrides   map[string]any `json:"runtime_overrides,omitempty"`
}

// AgentRoleSpec is one entry of a scenario template's role map.
type AgentRoleSpec struct {
	TemplateName string         `json:"template_name"`
	EngineType   EngineType     `json:"engine_type"`
	Required     bool           `json:"required"`
	RoleConfig   map[string]any `json:"role_config,omitempty"`
}

// ScenarioTemplateConfig holds a scenario template's tunables.
type ScenarioTemplateConfig struct {
	MaxTurns            int            `json:"max_turns,omitempty"`
	TimeoutSeconds      int            `json:"timeout_seconds,omitempty"`
	MaxRetries          int            `json:"max_retries,omitempty"`
	TurnBased           bool           `json:"turn_based"`
	CompletionConditions map[string]any `json:"completion_conditions,omitempty"`
	InitialState        map[string]any `json:"initial_state,omitempty"`
}

// ScenarioTemplate is a consumed-not-owned scenario blueprint.
type ScenarioTemplate struct {
	Name      string                   `json:"name"`
	Config    ScenarioTemplateConfig   `json:"config"`
	AgentRoles map[string]AgentRoleSpec `json:"agent_roles"`
	EventFlow []FlowRule               `json:"event_flow"`
}

// ScenarioStatus is the lifecycle state of a Scenario Run.
type ScenarioStatus string

const (
	ScenarioPending      ScenarioStatus = "pending"
	ScenarioInitializing ScenarioStatus = "initializing"
	ScenarioRunning      ScenarioStatus = "running"
	ScenarioPaused       ScenarioStatus = "paused"
	ScenarioTerminated   ScenarioStatus = "terminated"
	ScenarioCompleted    ScenarioStatus = "completed"
	ScenarioFailed       ScenarioStatus = "failed"
)

// IsTerminal reports whether the status never transitions again.
func (s ScenarioStatus) IsTerminal() bool {
	switch s {
	case ScenarioTerminated, ScenarioCompleted, ScenarioFailed:
		return true
	default:
		return false
	}
}

// ScenarioRun is the durable record of one scenario execution.
type ScenarioRun struct {
	ID            string         `json:"id"`
	TemplateName  string         `json:"template_name"`
	Name          string         `json:"name"`
	Status        ScenarioStatus `json:"status"`
	RuntimeConfig map[string]any `json:"runtime_config,omitempty"`
	CurrentTurn   int            `json:"current_turn"`
	Results       map[string]any `json:"results,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// AgentInstance is the per-role runtime record bound to one scenario run.
type AgentInstance struct {
	ID             string         `json:"id"`
	ScenarioRunID  string         `json:"scenario_run_id"`
	TemplateName   string         `json:"template_name"`
	InstanceName   string         `json:"instance_name"`
	RoleInScenario string         `json:"role_in_scenario"`
	EngineType     EngineType     `json:"engine_type"`
	RuntimeConfig  map[string]any `json:"runtime_config,omitempty"`
	RuntimeState   map[string]any `json:"runtime_state,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// EventStatus is the lifecycle state of an Event Instance in the leased queue.
type EventStatus string

const (
	EventQueued     EventStatus = "queued"
	EventProcessing EventStatus = "processing"
	EventCompleted  EventStatus = "completed"
	EventFailed     EventStatus = "failed"
	EventRetry      EventStatus = "retry"
)

// IsTerminal reports whether the event status never transitions again.
func (s EventStatus) IsTerminal() bool {
	return s == EventCompleted || s == EventFailed
}

// DefaultMaxRetries is the system-wide default for Event.MaxRetries,
// overridable per scenario template config.
const DefaultMaxRetries = 3

// LeaseDuration is how long a lease is held before it is eligible for
// stale-lease recovery.
const LeaseDuration = 5 * time.Minute

// Event is the durable record of one unit of work routed between engines.
type Event struct {
	ID                string         `json:"id"`
	ScenarioRunID     string         `json:"scenario_run_id"`
	EventType         string         `json:"event_type"`
	SourceAgentID     string         `json:"source_agent_id,omitempty"`
	TargetAgentID     string         `json:"target_agent_id,omitempty"`
	Payload           map[string]any `json:"payload"`
	Priority          int            `json:"priority"`
	Status            EventStatus    `json:"status"`
	LeaseHolder       string         `json:"lease_holder,omitempty"`
	LeaseDeadline     *time.Time     `json:"lease_deadline,omitempty"`
	RetryCount        int            `json:"retry_count"`
	MaxRetries        int            `json:"max_retries"`
	LastError         string         `json:"last_error,omitempty"`
	NextRetryTime     *time.Time     `json:"next_retry_time,omitempty"`
	ProcessedByEngines []string      `json:"processed_by_engines,omitempty"`
	Result            map[string]any `json:"result,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Visible reports whether the event is eligible to be leased at time now:
// queued, or retry whose backoff has elapsed, and not under an unexpired
// lease.
func (e *Event) Visible(now time.Time) bool {
	leaseFree := e.LeaseDeadline == nil || !e.LeaseDeadline.After(now)
	switch e.Status {
	case EventQueued:
		return leaseFree
	case EventRetry:
		return leaseFree && (e.NextRetryTime == nil || !e.NextRetryTime.After(now))
	default:
		return false
	}
}

// RetryBackoff computes the exponential delay before a failed event
// becomes eligible for redelivery: min(60*2^retryCount, 3600) seconds.
func RetryBackoff(retryCount int) time.Duration {
	secs := 60 * (1 << uint(retryCount))
	if secs > 3600 {
		secs = 3600
	}
	return time.Duration(secs) * time.Second
}
