package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"orchestrator/pkg/bus"
	"orchestrator/pkg/domain"
	"orchestrator/pkg/llmclient"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/metrics"
	"orchestrator/pkg/tracing"
)

// Queue is the subset of the leased event queue (pkg/store's Event Store)
// an Engine Worker needs. Implemented directly by *store.Store for
// in-process workers, or by an HTTP client hitting the control-plane API
// for out-of-process workers. The store handle is an explicit dependency,
// never a singleton reached into from here.
type Queue interface {
	LeaseEvents(engineID string, engineType domain.EngineType, supportedEventTypes []string, batchSize int) ([]*domain.Event, error)
	CompleteEvent(id, leaseHolder string, result map[string]any) error
	FailEvent(id, leaseHolder, errMsg string) error
	GetAgentInstance(id string) (*domain.AgentInstance, error)
	GetAgentTemplate(name string) (*domain.AgentTemplate, error)
}

// Registry is the subset of the Engine Registry a worker needs to manage
// its own lifecycle.
type Registry interface {
	RegisterEngine(e *domain.Engine) error
	Heartbeat(id string, status domain.EngineStatus, workload, activeAgents int, processedCount, errorCount int64, lastError string) (*domain.Engine, error)
	DeregisterEngine(id string) error
}

// Config tunes one Worker's loop: poll cadence, shutdown grace period,
// and lease batch size.
type Config struct {
	PollInterval     time.Duration
	ShutdownDeadline time.Duration
	BatchSize        int
	Capabilities     domain.Capabilities
	ResourceLimits   domain.ResourceLimits
}

// Worker represents exactly one registered Engine instance: it polls the
// queue for its engine type, invokes its Processor, publishes outputs onto
// the EventBus, and reports its own health.
type Worker struct {
	ID         string
	EngineType domain.EngineType
	processor  Processor

	queue    Queue
	registry Registry
	llm      llmclient.Client
	out      *bus.EventBus
	cfg      Config
	log      *logx.Logger

	inFlight   int64
	processed  int64
	errorCount int64
	lastError  string
	mu         sync.Mutex

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewWorker constructs a Worker. Call Start to register and begin
// polling.
func NewWorker(processor Processor, q Queue, r Registry, llm llmclient.Client, out *bus.EventBus, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.ShutdownDeadline <= 0 {
		cfg.ShutdownDeadline = 30 * time.Second
	}
	return &Worker{
		EngineType: processor.EngineType(),
		processor:  processor,
		queue:      q,
		registry:   r,
		llm:        llm,
		out:        out,
		cfg:        cfg,
		log:        logx.NewLogger("engine." + string(processor.EngineType())),
		stop:       make(chan struct{}),
	}
}

// Start registers the engine instance under the caller-supplied id and
// launches the poll loop in a goroutine. The registry does not assign the
// id. It returns once registration succeeds.
func (w *Worker) Start(ctx context.Context, id string) error {
	w.ID = id
	err := w.registry.RegisterEngine(&domain.Engine{
		ID:             id,
		EngineType:     w.EngineType,
		Capabilities:   w.cfg.Capabilities,
		ResourceLimits: w.cfg.ResourceLimits,
		Status:         domain.EngineHealthy,
	})
	if err != nil {
		return fmt.Errorf("register engine %s: %w", id, err)
	}

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return
		case <-w.stop:
			w.shutdown()
			return
		case <-ticker.C:
			w.pollOnce(ctx)
			w.heartbeat()
		}
	}
}

// pollOnce leases a batch and processes every event concurrently; within
// one batch, processing order does not affect correctness.
func (w *Worker) pollOnce(ctx context.Context) {
	events, err := w.queue.LeaseEvents(w.ID, w.EngineType, w.cfg.Capabilities.SupportedEventTypes, w.cfg.BatchSize)
	if err != nil {
		w.recordError(err.Error())
		return
	}
	metrics.RecordEventsLeased(string(w.EngineType), len(events))

	var batch sync.WaitGroup
	for _, ev := range events {
		batch.Add(1)
		atomic.AddInt64(&w.inFlight, 1)
		go func(ev *domain.Event) {
			defer batch.Done()
			defer atomic.AddInt64(&w.inFlight, -1)
			w.processOne(ctx, ev)
		}(ev)
	}
	batch.Wait()
}

func (w *Worker) processOne(ctx context.Context, ev *domain.Event) {
	ctx, span := tracing.Start(ctx, "engine.process_event")
	defer span.End()

	agent, err := w.queue.GetAgentInstance(ev.TargetAgentID)
	if err != nil {
		w.fail(ev, fmt.Errorf("load agent instance: %w", err))
		return
	}
	tmpl, err := w.queue.GetAgentTemplate(agent.TemplateName)
	if err != nil {
		w.fail(ev, fmt.Errorf("load agent template: %w", err))
		return
	}

	system := w.processor.BuildSystemPrompt(tmpl, agent)
	user := w.processor.UserPrompt(ev.Payload)

	req := llmclient.Request{
		Messages: []llmclient.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: 1024,
	}
	start := time.Now()
	resp, err := w.llm.Complete(ctx, req)
	metrics.ObserveLLMRequestDuration(string(w.EngineType), time.Since(start).Seconds())
	if err != nil {
		w.fail(ev, fmt.Errorf("llm completion: %w", err))
		return
	}
	llmclient.FillTokenCounts(req, &resp)
	metrics.RecordLLMTokens(ev.ScenarioRunID, string(w.EngineType), resp.PromptTokens, resp.CompletionTokens)

	result := map[string]any{
		w.processor.ResultKey(): resp.Content,
		"prompt_tokens":         resp.PromptTokens,
		"completion_tokens":     resp.CompletionTokens,
	}
	if err := w.queue.CompleteEvent(ev.ID, w.ID, result); err != nil {
		w.recordError(err.Error())
		return
	}
	metrics.RecordEventCompleted(string(w.EngineType), ev.EventType)

	atomic.AddInt64(&w.processed, 1)
	w.out.Publish(bus.Message{
		AgentID:   agent.ID,
		EventType: w.processor.OutputEventType(),
		Payload: map[string]any{
			w.processor.ResultKey(): resp.Content,
			"source_event_id":       ev.ID,
			"source_event_type":     ev.EventType,
		},
	})
}

func (w *Worker) fail(ev *domain.Event, cause error) {
	w.recordError(cause.Error())
	outcome := "retry"
	if ev.RetryCount+1 >= ev.MaxRetries {
		outcome = "terminal"
	}
	metrics.RecordEventFailed(string(w.EngineType), outcome)
	if err := w.queue.FailEvent(ev.ID, w.ID, cause.Error()); err != nil {
		w.log.Error("fail event %s: %v", ev.ID, err)
	}
}

func (w *Worker) recordError(msg string) {
	w.mu.Lock()
	w.lastError = msg
	w.mu.Unlock()
	atomic.AddInt64(&w.errorCount, 1)
	w.log.Warn("engine %s: %s", w.ID, msg)
}

func (w *Worker) heartbeat() {
	w.mu.Lock()
	lastErr := w.lastError
	w.mu.Unlock()

	status := domain.EngineHealthy
	if atomic.LoadInt64(&w.errorCount) > 0 {
		status = domain.EngineDegraded
	}
	_, err := w.registry.Heartbeat(
		w.ID, status,
		int(atomic.LoadInt64(&w.inFlight)), 0,
		atomic.LoadInt64(&w.processed), atomic.LoadInt64(&w.errorCount),
		lastErr,
	)
	if err != nil {
		w.log.Error("heartbeat for %s: %v", w.ID, err)
	}
}

// Stop halts polling after the current batch, waits for in-flight events
// to finish or for ShutdownDeadline to pass (after which they are released
// via lease expiry, not by this call), then deregisters.
func (w *Worker) Stop() {
	close(w.stop)
	w.wg.Wait()
}

func (w *Worker) shutdown() {
	deadline := time.After(w.cfg.ShutdownDeadline)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
wait:
	for atomic.LoadInt64(&w.inFlight) > 0 {
		select {
		case <-deadline:
			break wait
		case <-tick.C:
		}
	}
	if err := w.registry.DeregisterEngine(w.ID); err != nil {
		w.log.Error("deregister %s: %v", w.ID, err)
	}
}
