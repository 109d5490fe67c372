// Command coordinator is the orchestration runtime's single binary: it
// owns the sqlite-backed Event/Engine/Scenario Store, the in-process
// EventBus, the Engine Manager, the Scenario Runner, the maintenance
// Scheduler, and the control-plane HTTP API, and spins up one Engine
// Worker per agent instance the Manager asks it to start. Boot takes its
// config path from flags/env; shutdown follows signal.Notify(SIGINT,
// SIGTERM) with a bounded drain before exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"orchestrator/pkg/api"
	"orchestrator/pkg/bus"
	"orchestrator/pkg/bus/redisbus"
	"orchestrator/pkg/config"
	"orchestrator/pkg/domain"
	"orchestrator/pkg/engine"
	"orchestrator/pkg/llmclient"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/manager"
	"orchestrator/pkg/metrics"
	"orchestrator/pkg/runner"
	"orchestrator/pkg/scheduler"
	"orchestrator/pkg/store"
	"orchestrator/pkg/tracing"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to YAML config file")
	flag.Parse()
	if configPath == "" {
		configPath = os.Getenv("ORCHESTRATOR_CONFIG")
	}

	log := logx.NewLogger("coordinator")

	if err := config.Load(configPath); err != nil {
		log.Error("load config: %v", err)
		os.Exit(1)
	}
	cfg := config.Get()

	// LLM credentials can live in the encrypted secrets file; anything not
	// found there falls back to environment variables in apiKeyFor.
	if pw := os.Getenv("ORCHESTRATOR_SECRETS_PASSWORD"); pw != "" && config.SecretsFileExists(".") {
		secrets, err := config.DecryptSecretsFile(".", pw)
		if err != nil {
			log.Error("decrypt secrets file: %v", err)
			os.Exit(1)
		}
		config.SetDecryptedSecrets(secrets)
	}

	if err := store.Initialize(cfg.Store.Path); err != nil {
		log.Error("initialize store: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("close store: %v", err)
		}
	}()

	shutdownTracing, err := tracing.Init("orchestrator-coordinator")
	if err != nil {
		log.Error("initialize tracing: %v", err)
		os.Exit(1)
	}

	st := store.New(store.DB())
	eventBus := bus.New(256)
	eventBus.Start()

	rt := newWorkerRuntime(st, st, eventBus, cfg)
	mgr := manager.New(st, eventBus, rt)
	run := runner.New(st, mgr)

	sched, err := scheduler.New(scheduler.Config{}, st, st, run)
	if err != nil {
		log.Error("build scheduler: %v", err)
		os.Exit(1)
	}
	sched.Start()

	server := api.New(st, st, run)
	if promURL := os.Getenv("ORCHESTRATOR_PROMETHEUS_URL"); promURL != "" {
		if qs, err := metrics.NewQueryService(promURL); err != nil {
			log.Warn("metrics query service disabled: %v", err)
		} else {
			server = server.WithMetrics(qs)
		}
	}

	var redisBridge *redisbus.Bus
	bridgeCtx, cancelBridge := context.WithCancel(context.Background())
	if cfg.Bus.Backend == "redis" && cfg.Bus.RedisURL != "" {
		redisBridge, err = redisbus.New(cfg.Bus.RedisURL, "orchestrator.engine_output")
		if err != nil {
			log.Error("connect redis bus: %v", err)
			os.Exit(1)
		}
		go func() {
			if err := redisBridge.Run(bridgeCtx, eventBus); err != nil {
				log.Error("redis bus bridge stopped: %v", err)
			}
		}()
		log.Info("bridging remote engine workers via redis bus at %s", cfg.Bus.RedisURL)
	}

	httpServer := &http.Server{Addr: cfg.HTTP.ListenAddr, Handler: server}
	go func() {
		log.Info("control-plane API listening on %s", cfg.HTTP.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received signal %v, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownDeadline)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shut down http server: %v", err)
	}
	sched.Stop()
	rt.StopAll()
	cancelBridge()
	if redisBridge != nil {
		_ = redisBridge.Close()
	}
	eventBus.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("shut down tracing: %v", err)
	}
	log.Info("coordinator shutdown complete")
}

// workerRuntime implements manager.AgentRuntime by constructing one
// engine.Worker per agent instance the Manager starts, backed by the
// concrete *store.Store for both the worker's Queue and Registry roles.
type workerRuntime struct {
	queue    engine.Queue
	registry engine.Registry
	out      *bus.EventBus
	cfg      config.Config

	mu      sync.Mutex
	workers map[string]*engine.Worker // agent instance id -> worker
	cancels map[string]context.CancelFunc
}

func newWorkerRuntime(q engine.Queue, r engine.Registry, out *bus.EventBus, cfg config.Config) *workerRuntime {
	return &workerRuntime{
		queue:    q,
		registry: r,
		out:      out,
		cfg:      cfg,
		workers:  make(map[string]*engine.Worker),
		cancels:  make(map[string]context.CancelFunc),
	}
}

func processorFor(engineType domain.EngineType) (engine.Processor, error) {
	switch engineType {
	case domain.EngineTypeActor:
		return engine.ActorProcessor{}, nil
	case domain.EngineTypeNarrator:
		return engine.NarratorProcessor{}, nil
	case domain.EngineTypeAnalyst:
		return engine.AnalystProcessor{}, nil
	default:
		return nil, fmt.Errorf("no processor registered for engine type %s", engineType)
	}
}

// StartAgent builds and starts one Engine Worker for agent, using tmpl's
// engine type to pick a Processor and the LLM model for the configured
// default backend. The worker registers
// itself with a freshly generated engine id and begins polling immediately.
func (rt *workerRuntime) StartAgent(agent *domain.AgentInstance, tmpl *domain.AgentTemplate) (string, error) {
	processor, err := processorFor(tmpl.EngineType)
	if err != nil {
		return "", err
	}

	backend := rt.cfg.LLM.DefaultBackend
	model := rt.cfg.LLM.ModelByEngine[string(tmpl.EngineType)]
	apiKeyOrHost := apiKeyFor(backend)
	llm, err := llmclient.New(backend, apiKeyOrHost, model)
	if err != nil {
		return "", fmt.Errorf("build llm client for %s: %w", agent.ID, err)
	}

	// SupportedEventTypes is left empty: an in-process worker serves agents
	// whose event vocabulary comes from the scenario template, so the lease
	// is scoped by engine type alone and the capability filter is reserved
	// for out-of-process workers registering through the control-plane API.
	worker := engine.NewWorker(processor, rt.queue, rt.registry, llm, rt.out, engine.Config{
		PollInterval:     rt.cfg.Engine.PollInterval,
		ShutdownDeadline: rt.cfg.Engine.ShutdownDeadline,
		BatchSize:        rt.cfg.Engine.DefaultBatchSize,
		Capabilities: domain.Capabilities{
			MaxConcurrentAgents: 1,
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	engineID := uuid.NewString()
	if err := worker.Start(ctx, engineID); err != nil {
		cancel()
		return "", err
	}

	rt.mu.Lock()
	rt.workers[agent.ID] = worker
	rt.cancels[agent.ID] = cancel
	rt.mu.Unlock()
	return engineID, nil
}

// StopAgent stops the worker bound to agentID, if any.
func (rt *workerRuntime) StopAgent(agentID string) error {
	rt.mu.Lock()
	worker, ok := rt.workers[agentID]
	cancel := rt.cancels[agentID]
	delete(rt.workers, agentID)
	delete(rt.cancels, agentID)
	rt.mu.Unlock()
	if !ok {
		return nil
	}
	worker.Stop()
	cancel()
	return nil
}

// StopAll stops every worker the runtime has started, used during process
// shutdown.
func (rt *workerRuntime) StopAll() {
	rt.mu.Lock()
	agentIDs := make([]string, 0, len(rt.workers))
	for id := range rt.workers {
		agentIDs = append(agentIDs, id)
	}
	rt.mu.Unlock()
	for _, id := range agentIDs {
		_ = rt.StopAgent(id)
	}
}

// apiKeyFor resolves an LLM backend's credential through
// config.GetSecret, which prefers the decrypted secrets file and falls
// back to environment variables.
func apiKeyFor(backend config.LLMBackend) string {
	var name string
	switch backend {
	case config.BackendAnthropic:
		name = "ANTHROPIC_API_KEY"
	case config.BackendOpenAI:
		name = "OPENAI_API_KEY"
	case config.BackendGemini:
		name = "GEMINI_API_KEY"
	case config.BackendOllama:
		if host, err := config.GetSecret("OLLAMA_HOST"); err == nil {
			return host
		}
		return "http://localhost:11434"
	default:
		return ""
	}
	key, err := config.GetSecret(name)
	if err != nil {
		return ""
	}
	return key
}
