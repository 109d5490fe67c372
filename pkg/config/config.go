// Package config manages runtime configuration for the orchestration
// coordinator and its Engine Workers: a process-wide singleton guarded by
// a mutex, loaded once from a YAML file plus environment overrides, with
// atomic Update* setters and a Get that returns a value copy so callers
// never observe a partially-updated config.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// LLMBackend names a concrete pkg/llmclient adapter.
type LLMBackend string

const (
	BackendAnthropic LLMBackend = "anthropic"
	BackendOpenAI    LLMBackend = "openai"
	BackendOllama    LLMBackend = "ollama"
	BackendGemini    LLMBackend = "gemini"
)

// StoreConfig configures the sqlite-backed Event/Engine/Scenario Store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// BusConfig configures the EventBus transport (pkg/bus).
type BusConfig struct {
	// Backend is "inprocess" (default) or "redis".
	Backend  string `yaml:"backend"`
	RedisURL string `yaml:"redis_url,omitempty"`
}

// HTTPConfig configures the control-plane API listener.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// EngineDefaults configures the worker loop shared by every Engine Worker.
type EngineDefaults struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	LeaseDuration     time.Duration `yaml:"lease_duration"`
	MaxRetries        int           `yaml:"max_retries"`
	DefaultBatchSize  int           `yaml:"default_batch_size"`
	ShutdownDeadline  time.Duration `yaml:"shutdown_deadline"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// LLMConfig configures the adapter backend every engine type uses, the
// model per engine type, and backend options. It holds no credentials;
// cmd/coordinator resolves those through GetSecret.
type LLMConfig struct {
	DefaultBackend LLMBackend        `yaml:"default_backend"`
	ModelByEngine  map[string]string `yaml:"model_by_engine,omitempty"`
	Options        map[string]any    `yaml:"options,omitempty"`
}

// Config is the complete runtime configuration.
type Config struct {
	Store  StoreConfig    `yaml:"store"`
	Bus    BusConfig      `yaml:"bus"`
	HTTP   HTTPConfig     `yaml:"http"`
	Engine EngineDefaults `yaml:"engine"`
	LLM    LLMConfig      `yaml:"llm"`
}

// Default returns a Config populated with the system-wide defaults: a 5s
// poll interval, 5 minute lease, and 3 max retries.
func Default() Config {
	return Config{
		Store: StoreConfig{Path: "orchestrator.db"},
		Bus:   BusConfig{Backend: "inprocess"},
		HTTP:  HTTPConfig{ListenAddr: ":8080"},
		Engine: EngineDefaults{
			PollInterval:      5 * time.Second,
			LeaseDuration:     5 * time.Minute,
			MaxRetries:        3,
			DefaultBatchSize:  5,
			ShutdownDeadline:  30 * time.Second,
			HeartbeatInterval: 5 * time.Second,
		},
		LLM: LLMConfig{DefaultBackend: BackendAnthropic},
	}
}

var (
	current   = Default()
	currentMu sync.RWMutex
)

// Load reads a YAML config file into the process-wide singleton, applying
// env-var overrides afterward. A missing path is not an error: the
// defaults remain in effect.
func Load(path string) error {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return applyEnvAndStore(cfg)
			}
			return fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	return applyEnvAndStore(cfg)
}

func applyEnvAndStore(cfg Config) error {
	if v := os.Getenv("ORCHESTRATOR_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ORCHESTRATOR_HTTP_ADDR"); v != "" {
		cfg.HTTP.ListenAddr = v
	}
	if v := os.Getenv("ORCHESTRATOR_BUS_BACKEND"); v != "" {
		cfg.Bus.Backend = v
	}
	if v := os.Getenv("ORCHESTRATOR_REDIS_URL"); v != "" {
		cfg.Bus.RedisURL = v
	}

	currentMu.Lock()
	defer currentMu.Unlock()
	current = cfg
	return nil
}

// Get returns a value copy of the current configuration.
func Get() Config {
	currentMu.RLock()
	defer currentMu.RUnlock()
	return current
}

// UpdateEngineDefaults atomically replaces the engine defaults section,
// e.g. to apply a scenario-level max_retries override.
func UpdateEngineDefaults(d EngineDefaults) {
	currentMu.Lock()
	defer currentMu.Unlock()
	current.Engine = d
}
