// Package scheduler runs the coordinator's periodic maintenance jobs: the
// stale-lease sweep, stale-heartbeat engine marking, and per-scenario
// timeout/max-turns enforcement, each on its own cron schedule.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"orchestrator/pkg/logx"
	"orchestrator/pkg/metrics"
)

// EventStore is the subset of pkg/store the scheduler needs for lease
// maintenance.
type EventStore interface {
	SweepStaleLeases() (int64, error)
}

// EngineRegistry is the subset of pkg/store the scheduler needs for
// engine-health maintenance.
type EngineRegistry interface {
	SweepStaleEngines() (int64, error)
}

// ScenarioMonitor is the subset of pkg/runner the scheduler needs for
// scenario-level maintenance.
type ScenarioMonitor interface {
	MonitorTimeoutsAndMaxTurns(now time.Time)
}

// Config tunes each job's cron expression. Empty fields fall back to
// DefaultConfig's cadence.
type Config struct {
	LeaseSweepCron     string
	EngineSweepCron    string
	ScenarioMonitorCron string
}

// DefaultConfig runs lease sweeps every 30 seconds, engine sweeps and
// scenario monitoring every minute — the lease sweep is more frequent
// since domain.LeaseDuration (5 minutes) bounds how stale a claim can get
// before the sweep must reclaim it for another worker.
func DefaultConfig() Config {
	return Config{
		LeaseSweepCron:      "@every 30s",
		EngineSweepCron:     "@every 1m",
		ScenarioMonitorCron: "@every 1m",
	}
}

// Scheduler owns one cron runner driving the three maintenance jobs.
type Scheduler struct {
	cron *cron.Cron
	log  *logx.Logger
}

// New builds and schedules (but does not start) the maintenance jobs.
func New(cfg Config, events EventStore, engines EngineRegistry, scenarios ScenarioMonitor) (*Scheduler, error) {
	if cfg.LeaseSweepCron == "" || cfg.EngineSweepCron == "" || cfg.ScenarioMonitorCron == "" {
		def := DefaultConfig()
		if cfg.LeaseSweepCron == "" {
			cfg.LeaseSweepCron = def.LeaseSweepCron
		}
		if cfg.EngineSweepCron == "" {
			cfg.EngineSweepCron = def.EngineSweepCron
		}
		if cfg.ScenarioMonitorCron == "" {
			cfg.ScenarioMonitorCron = def.ScenarioMonitorCron
		}
	}

	log := logx.NewLogger("scheduler")
	c := cron.New()

	s := &Scheduler{cron: c, log: log}

	if _, err := c.AddFunc(cfg.LeaseSweepCron, func() {
		n, err := events.SweepStaleLeases()
		if err != nil {
			log.Error("sweep stale leases: %v", err)
			return
		}
		metrics.RecordLeaseSweepReclaimed(n)
		if n > 0 {
			log.Warn("reclaimed %d stale leases", n)
		}
	}); err != nil {
		return nil, err
	}

	if _, err := c.AddFunc(cfg.EngineSweepCron, func() {
		n, err := engines.SweepStaleEngines()
		if err != nil {
			log.Error("sweep stale engines: %v", err)
			return
		}
		metrics.RecordEnginesMarkedStale(n)
		if n > 0 {
			log.Warn("marked %d engines stale", n)
		}
	}); err != nil {
		return nil, err
	}

	if _, err := c.AddFunc(cfg.ScenarioMonitorCron, func() {
		scenarios.MonitorTimeoutsAndMaxTurns(time.Now().UTC())
	}); err != nil {
		return nil, err
	}

	return s, nil
}

// Start launches the cron runner in its own goroutine.
func (s *Scheduler) Start() {
	s.log.Info("starting maintenance scheduler")
	s.cron.Start()
}

// Stop halts the cron runner, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("maintenance scheduler stopped")
}
