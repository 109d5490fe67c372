package store

import (
	"database/sql"
	"fmt"
)

// createSchema creates the engines, event_types, scenario_templates,
// agent_templates, scenario_runs, agent_instances, events, and
// event_flow_log tables if absent, and seeds the event_types catalog with
// the event types this repository's engines actually produce. The table
// set is small and stable enough to define once, idempotently, rather than
// through a migration sequence.
func createSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute pragma %s: %w", pragma, err)
		}
	}

	tables := []string{
		// Engine Registry: one row per running Engine Worker process.
		`CREATE TABLE IF NOT EXISTS engines (
			id TEXT PRIMARY KEY,
			engine_type TEXT NOT NULL CHECK (engine_type IN ('actor','narrator','analyst')),
			status TEXT NOT NULL DEFAULT 'healthy' CHECK (status IN ('healthy','degraded','unhealthy')),
			capabilities_json TEXT NOT NULL DEFAULT '{}',
			resource_limits_json TEXT NOT NULL DEFAULT '{}',
			current_workload INTEGER NOT NULL DEFAULT 0,
			active_agent_count INTEGER NOT NULL DEFAULT 0,
			processed_count INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			last_heartbeat DATETIME NOT NULL,
			registered_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Event type catalog: the real table event_type_filter joins
		// against, so callers filter a named, described event type rather
		// than an arbitrary string. engine_type is NULL for event types (like
		// scenario_start) any engine may receive.
		`CREATE TABLE IF NOT EXISTS event_types (
			name TEXT PRIMARY KEY,
			description TEXT,
			schema_json TEXT NOT NULL DEFAULT '{}',
			category TEXT NOT NULL DEFAULT 'uncategorized',
			engine_type TEXT CHECK (engine_type IS NULL OR engine_type IN ('actor','narrator','analyst')),
			created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Scenario templates: reusable scenario definitions.
		`CREATE TABLE IF NOT EXISTS scenario_templates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			roles_json TEXT NOT NULL,
			event_flow_json TEXT NOT NULL,
			initial_state_json TEXT NOT NULL DEFAULT '{}',
			config_json TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Agent templates: reusable per-role agent configuration.
		`CREATE TABLE IF NOT EXISTS agent_templates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			engine_type TEXT NOT NULL CHECK (engine_type IN ('actor','narrator','analyst')),
			system_prompt TEXT,
			llm_backend TEXT,
			llm_model TEXT,
			config_json TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Scenario runs: one row per instantiated scenario.
		`CREATE TABLE IF NOT EXISTS scenario_runs (
			id TEXT PRIMARY KEY,
			template_name TEXT NOT NULL REFERENCES scenario_templates(id),
			name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending' CHECK (
				status IN ('pending','initializing','running','paused','terminated','completed','failed')
			),
			runtime_config_json TEXT NOT NULL DEFAULT '{}',
			current_turn INTEGER NOT NULL DEFAULT 0,
			results_json TEXT NOT NULL DEFAULT '{}',
			state_snapshot_json TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			started_at DATETIME,
			completed_at DATETIME,
			error_message TEXT
		)`,

		// Agent instances: one row per role bound to a running scenario.
		`CREATE TABLE IF NOT EXISTS agent_instances (
			id TEXT PRIMARY KEY,
			scenario_run_id TEXT NOT NULL REFERENCES scenario_runs(id) ON DELETE CASCADE,
			template_name TEXT NOT NULL REFERENCES agent_templates(id),
			instance_name TEXT NOT NULL DEFAULT '',
			role_in_scenario TEXT NOT NULL,
			engine_type TEXT NOT NULL CHECK (engine_type IN ('actor','narrator','analyst')),
			engine_id TEXT REFERENCES engines(id),
			runtime_config_json TEXT NOT NULL DEFAULT '{}',
			runtime_state_json TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			UNIQUE (scenario_run_id, role_in_scenario)
		)`,

		// Events: the leased work queue.
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			scenario_run_id TEXT NOT NULL REFERENCES scenario_runs(id) ON DELETE CASCADE,
			target_agent_id TEXT NOT NULL REFERENCES agent_instances(id),
			event_type TEXT NOT NULL,
			source_agent_id TEXT,
			payload_json TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'queued' CHECK (
				status IN ('queued','processing','completed','failed','retry')
			),
			priority INTEGER NOT NULL DEFAULT 0,
			lease_holder TEXT,
			lease_deadline DATETIME,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 3,
			next_retry_time DATETIME,
			error_message TEXT,
			result_json TEXT NOT NULL DEFAULT '{}',
			processed_by_engines_json TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Event flow log: audit trail of router decisions, for replay/debugging.
		`CREATE TABLE IF NOT EXISTS event_flow_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scenario_run_id TEXT NOT NULL REFERENCES scenario_runs(id) ON DELETE CASCADE,
			source_event_id TEXT NOT NULL,
			rule_name TEXT,
			delivered_event_ids_json TEXT NOT NULL DEFAULT '[]',
			out_of_turn INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
	}

	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_engines_type_status ON engines(engine_type, status)",
		"CREATE INDEX IF NOT EXISTS idx_engines_heartbeat ON engines(last_heartbeat)",
		"CREATE INDEX IF NOT EXISTS idx_scenario_runs_status ON scenario_runs(status)",
		"CREATE INDEX IF NOT EXISTS idx_agent_instances_scenario ON agent_instances(scenario_run_id)",
		"CREATE INDEX IF NOT EXISTS idx_agent_instances_engine ON agent_instances(engine_id)",
		"CREATE INDEX IF NOT EXISTS idx_events_dispatch ON events(status, priority DESC, created_at ASC)",
		"CREATE INDEX IF NOT EXISTS idx_events_scenario ON events(scenario_run_id)",
		"CREATE INDEX IF NOT EXISTS idx_events_target ON events(target_agent_id)",
		"CREATE INDEX IF NOT EXISTS idx_events_lease_deadline ON events(lease_deadline)",
		"CREATE INDEX IF NOT EXISTS idx_flow_log_scenario ON event_flow_log(scenario_run_id)",
		"CREATE INDEX IF NOT EXISTS idx_event_types_category ON event_types(category)",
	}
	for _, idx := range indices {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return seedEventTypes(db)
}

// seedEventTypes populates the catalog with the event types this
// repository's engines actually emit, so a fresh database has a usable
// event_type_filter from first boot. INSERT OR IGNORE makes this safe to
// run on every startup.
func seedEventTypes(db *sql.DB) error {
	seeds := []struct {
		name, description, category string
		engineType                  sql.NullString
	}{
		{
			name:        "scenario_start",
			description: "System-assembled event emitted once when a scenario's init flow rule fires.",
			category:    "system",
		},
		{
			name:        "actor_speech_generated",
			description: "An actor engine's generated line of dialogue for its role.",
			category:    "engine_output",
			engineType:  sql.NullString{String: "actor", Valid: true},
		},
		{
			name:        "scene_description_generated",
			description: "A narrator engine's generated scene or environment description.",
			category:    "engine_output",
			engineType:  sql.NullString{String: "narrator", Valid: true},
		},
		{
			name:        "analysis_checkpoint_generated",
			description: "An analyst engine's generated checkpoint analysis of the scenario so far.",
			category:    "engine_output",
			engineType:  sql.NullString{String: "analyst", Valid: true},
		},
	}
	for _, seed := range seeds {
		if _, err := db.Exec(`
			INSERT OR IGNORE INTO event_types (name, description, category, engine_type)
			VALUES (?, ?, ?, ?)
		`, seed.name, seed.description, seed.category, seed.engineType); err != nil {
			return fmt.Errorf("seed event type %s: %w", seed.name, err)
		}
	}
	return nil
}
