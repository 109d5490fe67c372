package store

import (
	"database/sql"
	"fmt"
	"time"

	"orchestrator/pkg/domain"
)

// RegisterEngine inserts a new Engine Registry row. Callers assign the id
// (typically a uuid) before calling.
func (s *Store) RegisterEngine(e *domain.Engine) error {
	caps, err := marshalJSON(e.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	limits, err := marshalJSON(e.ResourceLimits)
	if err != nil {
		return fmt.Errorf("marshal resource limits: %w", err)
	}
	meta, err := marshalJSON(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if e.Status == "" {
		e.Status = domain.EngineHealthy
	}
	if e.LastHeartbeat.IsZero() {
		e.LastHeartbeat = time.Now().UTC()
	}
	e.RegisteredAt = time.Now().UTC()

	_, err = s.db.Exec(`
		INSERT INTO engines (
			id, engine_type, status, capabilities_json, resource_limits_json,
			metadata_json, last_heartbeat, registered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, string(e.EngineType), string(e.Status), caps, limits, meta,
		e.LastHeartbeat, e.RegisteredAt)
	if err != nil {
		return fmt.Errorf("register engine %s: %w", e.ID, err)
	}
	return nil
}

func scanEngineRow(row interface{ Scan(...any) error }) (*domain.Engine, error) {
	var e domain.Engine
	var engineType, status, capsJSON, limitsJSON, metaJSON string
	var lastErr sql.NullString

	if err := row.Scan(
		&e.ID, &engineType, &status, &capsJSON, &limitsJSON,
		&e.CurrentWorkload, &e.ActiveAgentCount, &e.ProcessedCount, &e.ErrorCount,
		&lastErr, &metaJSON, &e.LastHeartbeat, &e.RegisteredAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan engine: %w", err)
	}
	e.EngineType = domain.EngineType(engineType)
	e.Status = domain.EngineStatus(status)
	if lastErr.Valid {
		e.LastError = lastErr.String
	}
	if err := unmarshalInto(capsJSON, &e.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	if err := unmarshalInto(limitsJSON, &e.ResourceLimits); err != nil {
		return nil, fmt.Errorf("unmarshal resource limits: %w", err)
	}
	if err := unmarshalInto(metaJSON, &e.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &e, nil
}

const engineSelectCols = `
	id, engine_type, status, capabilities_json, resource_limits_json,
	current_workload, active_agent_count, processed_count, error_count,
	last_error, metadata_json, last_heartbeat, registered_at
`

// GetEngine loads one engine record by id.
func (s *Store) GetEngine(id string) (*domain.Engine, error) {
	row := s.db.QueryRow(`SELECT `+engineSelectCols+` FROM engines WHERE id = ?`, id)
	return scanEngineRow(row)
}

// ListEngines returns engines, optionally filtered by type and/or status.
// An empty filter value means "any".
func (s *Store) ListEngines(engineType domain.EngineType, status domain.EngineStatus) ([]*domain.Engine, error) {
	query := `SELECT ` + engineSelectCols + ` FROM engines WHERE 1=1`
	var args []any
	if engineType != "" {
		query += " AND engine_type = ?"
		args = append(args, string(engineType))
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY registered_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list engines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Engine
	for rows.Next() {
		e, err := scanEngineRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Heartbeat updates an engine's dynamic fields. Only the registering
// engine is expected to call this for its own id (enforced by the
// control-plane handler, not by the store).
func (s *Store) Heartbeat(id string, status domain.EngineStatus, workload, activeAgents int, processedCount, errorCount int64, lastError string) (*domain.Engine, error) {
	var lastErrArg any
	if lastError != "" {
		lastErrArg = lastError
	}
	res, err := s.db.Exec(`
		UPDATE engines
		SET status = ?, current_workload = ?, active_agent_count = ?,
		    processed_count = ?, error_count = ?, last_error = ?, last_heartbeat = ?
		WHERE id = ?
	`, string(status), workload, activeAgents, processedCount, errorCount,
		lastErrArg, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("heartbeat engine %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected heartbeat %s: %w", id, err)
	}
	if n == 0 {
		return nil, domain.ErrNotFound
	}
	return s.GetEngine(id)
}

// DeregisterEngine removes the engine record and releases any leased
// events it held back to queued, clearing the lease.
func (s *Store) DeregisterEngine(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin deregister tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		UPDATE events
		SET status = 'queued', lease_holder = NULL, lease_deadline = NULL, updated_at = ?
		WHERE lease_holder = ? AND status = 'processing'
	`, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("release leases for engine %s: %w", id, err)
	}

	res, err := tx.Exec(`DELETE FROM engines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete engine %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected delete engine %s: %w", id, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return tx.Commit()
}

// SweepStaleEngines marks every engine whose last heartbeat predates
// domain.StaleAfter as unhealthy. Called periodically by pkg/scheduler.
func (s *Store) SweepStaleEngines() (int64, error) {
	cutoff := time.Now().UTC().Add(-domain.StaleAfter)
	res, err := s.db.Exec(`
		UPDATE engines SET status = 'unhealthy'
		WHERE last_heartbeat <= ? AND status != 'unhealthy'
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep stale engines: %w", err)
	}
	return res.RowsAffected()
}

// SystemHealth aggregates engine status counts and event status counts for
// GET /engines/health/system.
type SystemHealth struct {
	HealthyEngines   int64
	DegradedEngines  int64
	UnhealthyEngines int64
	StaleEngines     int64
	QueuedEvents     int64
	ProcessingEvents int64
	FailedEvents     int64
}

// GetSystemHealth computes the aggregate counts.
func (s *Store) GetSystemHealth() (*SystemHealth, error) {
	var h SystemHealth
	row := s.db.QueryRow(`
		SELECT
			COUNT(*) FILTER (WHERE status = 'healthy'),
			COUNT(*) FILTER (WHERE status = 'degraded'),
			COUNT(*) FILTER (WHERE status = 'unhealthy'),
			COUNT(*) FILTER (WHERE last_heartbeat <= ?)
		FROM engines
	`, time.Now().UTC().Add(-domain.StaleAfter))
	if err := row.Scan(&h.HealthyEngines, &h.DegradedEngines, &h.UnhealthyEngines, &h.StaleEngines); err != nil {
		return nil, fmt.Errorf("aggregate engine health: %w", err)
	}

	row = s.db.QueryRow(`
		SELECT
			COUNT(*) FILTER (WHERE status = 'queued'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM events
	`)
	if err := row.Scan(&h.QueuedEvents, &h.ProcessingEvents, &h.FailedEvents); err != nil {
		return nil, fmt.Errorf("aggregate event health: %w", err)
	}
	return &h, nil
}
