package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"orchestrator/pkg/domain"
	"orchestrator/pkg/statemachine"
)

// claimableStatuses lists the event statuses statemachine.EventTransitions
// allows moving into processing, quoted for direct use in a SQL IN(...)
// clause. Built once from the transition table rather than hardcoded, so a
// change to the table is reflected here without a second edit.
var claimableStatuses = sqlQuotedList(statemachine.EventTransitions.SourceStates(domain.EventProcessing))

func sqlQuotedList[S ~string](states []S) string {
	quoted := make([]string, len(states))
	for i, s := range states {
		quoted[i] = "'" + string(s) + "'"
	}
	return strings.Join(quoted, ",")
}

const eventSelectCols = `
	id, scenario_run_id, target_agent_id, event_type, source_agent_id,
	payload_json, priority, status, lease_holder, lease_deadline,
	retry_count, max_retries, next_retry_time, error_message, result_json,
	processed_by_engines_json, created_at
`

// EnqueueEvent inserts a new event in the queued state.
func (s *Store) EnqueueEvent(e *domain.Event) error {
	payload, err := marshalJSON(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = domain.DefaultMaxRetries
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.Exec(`
		INSERT INTO events (
			id, scenario_run_id, target_agent_id, event_type, source_agent_id,
			payload_json, priority, status, max_retries, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 'queued', ?, ?, ?)
	`, e.ID, e.ScenarioRunID, e.TargetAgentID, e.EventType, e.SourceAgentID,
		payload, e.Priority, e.MaxRetries, e.CreatedAt, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue event %s: %w", e.ID, err)
	}
	return nil
}

// sweepStaleLeases reverts any processing event whose lease has expired back
// to queued, making it visible for redelivery. This is the server-side half
// of stale-lease recovery; the client (Engine Worker) does nothing.
func (s *Store) sweepStaleLeases(now time.Time) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE events
		SET status = 'queued', lease_holder = NULL, lease_deadline = NULL, updated_at = ?
		WHERE status = 'processing' AND lease_deadline IS NOT NULL AND lease_deadline <= ?
	`, now, now)
	if err != nil {
		return 0, fmt.Errorf("sweep stale leases: %w", err)
	}
	return res.RowsAffected()
}

// SweepStaleLeases is the exported form, called periodically by
// pkg/scheduler independent of any in-progress Lease call. It returns the
// number of leases reclaimed.
func (s *Store) SweepStaleLeases() (int64, error) {
	return s.sweepStaleLeases(time.Now().UTC())
}

// LeaseEvents sweeps expired leases, then claims up to batchSize visible
// events whose target agent's engine type matches engineType and whose
// event type is named in supportedEventTypes (nil/empty means no capability
// filtering). The event-type filter joins against the event_types catalog
// rather than matching the requested names directly, so a name absent from
// the catalog never leases an event regardless of what's enqueued under it.
// Claimed events are ordered by priority descending, then creation time
// ascending, and have engineID appended to their processed-by-engines set.
func (s *Store) LeaseEvents(engineID string, engineType domain.EngineType, supportedEventTypes []string, batchSize int) ([]*domain.Event, error) {
	now := time.Now().UTC()
	if _, err := s.sweepStaleLeases(now); err != nil {
		return nil, err
	}

	query := `
		SELECT e.id
		FROM events e
		JOIN agent_instances a ON a.id = e.target_agent_id
		WHERE a.engine_type = ?
		  AND (
		        (e.status = 'queued' AND (e.lease_deadline IS NULL OR e.lease_deadline <= ?))
		     OR (e.status = 'retry' AND (e.lease_deadline IS NULL OR e.lease_deadline <= ?)
		         AND (e.next_retry_time IS NULL OR e.next_retry_time <= ?))
		      )
	`
	args := []any{string(engineType), now, now, now}

	if len(supportedEventTypes) > 0 {
		placeholders := ""
		for i, t := range supportedEventTypes {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND e.event_type IN (SELECT name FROM event_types WHERE name IN (%s))", placeholders)
	}

	query += " ORDER BY e.priority DESC, e.created_at ASC LIMIT ?"
	args = append(args, batchSize)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("select leasable events: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan leasable event id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate leasable events: %w", err)
	}
	_ = rows.Close()

	deadline := now.Add(domain.LeaseDuration)
	leased := make([]*domain.Event, 0, len(ids))
	for _, id := range ids {
		res, err := s.db.Exec(fmt.Sprintf(`
			UPDATE events
			SET status = 'processing', lease_holder = ?, lease_deadline = ?, updated_at = ?
			WHERE id = ? AND status IN (%s)
		`, claimableStatuses), engineID, deadline, now, id)
		if err != nil {
			return nil, fmt.Errorf("claim event %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected claiming %s: %w", id, err)
		}
		if n == 0 {
			continue // lost the race to another worker sharing the connection pool
		}
		if err := s.appendProcessedByEngine(id, engineID); err != nil {
			return nil, err
		}
		ev, err := s.GetEvent(id)
		if err != nil {
			return nil, err
		}
		leased = append(leased, ev)
	}
	return leased, nil
}

func (s *Store) appendProcessedByEngine(id, engineID string) error {
	ev, err := s.GetEvent(id)
	if err != nil {
		return err
	}
	for _, e := range ev.ProcessedByEngines {
		if e == engineID {
			return nil
		}
	}
	updated, err := marshalJSON(append(ev.ProcessedByEngines, engineID))
	if err != nil {
		return fmt.Errorf("marshal processed-by-engines for %s: %w", id, err)
	}
	if _, err := s.db.Exec(`UPDATE events SET processed_by_engines_json = ? WHERE id = ?`, updated, id); err != nil {
		return fmt.Errorf("append processed-by-engine for %s: %w", id, err)
	}
	return nil
}

// GetEvent loads one event by id.
func (s *Store) GetEvent(id string) (*domain.Event, error) {
	row := s.db.QueryRow(`SELECT `+eventSelectCols+` FROM events WHERE id = ?`, id)
	return scanEvent(row)
}

func scanEvent(row interface{ Scan(...any) error }) (*domain.Event, error) {
	var e domain.Event
	var payloadJSON, resultJSON, processedJSON string
	var leaseHolder, errMsg sql.NullString
	var leaseDeadline, nextRetry sql.NullTime

	err := row.Scan(
		&e.ID, &e.ScenarioRunID, &e.TargetAgentID, &e.EventType, &e.SourceAgentID,
		&payloadJSON, &e.Priority, &e.Status, &leaseHolder, &leaseDeadline,
		&e.RetryCount, &e.MaxRetries, &nextRetry, &errMsg, &resultJSON,
		&processedJSON, &e.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}

	if err := unmarshalInto(payloadJSON, &e.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal event payload: %w", err)
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	if err := unmarshalInto(resultJSON, &e.Result); err != nil {
		return nil, fmt.Errorf("unmarshal event result: %w", err)
	}
	if err := unmarshalInto(processedJSON, &e.ProcessedByEngines); err != nil {
		return nil, fmt.Errorf("unmarshal processed-by-engines: %w", err)
	}
	if leaseHolder.Valid {
		e.LeaseHolder = leaseHolder.String
	}
	if leaseDeadline.Valid {
		t := leaseDeadline.Time
		e.LeaseDeadline = &t
	}
	if nextRetry.Valid {
		t := nextRetry.Time
		e.NextRetryTime = &t
	}
	if errMsg.Valid {
		e.LastError = errMsg.String
	}
	return &e, nil
}

// CompleteEvent marks a leased event completed, storing its result and
// resetting the retry count. Returns domain.ErrLeaseMismatch if
// leaseHolder no longer holds the lease, or domain.ErrInvalidTransition if
// statemachine.EventTransitions forbids moving from the event's current
// status to completed (only processing does).
func (s *Store) CompleteEvent(id, leaseHolder string, result map[string]any) error {
	ev, err := s.GetEvent(id)
	if err != nil {
		return err
	}
	if ev.LeaseHolder != leaseHolder {
		return domain.ErrLeaseMismatch
	}
	if !statemachine.EventTransitions.IsValid(ev.Status, domain.EventCompleted) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, ev.Status, domain.EventCompleted)
	}

	resultJSON, err := marshalJSON(result)
	if err != nil {
		return fmt.Errorf("marshal event result: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE events
		SET status = 'completed', lease_holder = NULL, lease_deadline = NULL,
		    retry_count = 0, result_json = ?, updated_at = ?
		WHERE id = ? AND status = ? AND lease_holder = ?
	`, resultJSON, time.Now().UTC(), id, string(ev.Status), leaseHolder)
	if err != nil {
		return fmt.Errorf("complete event %s: %w", id, err)
	}
	return checkLeaseOwned(res, id)
}

// FailEvent records a processing failure. If the event has retries
// remaining it moves to retry with an exponential backoff deadline;
// otherwise it moves to the terminal failed status. Returns
// domain.ErrInvalidTransition if statemachine.EventTransitions forbids the
// resolved move from the event's current status.
func (s *Store) FailEvent(id, leaseHolder, errMsg string) error {
	ev, err := s.GetEvent(id)
	if err != nil {
		return err
	}
	if ev.LeaseHolder != leaseHolder {
		return domain.ErrLeaseMismatch
	}

	now := time.Now().UTC()
	// Backoff comes from the pre-increment count, so the first failure waits
	// 60s, the second 120s, the third 240s.
	backoff := domain.RetryBackoff(ev.RetryCount)
	newRetryCount := ev.RetryCount + 1
	nextStatus := domain.EventFailed
	if newRetryCount < ev.MaxRetries {
		nextStatus = domain.EventRetry
	}
	if !statemachine.EventTransitions.IsValid(ev.Status, nextStatus) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, ev.Status, nextStatus)
	}

	if nextStatus == domain.EventFailed {
		_, err := s.db.Exec(`
			UPDATE events
			SET status = 'failed', lease_holder = NULL, lease_deadline = NULL,
			    retry_count = ?, error_message = ?, updated_at = ?
			WHERE id = ?
		`, newRetryCount, errMsg, now, id)
		if err != nil {
			return fmt.Errorf("fail event %s: %w", id, err)
		}
		return nil
	}

	nextRetry := now.Add(backoff)
	_, err = s.db.Exec(`
		UPDATE events
		SET status = 'retry', lease_holder = NULL, lease_deadline = NULL,
		    retry_count = ?, next_retry_time = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`, newRetryCount, nextRetry, errMsg, now, id)
	if err != nil {
		return fmt.Errorf("retry event %s: %w", id, err)
	}
	return nil
}

func checkLeaseOwned(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for event %s: %w", id, err)
	}
	if n == 0 {
		return domain.ErrLeaseMismatch
	}
	return nil
}

// LogEventFlow appends one router decision to the event_flow_log audit
// trail: which rule matched a source event and which delivered events it
// produced.
func (s *Store) LogEventFlow(scenarioRunID, sourceEventID, ruleName string, deliveredEventIDs []string, outOfTurn bool) error {
	delivered, err := marshalJSON(deliveredEventIDs)
	if err != nil {
		return fmt.Errorf("marshal delivered event ids: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO event_flow_log (scenario_run_id, source_event_id, rule_name, delivered_event_ids_json, out_of_turn)
		VALUES (?, ?, ?, ?, ?)
	`, scenarioRunID, sourceEventID, ruleName, delivered, outOfTurn)
	if err != nil {
		return fmt.Errorf("log event flow for %s: %w", scenarioRunID, err)
	}
	return nil
}

// ListEventsByScenario returns every event belonging to a scenario run,
// newest first, for monitoring and audit.
func (s *Store) ListEventsByScenario(scenarioRunID string) ([]*domain.Event, error) {
	rows, err := s.db.Query(`
		SELECT `+eventSelectCols+` FROM events WHERE scenario_run_id = ? ORDER BY created_at DESC
	`, scenarioRunID)
	if err != nil {
		return nil, fmt.Errorf("list events for scenario %s: %w", scenarioRunID, err)
	}
	defer func() { _ = rows.Close() }()

	var events []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// EventQueueCounts summarizes a scenario's event statuses, for
// monitor_scenario.
type EventQueueCounts struct {
	Queued     int64
	Processing int64
	Completed  int64
	Failed     int64
	Retry      int64
}

// CountEventsByStatus aggregates one scenario's event statuses.
func (s *Store) CountEventsByStatus(scenarioRunID string) (*EventQueueCounts, error) {
	row := s.db.QueryRow(`
		SELECT
			COUNT(*) FILTER (WHERE status = 'queued'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'retry')
		FROM events WHERE scenario_run_id = ?
	`, scenarioRunID)
	var c EventQueueCounts
	if err := row.Scan(&c.Queued, &c.Processing, &c.Completed, &c.Failed, &c.Retry); err != nil {
		return nil, fmt.Errorf("count events for scenario %s: %w", scenarioRunID, err)
	}
	return &c, nil
}
