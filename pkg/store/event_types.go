package store

import (
	"database/sql"
	"fmt"

	"orchestrator/pkg/domain"
)

// PutEventType upserts one event-type catalog row. Existing rows keep
// their created_at.
func (s *Store) PutEventType(t *domain.EventTypeDef) error {
	var engineType any
	if t.EngineType != "" {
		engineType = string(t.EngineType)
	}
	_, err := s.db.Exec(`
		INSERT INTO event_types (name, description, schema_json, category, engine_type)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			schema_json = excluded.schema_json,
			category = excluded.category,
			engine_type = excluded.engine_type
	`, t.Name, t.Description, t.Schema, t.Category, engineType)
	if err != nil {
		return fmt.Errorf("put event type %s: %w", t.Name, err)
	}
	return nil
}

func scanEventType(row interface{ Scan(...any) error }) (*domain.EventTypeDef, error) {
	var t domain.EventTypeDef
	var description, schemaJSON sql.NullString
	var engineType sql.NullString

	if err := row.Scan(&t.Name, &description, &schemaJSON, &t.Category, &engineType, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan event type: %w", err)
	}
	if description.Valid {
		t.Description = description.String
	}
	if schemaJSON.Valid {
		t.Schema = schemaJSON.String
	}
	if engineType.Valid {
		t.EngineType = domain.EngineType(engineType.String)
	}
	return &t, nil
}

const eventTypeSelectCols = `name, description, schema_json, category, engine_type, created_at`

// GetEventType loads one catalog row by name.
func (s *Store) GetEventType(name string) (*domain.EventTypeDef, error) {
	row := s.db.QueryRow(`SELECT `+eventTypeSelectCols+` FROM event_types WHERE name = ?`, name)
	return scanEventType(row)
}

// ListEventTypes returns the full catalog, optionally filtered to one
// engine type. An empty filter returns every row, including
// engine-type-agnostic ones like scenario_start.
func (s *Store) ListEventTypes(engineType domain.EngineType) ([]*domain.EventTypeDef, error) {
	query := `SELECT ` + eventTypeSelectCols + ` FROM event_types`
	var args []any
	if engineType != "" {
		query += ` WHERE engine_type = ? OR engine_type IS NULL`
		args = append(args, string(engineType))
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list event types: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.EventTypeDef
	for rows.Next() {
		t, err := scanEventType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
