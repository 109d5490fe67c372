package store

import "database/sql"

// Store wraps the singleton database connection with the Event Store,
// Engine Registry, and Scenario Store operations. One orchestrator
// process owns one database file for its whole lifetime.
type Store struct {
	db *sql.DB
}

// New wraps db in a Store. Pass store.DB() once Initialize has run.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}
