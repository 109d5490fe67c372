// Package store provides the sqlite-backed Event Store, Engine Registry,
// and Scenario Store: the durable records behind the leased event queue,
// the registered engine instances, and scenario/agent-instance rows. A
// single *sql.DB is opened once in WAL mode with a single-writer
// connection pool.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"orchestrator/pkg/logx"
)

var (
	globalDB     *sql.DB
	globalDBOnce sync.Once
	globalDBMu   sync.RWMutex
	dbLogger     *logx.Logger
)

// Initialize opens the singleton database connection and creates the
// schema if absent. Subsequent calls are no-ops.
func Initialize(dbPath string) error {
	var initErr error

	globalDBOnce.Do(func() {
		dbLogger = logx.NewLogger("store")

		db, err := sql.Open("sqlite", fmt.Sprintf(
			"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
			dbPath,
		))
		if err != nil {
			initErr = fmt.Errorf("open database: %w", err)
			return
		}

		if err := db.Ping(); err != nil {
			_ = db.Close()
			initErr = fmt.Errorf("ping database: %w", err)
			return
		}

		if err := createSchema(db); err != nil {
			_ = db.Close()
			initErr = fmt.Errorf("create schema: %w", err)
			return
		}

		db.SetMaxOpenConns(1) // sqlite supports a single writer
		db.SetMaxIdleConns(1)

		globalDB = db
		dbLogger.Info("database initialized: %s", dbPath)
	})

	return initErr
}

// DB returns the singleton connection. Panics if Initialize has not run.
func DB() *sql.DB {
	globalDBMu.RLock()
	defer globalDBMu.RUnlock()

	if globalDB == nil {
		panic("store.Initialize must be called before store.DB")
	}
	return globalDB
}

// IsInitialized reports whether the singleton has been opened.
func IsInitialized() bool {
	globalDBMu.RLock()
	defer globalDBMu.RUnlock()
	return globalDB != nil
}

// Close closes the database connection.
func Close() error {
	globalDBMu.Lock()
	defer globalDBMu.Unlock()

	if globalDB != nil {
		err := globalDB.Close()
		globalDB = nil
		if err != nil {
			return fmt.Errorf("close database: %w", err)
		}
	}
	return nil
}

// Reset closes and clears the singleton; test-only.
func Reset() error {
	globalDBMu.Lock()
	defer globalDBMu.Unlock()

	if globalDB != nil {
		if err := globalDB.Close(); err != nil {
			return fmt.Errorf("close database during reset: %w", err)
		}
		globalDB = nil
	}
	globalDBOnce = sync.Once{}
	dbLogger = nil
	return nil
}
