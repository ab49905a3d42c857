// Package storage persists the client's auth credential in SQLite.
package storage

import (
	"database/sql"
	"log/slog"
	"sync"

	// SQLite driver - imported for side effects (registers the driver).
	// modernc.org/sqlite is pure Go, so no CGO is needed.
	_ "modernc.org/sqlite"

	apperrors "github.com/chatsync/client/internal/errors"
	"github.com/chatsync/client/internal/logger"
)

// SQLiteStore is the credential store. It creates the database and tables on
// first use and serializes access through internal locking.
type SQLiteStore struct {
	db  *sql.DB      // Database connection handle.
	mu  sync.RWMutex // Guards all database operations.
	log *slog.Logger
}

// NewSQLiteStore opens or creates a SQLite database at path and applies the
// schema. Use ":memory:" for an in-memory database.
func NewSQLiteStore(path string, log *slog.Logger) (*SQLiteStore, error) {
	log = logger.Component(log, "storage")
	log.Debug("opening database", "path", path)

	// busy_timeout covers a CLI command and a running listener sharing the file.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "open database", err)
	}
	// One connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "ping database", err)
	}

	store := &SQLiteStore{db: db, log: log}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "init schema", err)
	}

	log.Debug("database ready", "schema_version", currentSchemaVersion)
	return store, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	s.log.Debug("closing database")
	return s.db.Close()
}
