// Package sqlite implements the persistent store (C2): a single embedded
// SQLite database file holding queue entries, the processing lock, and
// audit events, opened with write-ahead logging and migrated additively.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/lprior-repo/zjj/internal/queue"
)

// SQLiteStorage is the merge queue's persistent store, backed by a single
// SQLite file opened in WAL mode. The store serializes writes internally: a
// single open connection (SetMaxOpenConns(1)) makes every statement and
// transaction line up behind SQLite's own single-writer model, so
// multi-statement read-then-write operations never race against themselves
// within one process. Cross-process coordination goes through the
// processing lock row, not through file-level locking.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// Open opens (creating if absent) the store at path, ensures its schema, and
// runs additive migrations. A partially migrated store is never left
// running: any migration failure closes the connection and returns the
// error (SPEC_FULL.md §4.1). The corrupted-WAL recovery path runs under the
// Warn policy; use OpenWithRecoveryPolicy for Silent or FailFast.
func Open(path string) (*SQLiteStorage, error) {
	return OpenWithRecoveryPolicy(path, queue.RecoveryWarn)
}

// OpenWithRecoveryPolicy is Open with an explicit recovery policy governing
// the corrupted-write-ahead-log check performed before the schema is
// ensured (SPEC_FULL.md §7, "doctor"-style `PRAGMA integrity_check`).
func OpenWithRecoveryPolicy(path string, policy queue.RecoveryPolicy) (*SQLiteStorage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// A single connection serializes all writes through SQLite's own
	// single-writer semantics, matching §4.1's concurrency model.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	if err := checkWALIntegrity(db, policy); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStorage{db: db, path: path}

	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

// checkWALIntegrity runs PRAGMA integrity_check and applies policy to
// whatever it finds. A fresh, empty database always passes. Silent ignores
// a failing check entirely; Warn logs and lets the caller proceed with a
// best-effort checkpoint; FailFast surfaces the corruption as an error
// instead of opening a store a caller might silently write garbage into.
func checkWALIntegrity(db *sql.DB, policy queue.RecoveryPolicy) error {
	rows, err := db.Query("PRAGMA integrity_check")
	if err != nil {
		return reportWALIssue(policy, fmt.Errorf("run integrity check: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var results []string
	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return reportWALIssue(policy, fmt.Errorf("scan integrity check: %w", err))
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return reportWALIssue(policy, fmt.Errorf("read integrity check: %w", err))
	}

	if len(results) == 1 && results[0] == "ok" {
		return nil
	}

	issue := fmt.Errorf("database integrity check failed: %v", results)
	if err := reportWALIssue(policy, issue); err != nil {
		return err
	}

	// Warn/Silent: attempt a best-effort checkpoint to fold the WAL back
	// into the main file rather than leaving a corrupt WAL segment around.
	_, _ = db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return nil
}

func reportWALIssue(policy queue.RecoveryPolicy, issue error) error {
	switch policy {
	case queue.RecoverySilent:
		return nil
	case queue.RecoveryFailFast:
		return issue
	default:
		slog.Default().Warn("store integrity check reported issues, attempting checkpoint", "error", issue)
		return nil
	}
}

// Close closes the underlying database handle.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Path returns the store's file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

const schema = `
CREATE TABLE IF NOT EXISTS queue_entries (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	workspace          TEXT NOT NULL UNIQUE,
	bead_id            TEXT,
	priority           INTEGER NOT NULL DEFAULT 0,
	status             TEXT NOT NULL DEFAULT 'pending',
	added_at           DATETIME NOT NULL,
	started_at         DATETIME,
	completed_at       DATETIME,
	state_changed_at   DATETIME NOT NULL,
	previous_state     TEXT,
	error_message      TEXT,
	agent_id           TEXT,
	dedupe_key         TEXT,
	workspace_state    TEXT,
	head_sha           TEXT,
	tested_against_sha TEXT,
	attempt_count      INTEGER NOT NULL DEFAULT 0,
	max_attempts       INTEGER NOT NULL DEFAULT 3,
	rebase_count       INTEGER NOT NULL DEFAULT 0,
	last_rebase_at     DATETIME,
	parent_workspace   TEXT
);

CREATE TABLE IF NOT EXISTS merge_queue_lock (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	agent_id    TEXT NOT NULL,
	acquired_at DATETIME NOT NULL,
	expires_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS queue_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	queue_id   INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	details    TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	name           TEXT PRIMARY KEY,
	workspace_path TEXT NOT NULL,
	bead_id        TEXT,
	agent_id       TEXT,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL,
	metadata       TEXT,
	paused         INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_queue_entries_status ON queue_entries(status);
CREATE INDEX IF NOT EXISTS idx_queue_entries_priority_added ON queue_entries(priority, added_at);
CREATE INDEX IF NOT EXISTS idx_queue_entries_workspace_state ON queue_entries(workspace_state);
CREATE INDEX IF NOT EXISTS idx_queue_entries_parent_workspace ON queue_entries(parent_workspace);
CREATE INDEX IF NOT EXISTS idx_queue_events_queue_id ON queue_events(queue_id);

-- Active-dedupe uniqueness: at most one non-terminal row per dedupe key.
CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_entries_active_dedupe
	ON queue_entries(dedupe_key)
	WHERE dedupe_key IS NOT NULL
	  AND status NOT IN ('merged', 'failed_terminal', 'cancelled');

-- Prevents two processing-status rows for the same workspace claimed at the
-- same instant (defense in depth alongside the workspace UNIQUE constraint).
CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_entries_processing_started
	ON queue_entries(workspace, started_at)
	WHERE status = 'claimed';
`

func (s *SQLiteStorage) ensureSchema() error {
	_, err := s.db.Exec(schema)
	return err
}
