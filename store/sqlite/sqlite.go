/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  The local persistent key-value store of the service. It keeps the last
  good snapshot of every logical query, the login session, and the history
  of reconciliation runs with their unresolved records.

INTERFACES IMPLEMENTED:
  generic.CacheStore:   One snapshot per logical query
  generic.SessionStore: At most one stored session
  generic.RunStore:     Reconciliation runs and unresolved records

LAST-WRITER-WINS:
  Snapshots are upserted by key. The store does not compare capture times:
  ordering of concurrent fetches is decided by the Coordinator before Put
  is ever called.

KEY TABLES:
  cache_snapshots:     key -> payload, captured_at
  sessions:            single row (id = 1)
  reconciliation_runs: one row per pass, summary as JSON
  unresolved_records:  the records a pass could not link, by run

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. An in-memory database is pinned to a
  single connection, otherwise each pooled connection would see its own
  empty database.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so dashboard reads do not
  block snapshot writes from background fetches.

USAGE:
  store, err := sqlite.New("./data/branch-ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  coord := generic.NewCoordinator(store, logger)

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/branch-ledger/generic"
)

// timeLayout is fixed width so that TEXT ordering is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ generic.CacheStore   = (*Store)(nil)
	_ generic.SessionStore = (*Store)(nil)
	_ generic.RunStore     = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Last good snapshot per logical query
	CREATE TABLE IF NOT EXISTS cache_snapshots (
		key TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		captured_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Login session (single row)
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		token TEXT NOT NULL,
		user_id TEXT NOT NULL,
		saved_at TEXT NOT NULL
	);

	-- Reconciliation passes
	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		started_at TEXT NOT NULL,
		summary_json TEXT NOT NULL,
		unresolved_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_domain_started
		ON reconciliation_runs(domain, started_at DESC);

	-- Records a pass could not link to anyone
	CREATE TABLE IF NOT EXISTS unresolved_records (
		run_id TEXT NOT NULL REFERENCES reconciliation_runs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		record_id TEXT,
		keys_json TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		PRIMARY KEY (run_id, position)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CACHE STORE (generic.CacheStore interface)
// =============================================================================

// Get returns the snapshot of key, or generic.ErrSnapshotMissing.
func (s *Store) Get(ctx context.Context, key string) (generic.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload, capturedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, captured_at FROM cache_snapshots WHERE key = ?`, key,
	).Scan(&payload, &capturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Snapshot{}, generic.ErrSnapshotMissing
	}
	if err != nil {
		return generic.Snapshot{}, err
	}

	snap := generic.Snapshot{Key: key, Payload: json.RawMessage(payload)}
	snap.CapturedAt, _ = time.Parse(timeLayout, capturedAt)
	return snap, nil
}

// Put upserts the snapshot of snap.Key.
func (s *Store) Put(ctx context.Context, snap generic.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO cache_snapshots (key, payload, captured_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			captured_at = excluded.captured_at,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		snap.Key, string(snap.Payload),
		snap.CapturedAt.UTC().Format(timeLayout),
		time.Now().UTC().Format(timeLayout),
	)
	return err
}

// =============================================================================
// SESSION STORE (generic.SessionStore interface)
// =============================================================================

// Load returns the stored session, or generic.ErrAuthRequired.
func (s *Store) Load(ctx context.Context) (generic.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess generic.Session
	var savedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, saved_at FROM sessions WHERE id = 1`,
	).Scan(&sess.Token, &sess.UserID, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Session{}, generic.ErrAuthRequired
	}
	if err != nil {
		return generic.Session{}, err
	}
	sess.SavedAt, _ = time.Parse(timeLayout, savedAt)
	return sess, nil
}

// Save replaces the stored session.
func (s *Store) Save(ctx context.Context, sess generic.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO sessions (id, token, user_id, saved_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			user_id = excluded.user_id,
			saved_at = excluded.saved_at
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.Token, sess.UserID, sess.SavedAt.UTC().Format(timeLayout))
	return err
}

// Clear removes the stored session.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions`)
	return err
}

// =============================================================================
// RUN STORE (generic.RunStore interface)
// =============================================================================

// SaveRun writes a run and its unresolved records in one transaction.
func (s *Store) SaveRun(ctx context.Context, run generic.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (id, domain, started_at, summary_json, unresolved_count)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Domain, run.StartedAt.UTC().Format(timeLayout), string(summaryJSON), len(run.Unresolved))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, u := range run.Unresolved {
		keysJSON, _ := json.Marshal(u.Keys)
		payload := u.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO unresolved_records (run_id, position, record_id, keys_json, payload_json)
			VALUES (?, ?, ?, ?, ?)
		`, run.ID, i, nullString(u.RecordID), string(keysJSON), string(payload))
		if err != nil {
			return fmt.Errorf("insert unresolved record: %w", err)
		}
	}

	return tx.Commit()
}

// ListRuns returns the newest runs first without their unresolved records.
// An empty domain lists all; limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, domain string, limit int) ([]generic.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, domain, started_at, summary_json
		FROM reconciliation_runs
		WHERE (? = '' OR domain = ?)
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, domain, domain, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []generic.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns a run with its unresolved records, or generic.ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*generic.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, domain, started_at, summary_json
		FROM reconciliation_runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, keys_json, payload_json
		FROM unresolved_records WHERE run_id = ?
		ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var recordID sql.NullString
		var keysJSON, payloadJSON string
		if err := rows.Scan(&recordID, &keysJSON, &payloadJSON); err != nil {
			return nil, err
		}
		u := generic.UnresolvedEntry{RecordID: recordID.String, Payload: json.RawMessage(payloadJSON)}
		_ = json.Unmarshal([]byte(keysJSON), &u.Keys)
		run.Unresolved = append(run.Unresolved, u)
	}
	return &run, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (generic.Run, error) {
	var run generic.Run
	var startedAt, summaryJSON string
	if err := sc.Scan(&run.ID, &run.Domain, &startedAt, &summaryJSON); err != nil {
		return generic.Run{}, err
	}
	run.StartedAt, _ = time.Parse(timeLayout, startedAt)
	if err := json.Unmarshal([]byte(summaryJSON), &run.Summary); err != nil {
		return generic.Run{}, fmt.Errorf("decode summary of run %s: %w", run.ID, err)
	}
	return run, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
