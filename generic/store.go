/*
store.go - Persistence interfaces for the local key-value store

PURPOSE:
  Defines the interfaces between the engine and the local persistent store.
  Instead of reading ambient local storage from every call site, the
  Coordinator, the session check and the reconciliation recorder receive
  these interfaces explicitly so tests can substitute in-memory fakes.

KEY INTERFACES:
  CacheStore:   One snapshot per logical query (last-writer-wins per key)
  SessionStore: The bearer token and the identity it was issued for
  RunStore:     Reconciliation runs and their unresolved records

TTL:
  The store never expires anything. Freshness is decided by the
  Coordinator from Snapshot.CapturedAt.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite-backed persistent store
  - generic/store/memory.go: In-memory fakes for testing

SEE ALSO:
  - coordinator.go: Uses CacheStore
  - backend/auth.go: Uses SessionStore
*/
package generic

import (
	"context"
	"encoding/json"
	"time"
)

// =============================================================================
// CACHE STORE
// =============================================================================

// Logical cache keys. One key per query.
const (
	KeyDashboard   = "dashboard_stats"
	KeyStaffList   = "staff_list"
	KeyAdvanceList = "advance_list"
	KeyStudentList = "student_list"
	KeyIDCardList  = "idcard_list"
)

// Snapshot is a cached payload and when it was captured.
type Snapshot struct {
	Key        string
	Payload    json.RawMessage
	CapturedAt time.Time
}

// CacheStore persists snapshots. Writes are last-writer-wins per key.
type CacheStore interface {
	// Get returns ErrSnapshotMissing when the key has never been written.
	Get(ctx context.Context, key string) (Snapshot, error)
	Put(ctx context.Context, snap Snapshot) error
}

// =============================================================================
// SESSION STORE
// =============================================================================

// Session is the locally stored login.
type Session struct {
	Token   string
	UserID  string
	SavedAt time.Time
}

// SessionStore holds at most one session.
type SessionStore interface {
	// Load returns ErrAuthRequired when no session is stored.
	Load(ctx context.Context) (Session, error)
	Save(ctx context.Context, s Session) error
	Clear(ctx context.Context) error
}

// =============================================================================
// RUN STORE - Makes unresolved records observable
// =============================================================================

// Run records one reconciliation pass.
type Run struct {
	ID         string
	Domain     string // "staff_advances", "id_cards"
	StartedAt  time.Time
	Summary    ReconciliationSummary
	Unresolved []UnresolvedEntry
}

// UnresolvedEntry is an attached record no strategy could link.
type UnresolvedEntry struct {
	RecordID string
	Keys     []string
	Payload  json.RawMessage
}

// RunStore persists runs so operators can fix the underlying data.
type RunStore interface {
	SaveRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, domain string, limit int) ([]Run, error)
	GetRun(ctx context.Context, id string) (*Run, error)
}

// NewRun captures a reconciliation result for a RunStore.
func NewRun(id, domain string, at time.Time, r *Reconciliation) Run {
	run := Run{ID: id, Domain: domain, StartedAt: at, Summary: r.Summary}
	for _, u := range r.Unresolved {
		payload, _ := json.Marshal(u.Fields)
		run.Unresolved = append(run.Unresolved, UnresolvedEntry{
			RecordID: u.ID,
			Keys:     DescribeKeys(u.Keys),
			Payload:  payload,
		})
	}
	return run
}
