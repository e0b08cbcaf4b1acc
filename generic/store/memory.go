// Package store provides in-memory implementations of the engine's store
// interfaces.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/branch-ledger/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements generic.CacheStore, generic.SessionStore and
// generic.RunStore.
type Memory struct {
	mu        sync.RWMutex
	snapshots map[string]generic.Snapshot
	session   *generic.Session
	runs      []generic.Run
	writes    int
}

func NewMemory() *Memory {
	return &Memory{snapshots: make(map[string]generic.Snapshot)}
}

func (m *Memory) Get(_ context.Context, key string) (generic.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[key]
	if !ok {
		return generic.Snapshot{}, generic.ErrSnapshotMissing
	}
	snap.Payload = append([]byte(nil), snap.Payload...)
	return snap, nil
}

// Put overwrites the key. Last writer wins.
func (m *Memory) Put(_ context.Context, snap generic.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.Payload = append([]byte(nil), snap.Payload...)
	m.snapshots[snap.Key] = snap
	m.writes++
	return nil
}

// Writes counts Put calls.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// =============================================================================
// SESSION
// =============================================================================

func (m *Memory) Load(_ context.Context) (generic.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return generic.Session{}, generic.ErrAuthRequired
	}
	return *m.session, nil
}

func (m *Memory) Save(_ context.Context, s generic.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &s
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

// =============================================================================
// RUNS
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run generic.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

// ListRuns returns the newest runs first. An empty domain lists all.
func (m *Memory) ListRuns(_ context.Context, domain string, limit int) ([]generic.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []generic.Run
	for _, r := range m.runs {
		if domain == "" || r.Domain == domain {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) GetRun(_ context.Context, id string) (*generic.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.runs {
		if r.ID == id {
			run := r
			return &run, nil
		}
	}
	return nil, generic.ErrNotFound
}
