/*
coordinator.go - Stale-while-revalidate cache in front of unreliable fetches

PURPOSE:
  Serves the last known good snapshot of a query immediately, refreshes it
  in the background, and makes sure that a failed or slow upstream call
  never blanks out data the user could already see.

FLOW (Load):
  1. Read the CacheStore synchronously. If a snapshot exists it is available
     through Pending.Cached() before any network round trip.
  2. If the snapshot is younger than TTL, stop there.
  3. Otherwise start the real fetch in the background with its own bounded
     context. The caller's context ending does not cancel it.
  4. Pending.Result() waits for the first of: the fetch settling, or the
     timeout. On timeout the caller proceeds with the cached value, or
     with the fallback when there is none (ErrFetchTimeout).
  5. A fetch failure with a cached value is not an error for the caller:
     the cached value is returned and the failure is in RefreshErr.

ORDERING:
  Each background fetch takes a per-key sequence number when it starts. Its
  result is written to the store only if no fetch that started later has
  already been written. The sequence check and the store write happen under
  one per-key lock, as does Invalidate, so a timed-out fetch that completes
  minutes later can never overwrite a newer snapshot.

KNOWN LEAK:
  A fetch that lost the timeout race keeps running until it finishes or
  MaxBackground elapses. The transport is not cancelled when the caller
  gives up.

SEE ALSO:
  - gather.go: All-settle aggregate of independent metrics
  - poll.go: Periodic refresh with an explicit cancel handle
*/
package generic

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// COORDINATOR
// =============================================================================

const defaultMaxBackground = 30 * time.Second

// Coordinator owns the cache store and the per-key sequencing of fetches.
type Coordinator struct {
	Store  CacheStore
	Logger *slog.Logger
	Now    func() time.Time

	// MaxBackground bounds how long a fetch may run after its caller gave up.
	MaxBackground time.Duration

	mu        sync.Mutex
	started   map[string]uint64
	committed map[string]uint64
	keyLocks  map[string]*sync.Mutex
	wg        sync.WaitGroup
}

// NewCoordinator creates a coordinator over store.
func NewCoordinator(store CacheStore, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		Store:         store,
		Logger:        logger,
		Now:           time.Now,
		MaxBackground: defaultMaxBackground,
		started:       make(map[string]uint64),
		committed:     make(map[string]uint64),
		keyLocks:      make(map[string]*sync.Mutex),
	}
}

// Wait blocks until every background fetch has finished. Used on shutdown
// and in tests.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) begin(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started[key]++
	return c.started[key]
}

// lockKey serializes store writes for key. The returned func unlocks.
func (c *Coordinator) lockKey(key string) func() {
	c.mu.Lock()
	l, ok := c.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		c.keyLocks[key] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// commit reports whether seq is newer than the last committed fetch for key,
// and records it if so. Callers hold the key lock until the snapshot is
// written.
func (c *Coordinator) commit(key string, seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq <= c.committed[key] {
		return false
	}
	c.committed[key] = seq
	return true
}

// =============================================================================
// RESULT
// =============================================================================

// Source tells where a value came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceFresh    Source = "fresh"
	SourceFallback Source = "fallback"
)

// LoadOptions controls freshness and the timeout race.
type LoadOptions struct {
	// TTL: snapshots younger than this are served without a fetch. Zero
	// always revalidates.
	TTL time.Duration
	// Timeout: how long Result waits for the fetch. Zero waits for it.
	Timeout time.Duration
}

// Result is what a caller renders.
type Result[T any] struct {
	Value      T
	Source     Source
	CapturedAt time.Time
	Stale      bool

	// Err is set only on total failure: no cache and no fresh data.
	Err error
	// RefreshErr is a background failure hidden behind a cached value.
	RefreshErr error
}

// Failed reports total failure; the UI shows an error with a retry action.
func (r Result[T]) Failed() bool {
	return r.Err != nil
}

// =============================================================================
// PENDING LOAD
// =============================================================================

// Pending is an in-flight Load.
type Pending[T any] struct {
	key       string
	cached    Result[T]
	hasCached bool
	fallback  T
	deadline  time.Time

	done  chan struct{}
	fresh Result[T]
}

// Cached returns the snapshot read synchronously when Load was called.
func (p *Pending[T]) Cached() (Result[T], bool) {
	return p.cached, p.hasCached
}

// Done is closed when the background fetch has settled.
func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

// Result waits for the fetch or the timeout, whichever comes first.
func (p *Pending[T]) Result(ctx context.Context) Result[T] {
	select {
	case <-p.done:
		return p.fresh
	default:
	}

	var timeout <-chan time.Time
	if !p.deadline.IsZero() {
		timer := time.NewTimer(time.Until(p.deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-p.done:
		return p.fresh
	case <-timeout:
		return p.giveUp(ErrFetchTimeout)
	case <-ctx.Done():
		return p.giveUp(ctx.Err())
	}
}

func (p *Pending[T]) giveUp(reason error) Result[T] {
	if p.hasCached {
		r := p.cached
		r.Stale = true
		r.RefreshErr = reason
		return r
	}
	return Result[T]{Value: p.fallback, Source: SourceFallback, Err: &FetchError{Key: p.key, Err: reason}}
}

// =============================================================================
// LOAD
// =============================================================================

// Load serves key from cache and revalidates it with fetch.
func Load[T any](ctx context.Context, c *Coordinator, key string, opts LoadOptions, fallback T, fetch func(context.Context) (T, error)) *Pending[T] {
	now := c.Now()
	p := &Pending[T]{key: key, fallback: fallback, done: make(chan struct{})}
	if opts.Timeout > 0 {
		p.deadline = time.Now().Add(opts.Timeout)
	}

	if cached, ok := readSnapshot[T](ctx, c, key); ok {
		cached.Stale = opts.TTL <= 0 || cached.CapturedAt.IsZero() || now.Sub(cached.CapturedAt) >= opts.TTL
		p.cached = cached
		p.hasCached = true
		if !cached.Stale {
			p.fresh = cached
			close(p.done)
			return p
		}
	}

	seq := c.begin(key)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(p.done)
		p.fresh = revalidate(ctx, c, p, seq, fetch)
	}()
	return p
}

func revalidate[T any](ctx context.Context, c *Coordinator, p *Pending[T], seq uint64, fetch func(context.Context) (T, error)) Result[T] {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.MaxBackground)
	defer cancel()

	start := c.Now()
	v, err := fetch(bctx)
	elapsed := c.Now().Sub(start)

	if err != nil {
		ferr := &FetchError{Key: p.key, Elapsed: elapsed, Err: err}
		if p.hasCached {
			c.Logger.Warn("background refresh failed, keeping cached snapshot",
				"key", p.key, "error", err)
			r := p.cached
			r.Stale = true
			r.RefreshErr = ferr
			return r
		}
		c.Logger.Error("fetch failed with no cached snapshot", "key", p.key, "error", err)
		return Result[T]{Value: p.fallback, Source: SourceFallback, Err: ferr}
	}

	capturedAt := c.Now()
	unlock := c.lockKey(p.key)
	if !c.commit(p.key, seq) {
		unlock()
		// A fetch that started later already landed. Serve that one.
		c.Logger.Debug("discarding stale fetch completion", "key", p.key, "seq", seq)
		if newer, ok := readSnapshot[T](bctx, c, p.key); ok {
			return newer
		}
		return Result[T]{Value: v, Source: SourceFresh, CapturedAt: capturedAt}
	}

	payload, mErr := json.Marshal(v)
	if mErr != nil {
		c.Logger.Error("snapshot not serializable", "key", p.key, "error", mErr)
	} else if pErr := c.Store.Put(bctx, Snapshot{Key: p.key, Payload: payload, CapturedAt: capturedAt}); pErr != nil {
		c.Logger.Warn("snapshot write failed", "key", p.key, "error", pErr)
	}
	unlock()
	c.Logger.Debug("snapshot refreshed", "key", p.key, "elapsed", elapsed)
	return Result[T]{Value: v, Source: SourceFresh, CapturedAt: capturedAt}
}

func readSnapshot[T any](ctx context.Context, c *Coordinator, key string) (Result[T], bool) {
	snap, err := c.Store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrSnapshotMissing) {
			c.Logger.Warn("cache read failed", "key", key, "error", err)
		}
		return Result[T]{}, false
	}
	var v T
	if err := json.Unmarshal(snap.Payload, &v); err != nil {
		c.Logger.Warn("cached snapshot unreadable, ignoring", "key", key, "error", err)
		return Result[T]{}, false
	}
	return Result[T]{Value: v, Source: SourceCache, CapturedAt: snap.CapturedAt}, true
}

// Invalidate marks the snapshot of key as expired so the next Load revalidates.
// The payload stays available as the stale value.
func (c *Coordinator) Invalidate(ctx context.Context, key string) error {
	defer c.lockKey(key)()

	snap, err := c.Store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrSnapshotMissing) {
			return nil
		}
		return err
	}
	snap.CapturedAt = time.Time{}
	return c.Store.Put(ctx, snap)
}
