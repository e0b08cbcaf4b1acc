package generic_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/branch-ledger/generic"
	"github.com/warp/branch-ledger/generic/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestCoordinator(t *testing.T) (*generic.Coordinator, *store.Memory) {
	mem := store.NewMemory()
	c := generic.NewCoordinator(mem, generic.Discard)
	t.Cleanup(c.Wait)
	return c, mem
}

func seed(t *testing.T, mem *store.Memory, key string, v any, at time.Time) {
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, mem.Put(context.Background(), generic.Snapshot{Key: key, Payload: payload, CapturedAt: at}))
}

func never(ctx context.Context) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

var errUpstream = errors.New("upstream down")

// =============================================================================
// CACHE-FIRST
// =============================================================================

func TestLoad_CachedValueAvailableBeforeFetchResolves(t *testing.T) {
	// GIVEN: A stale snapshot and a fetch that blocks until released
	c, mem := newTestCoordinator(t)
	seed(t, mem, "staff", []string{"cached"}, time.Now().Add(-time.Hour))
	release := make(chan struct{})

	p := generic.Load(context.Background(), c, "staff", generic.LoadOptions{TTL: time.Minute}, nil,
		func(context.Context) ([]string, error) {
			<-release
			return []string{"fresh"}, nil
		})

	// THEN: The cached value is there synchronously
	cached, ok := p.Cached()
	require.True(t, ok)
	assert.Equal(t, []string{"cached"}, cached.Value)
	assert.Equal(t, generic.SourceCache, cached.Source)
	select {
	case <-p.Done():
		t.Fatal("fetch settled before it was released")
	default:
	}

	// WHEN: The fetch completes
	close(release)
	res := p.Result(context.Background())

	// THEN: The fresh value supersedes it and is stored
	assert.Equal(t, []string{"fresh"}, res.Value)
	assert.Equal(t, generic.SourceFresh, res.Source)
	snap, err := mem.Get(context.Background(), "staff")
	require.NoError(t, err)
	assert.JSONEq(t, `["fresh"]`, string(snap.Payload))
}

func TestLoad_WithinTTLSkipsNetwork(t *testing.T) {
	c, mem := newTestCoordinator(t)
	seed(t, mem, "k", []string{"cached"}, time.Now())
	var calls int32

	p := generic.Load(context.Background(), c, "k", generic.LoadOptions{TTL: time.Hour}, nil,
		func(context.Context) ([]string, error) {
			atomic.AddInt32(&calls, 1)
			return []string{"fresh"}, nil
		})
	res := p.Result(context.Background())

	assert.Equal(t, []string{"cached"}, res.Value)
	assert.False(t, res.Stale)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

// =============================================================================
// FAILURE HANDLING
// =============================================================================

func TestLoad_FailedRefreshKeepsCachedValueWithoutError(t *testing.T) {
	c, mem := newTestCoordinator(t)
	seed(t, mem, "k", []string{"cached"}, time.Now().Add(-time.Hour))

	p := generic.Load(context.Background(), c, "k", generic.LoadOptions{}, nil,
		func(context.Context) ([]string, error) { return nil, errUpstream })
	res := p.Result(context.Background())

	assert.False(t, res.Failed())
	assert.Equal(t, []string{"cached"}, res.Value)
	assert.True(t, res.Stale)
	assert.ErrorIs(t, res.RefreshErr, errUpstream)
}

func TestLoad_NoCacheFailureIsTotalFailure(t *testing.T) {
	c, _ := newTestCoordinator(t)

	p := generic.Load(context.Background(), c, "k", generic.LoadOptions{}, []string{},
		func(context.Context) ([]string, error) { return nil, errUpstream })
	res := p.Result(context.Background())

	assert.True(t, res.Failed())
	assert.Equal(t, generic.SourceFallback, res.Source)
	assert.Equal(t, []string{}, res.Value)
	assert.ErrorIs(t, res.Err, errUpstream)
}

func TestLoad_NoCacheTimeoutGivesFallbackAndLaterFetchFillsCache(t *testing.T) {
	// GIVEN: No snapshot and a fetch slower than the timeout
	c, mem := newTestCoordinator(t)
	release := make(chan struct{})

	p := generic.Load(context.Background(), c, "k", generic.LoadOptions{Timeout: 20 * time.Millisecond}, []string{"default"},
		func(context.Context) ([]string, error) {
			<-release
			return []string{"late"}, nil
		})

	// THEN: The caller proceeds with the fallback
	res := p.Result(context.Background())
	assert.Equal(t, []string{"default"}, res.Value)
	assert.ErrorIs(t, res.Err, generic.ErrFetchTimeout)
	assert.True(t, generic.IsTransient(res.Err))

	// WHEN: The fetch completes in the background
	close(release)
	<-p.Done()

	// THEN: The cache is filled for next time
	snap, err := mem.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.JSONEq(t, `["late"]`, string(snap.Payload))
}

func TestLoad_CachedTimeoutReturnsStaleValue(t *testing.T) {
	c, mem := newTestCoordinator(t)
	seed(t, mem, "k", []string{"cached"}, time.Now().Add(-time.Hour))
	c.MaxBackground = 50 * time.Millisecond

	p := generic.Load(context.Background(), c, "k", generic.LoadOptions{Timeout: 10 * time.Millisecond}, nil, never)
	res := p.Result(context.Background())

	assert.False(t, res.Failed())
	assert.True(t, res.Stale)
	assert.Equal(t, []string{"cached"}, res.Value)
}

func TestLoad_CallerCancellationDoesNotCancelFetch(t *testing.T) {
	c, mem := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})

	p := generic.Load(ctx, c, "k", generic.LoadOptions{}, nil,
		func(fctx context.Context) ([]string, error) {
			<-release
			if err := fctx.Err(); err != nil {
				return nil, err
			}
			return []string{"done"}, nil
		})
	cancel()
	res := p.Result(ctx)
	assert.True(t, res.Failed())

	close(release)
	<-p.Done()
	_, err := mem.Get(context.Background(), "k")
	assert.NoError(t, err)
}

// =============================================================================
// ORDERING
// =============================================================================

func TestLoad_StaleCompletionDoesNotOverwriteNewerSnapshot(t *testing.T) {
	// GIVEN: Fetch 1 starts, then fetch 2 starts
	c, mem := newTestCoordinator(t)
	releaseFirst := make(chan struct{})

	first := generic.Load(context.Background(), c, "k", generic.LoadOptions{}, nil,
		func(context.Context) ([]string, error) {
			<-releaseFirst
			return []string{"first"}, nil
		})
	second := generic.Load(context.Background(), c, "k", generic.LoadOptions{}, nil,
		func(context.Context) ([]string, error) {
			return []string{"second"}, nil
		})

	// WHEN: Fetch 2 lands first, then fetch 1 lands
	<-second.Done()
	writes := mem.Writes()
	close(releaseFirst)
	res := first.Result(context.Background())

	// THEN: The store still holds fetch 2, and fetch 1's caller sees it too
	snap, err := mem.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.JSONEq(t, `["second"]`, string(snap.Payload))
	assert.Equal(t, writes, mem.Writes())
	assert.Equal(t, []string{"second"}, res.Value)
}

// gatedStore holds back every Put that hold matches until release is closed.
type gatedStore struct {
	*store.Memory
	hold    func(generic.Snapshot) bool
	held    chan struct{}
	release chan struct{}
}

func newGatedStore(hold func(generic.Snapshot) bool) *gatedStore {
	return &gatedStore{
		Memory:  store.NewMemory(),
		hold:    hold,
		held:    make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (g *gatedStore) Put(ctx context.Context, snap generic.Snapshot) error {
	if g.hold(snap) {
		g.held <- struct{}{}
		<-g.release
	}
	return g.Memory.Put(ctx, snap)
}

func TestLoad_SlowWriteOfOlderFetchDoesNotOverwriteNewerSnapshot(t *testing.T) {
	// GIVEN: Fetch 1 wins the sequence check but its store write stalls
	gs := newGatedStore(func(s generic.Snapshot) bool { return string(s.Payload) == `["old"]` })
	c := generic.NewCoordinator(gs, generic.Discard)
	ctx := context.Background()

	first := generic.Load(ctx, c, "k", generic.LoadOptions{}, nil,
		func(context.Context) ([]string, error) { return []string{"old"}, nil })
	<-gs.held

	// WHEN: Fetch 2 completes while fetch 1 is still writing
	secondFetched := make(chan struct{})
	second := generic.Load(ctx, c, "k", generic.LoadOptions{}, nil,
		func(context.Context) ([]string, error) {
			close(secondFetched)
			return []string{"new"}, nil
		})
	<-secondFetched
	time.Sleep(20 * time.Millisecond)
	close(gs.release)
	first.Result(ctx)
	second.Result(ctx)
	c.Wait()

	// THEN: The newer fetch is what the store keeps
	snap, err := gs.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `["new"]`, string(snap.Payload))
}

func TestLoad_CorruptSnapshotTreatedAsMissing(t *testing.T) {
	c, mem := newTestCoordinator(t)
	require.NoError(t, mem.Put(context.Background(), generic.Snapshot{Key: "k", Payload: []byte("{nope"), CapturedAt: time.Now()}))

	p := generic.Load(context.Background(), c, "k", generic.LoadOptions{TTL: time.Hour}, nil,
		func(context.Context) ([]string, error) { return []string{"fresh"}, nil })

	_, ok := p.Cached()
	assert.False(t, ok)
	assert.Equal(t, []string{"fresh"}, p.Result(context.Background()).Value)
}

func TestInvalidate_ForcesRevalidation(t *testing.T) {
	c, mem := newTestCoordinator(t)
	seed(t, mem, "k", []string{"cached"}, time.Now())
	require.NoError(t, c.Invalidate(context.Background(), "k"))

	p := generic.Load(context.Background(), c, "k", generic.LoadOptions{TTL: time.Hour}, nil,
		func(context.Context) ([]string, error) { return []string{"fresh"}, nil })

	cached, ok := p.Cached()
	require.True(t, ok)
	assert.True(t, cached.Stale)
	assert.Equal(t, []string{"fresh"}, p.Result(context.Background()).Value)
	assert.NoError(t, c.Invalidate(context.Background(), "missing"))
}

func TestInvalidate_DoesNotOverwriteConcurrentRefresh(t *testing.T) {
	// GIVEN: An invalidation that read the old snapshot and stalls on its write
	gs := newGatedStore(func(s generic.Snapshot) bool { return s.CapturedAt.IsZero() })
	c := generic.NewCoordinator(gs, generic.Discard)
	ctx := context.Background()
	payload, err := json.Marshal([]string{"cached"})
	require.NoError(t, err)
	require.NoError(t, gs.Memory.Put(ctx, generic.Snapshot{Key: "k", Payload: payload, CapturedAt: time.Now().Add(-time.Hour)}))

	invalidated := make(chan error, 1)
	go func() { invalidated <- c.Invalidate(ctx, "k") }()
	<-gs.held

	// WHEN: A refresh completes before the invalidation finishes
	fetched := make(chan struct{})
	p := generic.Load(ctx, c, "k", generic.LoadOptions{}, nil,
		func(context.Context) ([]string, error) {
			close(fetched)
			return []string{"fresh"}, nil
		})
	<-fetched
	time.Sleep(20 * time.Millisecond)
	close(gs.release)
	require.NoError(t, <-invalidated)
	p.Result(ctx)
	c.Wait()

	// THEN: The refreshed snapshot survives with its capture time
	snap, err := gs.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `["fresh"]`, string(snap.Payload))
	assert.False(t, snap.CapturedAt.IsZero())
}
