package generic

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// GATHER - All-settle aggregate of independent upstream calls
// =============================================================================

// Metric is one independent upstream call feeding an aggregate view.
type Metric[T any] struct {
	Name     string
	Fetch    func(context.Context) (T, error)
	Fallback T
}

// MetricResult is the settled outcome of one Metric.
type MetricResult[T any] struct {
	Value    T
	Err      error
	Fallback bool
	Elapsed  time.Duration
}

// Aggregate holds every metric's result, in declaration order.
type Aggregate[T any] struct {
	Order   []string
	Results map[string]MetricResult[T]
}

// Value returns the metric's value (its fallback when it failed).
func (a Aggregate[T]) Value(name string) T {
	return a.Results[name].Value
}

// Failed lists the metrics that fell back, in declaration order.
func (a Aggregate[T]) Failed() []string {
	var out []string
	for _, n := range a.Order {
		if a.Results[n].Fallback {
			out = append(out, n)
		}
	}
	return out
}

// AllFailed is true when no metric produced a real value.
func (a Aggregate[T]) AllFailed() bool {
	return len(a.Order) > 0 && len(a.Failed()) == len(a.Order)
}

// Gather runs every metric concurrently and waits for all of them to settle.
// A metric that errors or exceeds timeout resolves to its own fallback; it
// never fails the aggregate. A metric that ignores its context keeps running
// in the background after the aggregate returns.
func Gather[T any](ctx context.Context, timeout time.Duration, metrics []Metric[T]) Aggregate[T] {
	agg := Aggregate[T]{
		Order:   make([]string, 0, len(metrics)),
		Results: make(map[string]MetricResult[T], len(metrics)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, m := range metrics {
		agg.Order = append(agg.Order, m.Name)
		wg.Add(1)
		go func(m Metric[T]) {
			defer wg.Done()
			res := settle(ctx, timeout, m)
			mu.Lock()
			agg.Results[m.Name] = res
			mu.Unlock()
		}(m)
	}
	wg.Wait()
	return agg
}

func settle[T any](ctx context.Context, timeout time.Duration, m Metric[T]) MetricResult[T] {
	mctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		mctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	start := time.Now()
	go func() {
		v, err := m.Fetch(mctx)
		ch <- outcome{v, err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			return MetricResult[T]{Value: m.Fallback, Err: o.err, Fallback: true, Elapsed: time.Since(start)}
		}
		return MetricResult[T]{Value: o.v, Elapsed: time.Since(start)}
	case <-mctx.Done():
		err := mctx.Err()
		if err == context.DeadlineExceeded {
			err = ErrFetchTimeout
		}
		return MetricResult[T]{Value: m.Fallback, Err: err, Fallback: true, Elapsed: time.Since(start)}
	}
}
