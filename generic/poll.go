/*
poll.go - Periodic refresh owned by its consumer

PURPOSE:
  Re-runs a refresh function on a fixed interval. The handle is owned by
  whatever consumes the refreshed data: the consumer starts it and must
  cancel it when it stops observing. Nothing here is a global timer.

LIFECYCLE:
  poll := generic.NewPoll(time.Minute, refresh)
  poll.Start(ctx)   // runs refresh immediately, then every minute
  ...
  poll.Cancel()     // stops the ticker, waits for the loop to exit

  Start on a running handle is a no-op. Cancel on a stopped handle is a
  no-op. A cancelled handle can be started again. Cancelling the context
  passed to Start also stops the loop.
*/
package generic

import (
	"context"
	"sync"
	"time"
)

// PollHandle runs fn every interval until cancelled.
type PollHandle struct {
	Interval time.Duration
	fn       func(context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoll creates a stopped handle.
func NewPoll(interval time.Duration, fn func(context.Context)) *PollHandle {
	return &PollHandle{Interval: interval, fn: fn}
}

// Start begins polling. The first run happens immediately.
func (ph *PollHandle) Start(ctx context.Context) {
	ph.mu.Lock()
	defer ph.mu.Unlock()
	if ph.done != nil {
		select {
		case <-ph.done:
			// the parent context ended; allow a restart
			ph.cancel()
		default:
			return
		}
	}

	pctx, cancel := context.WithCancel(ctx)
	ph.cancel = cancel
	ph.done = make(chan struct{})
	go ph.run(pctx, ph.done)
}

// Cancel stops polling and waits for an in-progress run to return.
func (ph *PollHandle) Cancel() {
	ph.mu.Lock()
	cancel, done := ph.cancel, ph.done
	ph.cancel, ph.done = nil, nil
	ph.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the handle is started and its loop still alive.
func (ph *PollHandle) Running() bool {
	ph.mu.Lock()
	done := ph.done
	ph.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (ph *PollHandle) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ph.fn(ctx)
	if ph.Interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(ph.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ph.fn(ctx)
		case <-ctx.Done():
			return
		}
	}
}
