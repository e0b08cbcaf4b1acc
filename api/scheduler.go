/*
scheduler.go - Periodic dashboard refresh

PURPOSE:
  Keeps the dashboard snapshot warm so GET /api/dashboard answers from
  cache. Each tick regathers every counter regardless of TTL, then drops
  optimistic ledgers that have nothing pending.

DESIGN:
  - Runs on a generic.PollHandle owned by the refresher
  - First refresh happens immediately on Start
  - A failed refresh is logged; the previous snapshot stays served

USAGE:
  refresher := NewDashboardRefresher(handler, time.Minute)
  refresher.Start(ctx)
  // ... later
  refresher.Stop()

SEE ALSO:
  - dashboard.go: Aggregation
  - generic/poll.go: PollHandle
*/
package api

import (
	"context"
	"time"

	"github.com/warp/branch-ledger/generic"
)

// DashboardRefresher re-gathers the dashboard on an interval.
type DashboardRefresher struct {
	Handler  *Handler
	Interval time.Duration

	poll *generic.PollHandle
}

// NewDashboardRefresher creates a stopped refresher.
func NewDashboardRefresher(h *Handler, interval time.Duration) *DashboardRefresher {
	dr := &DashboardRefresher{Handler: h, Interval: interval}
	dr.poll = generic.NewPoll(interval, dr.refresh)
	return dr
}

// Start begins refreshing. Calling it on a running refresher is a no-op.
func (dr *DashboardRefresher) Start(ctx context.Context) {
	dr.poll.Start(ctx)
	dr.Handler.Logger.Info("dashboard refresher started", "interval", dr.Interval)
}

// Stop cancels the poll and waits for an in-progress refresh.
func (dr *DashboardRefresher) Stop() {
	if !dr.poll.Running() {
		return
	}
	dr.poll.Cancel()
	dr.Handler.Logger.Info("dashboard refresher stopped")
}

// RunNow triggers an immediate refresh outside the schedule.
func (dr *DashboardRefresher) RunNow(ctx context.Context) {
	dr.refresh(ctx)
}

func (dr *DashboardRefresher) refresh(ctx context.Context) {
	h := dr.Handler
	res := h.loadDashboard(ctx, 0).Result(ctx)
	switch {
	case res.Failed():
		h.Logger.Warn("dashboard refresh failed", "error", res.Err)
	case res.RefreshErr != nil:
		h.Logger.Warn("dashboard refresh failed, serving previous snapshot", "error", res.RefreshErr)
	default:
		h.Logger.Debug("dashboard refreshed", "failed_metrics", res.Value.Failed)
	}

	if n := h.Tracker.Prune(); n > 0 {
		h.Logger.Debug("pruned settled ledgers", "count", n)
	}
}
