package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/branch-ledger/generic"
)

// =============================================================================
// DASHBOARD
// =============================================================================

const (
	metricStudents    = "students"
	metricStaff       = "staff"
	metricActiveCards = "active_id_cards"
	metricOutstanding = "outstanding_advances"
)

// GetDashboard handles GET /api/dashboard
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res := h.loadDashboard(ctx, h.Fetch.TTLFor(generic.KeyDashboard)).Result(ctx)

	if res.Failed() || generic.IsAuthFailure(res.RefreshErr) {
		err := res.Err
		if err == nil {
			err = res.RefreshErr
		}
		h.writeFailure(w, "dashboard unavailable", &unavailable{key: generic.KeyDashboard, err: err})
		return
	}

	f := Freshness{Stale: res.Stale, CapturedAt: formatTime(res.CapturedAt)}
	f.Retry = res.RefreshErr != nil || len(res.Value.Failed) > 0
	writeJSON(w, http.StatusOK, DashboardResponse{Freshness: f, DashboardStats: res.Value})
}

// loadDashboard serves the dashboard from cache and revalidates it by
// gathering every counter. ttl zero always revalidates.
func (h *Handler) loadDashboard(ctx context.Context, ttl time.Duration) *generic.Pending[DashboardStats] {
	return generic.Load(ctx, h.Coordinator, generic.KeyDashboard,
		generic.LoadOptions{TTL: ttl, Timeout: h.Fetch.Timeout},
		DashboardStats{OutstandingAdvances: "0.00"},
		h.gatherDashboard)
}

// gatherDashboard computes every counter independently. A counter that fails
// shows its zero default and is named in Failed; the aggregate fails when
// every counter did, or when any counter hit an auth failure.
func (h *Handler) gatherDashboard(ctx context.Context) (DashboardStats, error) {
	count := func(col Collection) func(context.Context) (decimal.Decimal, error) {
		return func(ctx context.Context) (decimal.Decimal, error) {
			lists := h.loadLists(ctx, col)
			if err := listsErr(lists); err != nil {
				return decimal.Zero, err
			}
			return decimal.NewFromInt(int64(len(lists[0].Value))), nil
		}
	}

	agg := generic.Gather(ctx, h.Fetch.Timeout, []generic.Metric[decimal.Decimal]{
		{Name: metricStudents, Fetch: count(h.Paths.Students), Fallback: decimal.Zero},
		{Name: metricStaff, Fetch: count(h.Paths.Staff), Fallback: decimal.Zero},
		{Name: metricActiveCards, Fetch: h.activeCards, Fallback: decimal.Zero},
		{Name: metricOutstanding, Fetch: h.outstanding, Fallback: decimal.Zero},
	})

	for _, name := range agg.Order {
		if err := agg.Results[name].Err; generic.IsAuthFailure(err) {
			return DashboardStats{}, fmt.Errorf("dashboard metric %s: %w", name, err)
		}
	}
	if agg.AllFailed() {
		errs := make([]error, 0, len(agg.Order))
		for _, name := range agg.Order {
			errs = append(errs, agg.Results[name].Err)
		}
		return DashboardStats{}, errors.Join(errs...)
	}
	for _, name := range agg.Failed() {
		h.Logger.Warn("dashboard metric fell back", "metric", name, "error", agg.Results[name].Err)
	}

	return DashboardStats{
		Students:            agg.Value(metricStudents).IntPart(),
		Staff:               agg.Value(metricStaff).IntPart(),
		ActiveIDCards:       agg.Value(metricActiveCards).IntPart(),
		OutstandingAdvances: agg.Value(metricOutstanding).StringFixed(2),
		Failed:              agg.Failed(),
	}, nil
}

func (h *Handler) activeCards(ctx context.Context) (decimal.Decimal, error) {
	lists := h.loadLists(ctx, h.Paths.Students, h.Paths.IDCards)
	if err := listsErr(lists); err != nil {
		return decimal.Zero, err
	}
	report := h.Board.Build(lists[0].Value, lists[1].Value, h.Now())
	return decimal.NewFromInt(int64(report.Active())), nil
}

func (h *Handler) outstanding(ctx context.Context) (decimal.Decimal, error) {
	lists := h.loadLists(ctx, h.Paths.Staff, h.Paths.Advances)
	if err := listsErr(lists); err != nil {
		return decimal.Zero, err
	}
	report := h.Book.Build(lists[0].Value, lists[1].Value)
	h.Tracker.Overlay(&report)
	return report.Outstanding, nil
}

// listsErr reports why lists cannot feed a counter. An auth failure wins,
// even one hidden behind a cached value.
func listsErr(lists []listResult) error {
	for _, lr := range lists {
		switch {
		case generic.IsAuthFailure(lr.Err):
			return lr.Err
		case generic.IsAuthFailure(lr.RefreshErr):
			return lr.RefreshErr
		}
	}
	for _, lr := range lists {
		if lr.Failed() {
			return lr.Err
		}
	}
	return nil
}
