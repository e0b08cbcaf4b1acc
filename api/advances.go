package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/branch-ledger/generic"
	"github.com/warp/branch-ledger/staff"
)

// =============================================================================
// STAFF ADVANCES
// =============================================================================

// advanceView is a derived advances report and what it was built from.
type advanceView struct {
	staff     listResult
	advances  listResult
	report    staff.Report
	pending   map[string]int
	freshness Freshness
}

// loadAdvances reconciles staff with advances and overlays the balances of
// entries not yet confirmed by a fetch.
func (h *Handler) loadAdvances(ctx context.Context) (advanceView, error) {
	tokens := h.Tracker.BeginFetch()
	lists := h.loadLists(ctx, h.Paths.Staff, h.Paths.Advances)
	v := advanceView{staff: lists[0], advances: lists[1]}

	f, err := freshness(lists...)
	if err != nil {
		return v, err
	}
	if err := mustHave(v.staff); err != nil {
		return v, err
	}
	v.freshness = f

	v.report = h.Book.Build(v.staff.Value, v.advances.Value)
	if v.advances.fresh() {
		h.Tracker.Settle(tokens, v.report)
		h.saveRun(ctx, v.report.Run(h.Now()))
	}
	v.pending = h.Tracker.Overlay(&v.report)
	return v, nil
}

// ListStaffAdvances handles GET /api/staff/advances
func (h *Handler) ListStaffAdvances(w http.ResponseWriter, r *http.Request) {
	v, err := h.loadAdvances(r.Context())
	if err != nil {
		h.writeFailure(w, "failed to load staff advances", err)
		return
	}

	resp := AdvanceReportResponse{
		Freshness:   v.freshness,
		Staff:       make([]StaffAdvanceDTO, 0, len(v.report.Rows)),
		Outstanding: v.report.Outstanding.StringFixed(2),
		Unresolved:  toUnresolvedDTOs(v.report.Unresolved),
		Summary:     v.report.Summary,
	}
	for _, row := range v.report.Rows {
		resp.Staff = append(resp.Staff, toStaffAdvanceDTO(row, v.pending[row.Person.PrimaryID], false))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetStaffAdvance handles GET /api/staff/{id}/advance
func (h *Handler) GetStaffAdvance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, err := h.loadAdvances(r.Context())
	if err != nil {
		h.writeFailure(w, "failed to load staff advances", err)
		return
	}
	row, ok := v.report.Row(id)
	if !ok {
		writeError(w, http.StatusNotFound, "staff member not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Freshness
		StaffAdvanceDTO
	}{v.freshness, toStaffAdvanceDTO(row, v.pending[row.Person.PrimaryID], true)})
}

// SubmitAdvance handles POST /api/staff/{id}/advances
//
// The entry is staged on the member's optimistic ledger before the backend
// write, reverted if the write fails, acknowledged when it succeeds, and
// settled by the refetch after it.
func (h *Handler) SubmitAdvance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req SubmitAdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	v, err := h.loadAdvances(ctx)
	if err != nil {
		h.writeFailure(w, "failed to load staff advances", err)
		return
	}
	row, ok := v.report.Row(id)
	if !ok {
		writeError(w, http.StatusNotFound, "staff member not found", nil)
		return
	}

	entry, err := staff.NewEntry(row.Person, req.Type, req.Amount, req.Note, h.Now())
	if err != nil {
		h.writeFailure(w, "invalid entry", err)
		return
	}

	ledger := h.Tracker.For(row.Person.PrimaryID, row.Records)
	version, _ := ledger.Submit(entry.Record)

	wr, err := h.Backend.Write(ctx, http.MethodPost, h.Paths.AdvanceWrite, "advance", entry.Payload)
	if err != nil {
		ledger.Revert(version)
		h.Logger.Warn("advance write failed, reverted",
			"staff", row.Person.PrimaryID,
			"type", entry.Record.Category,
			"amount", entry.Record.Amount.String(),
			"error", err)
		h.writeFailure(w, "failed to record advance", err)
		return
	}
	ledger.Acknowledge(version)

	confirmed := h.confirm(ctx, v.staff.Value)
	resp := SubmitAdvanceResponse{
		StaffID:   rawID(row.Person, staff.StaffFields.PrimaryID),
		EntryID:   generic.LookupString(wr.Entity, "_id", "id"),
		Message:   wr.Message,
		Balance:   ledger.Balance().Balance.StringFixed(2),
		Pending:   len(ledger.Pending()),
		Confirmed: confirmed,
	}
	writeJSON(w, http.StatusCreated, resp)
}

// confirm refetches the advance list after a write and settles every
// tracked ledger with it. It reports whether fresh data arrived in time.
func (h *Handler) confirm(ctx context.Context, staffRaw []generic.Record) bool {
	if err := h.Coordinator.Invalidate(ctx, h.Paths.Advances.Key); err != nil {
		h.Logger.Warn("invalidating advance cache failed", "error", err)
	}
	tokens := h.Tracker.BeginFetch()
	lists := h.loadLists(ctx, h.Paths.Advances)
	if !lists[0].fresh() {
		h.Logger.Info("advance write not yet confirmed by a fetch",
			"source", lists[0].Source,
			"error", lists[0].Err)
		return false
	}
	h.Tracker.Settle(tokens, h.Book.Build(staffRaw, lists[0].Value))
	return true
}
