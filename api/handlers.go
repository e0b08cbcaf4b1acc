/*
handlers.go - HTTP API handlers for the branch ledger

PURPOSE:
  Exposes the reconciled views of the school backend via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the staff,
  idcard and generic packages.

ENDPOINTS:
  Dashboard:
    GET    /api/dashboard                       Aggregated counters

  Staff advances:
    GET    /api/staff/advances                  Balance per staff member
    GET    /api/staff/{id}/advance              One member with transactions
    POST   /api/staff/{id}/advances             Record an advance or deduction

  ID cards:
    GET    /api/students/idcards                Card status per student

  Reconciliation:
    GET    /api/reconciliation/runs             Recent runs (?domain=&limit=)
    GET    /api/reconciliation/runs/{id}/unresolved

  Session:
    GET    /api/session                         Stored login
    PUT    /api/session                         Store a backend token
    DELETE /api/session                         Log out

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Coordinator: cache-first loading of every upstream list
  - Backend: the school backend (list + write)
  - Auth: session and bearer token
  - Runs: reconciliation history
  - Book/Board/Tracker: domain derivations

REQUEST FLOW:
  1. Start every upstream Load the view needs (they run concurrently)
  2. Wait for each result (fresh, cached, or empty default)
  3. Reconcile and derive the view
  4. Serialize response with its freshness

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 401: {"error":"reauthenticate"}; the session was cleared
  - 404: Unknown staff member or run
  - 503: Nothing to show (no cache, upstream down); retry=true
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - dashboard.go: Dashboard aggregation
  - scheduler.go: Periodic dashboard refresh
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/branch-ledger/backend"
	"github.com/warp/branch-ledger/config"
	"github.com/warp/branch-ledger/factory"
	"github.com/warp/branch-ledger/generic"
	"github.com/warp/branch-ledger/idcard"
	"github.com/warp/branch-ledger/staff"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the school backend as seen by the handlers.
type Backend interface {
	List(ctx context.Context, path, entity string) ([]generic.Record, error)
	Write(ctx context.Context, method, path, entity string, payload any) (factory.WriteResult, error)
}

// Collection is one upstream list and the cache key it is stored under.
type Collection struct {
	Key    string
	Path   string
	Entity string
}

// Paths are the upstream endpoints the views are built from.
type Paths struct {
	Staff        Collection
	Advances     Collection
	Students     Collection
	IDCards      Collection
	AdvanceWrite string
}

// DefaultPaths matches the school backend's routes.
func DefaultPaths() Paths {
	return Paths{
		Staff:        Collection{Key: generic.KeyStaffList, Path: "/api/staff", Entity: "staff"},
		Advances:     Collection{Key: generic.KeyAdvanceList, Path: "/api/staff/advances", Entity: "advances"},
		Students:     Collection{Key: generic.KeyStudentList, Path: "/api/students", Entity: "students"},
		IDCards:      Collection{Key: generic.KeyIDCardList, Path: "/api/id-cards", Entity: "id_cards"},
		AdvanceWrite: "/api/staff/advances",
	}
}

// Dependencies wires a Handler.
type Dependencies struct {
	Coordinator *generic.Coordinator
	Backend     Backend
	Auth        *backend.Authorizer
	Runs        generic.RunStore
	Assets      generic.AssetResolver
	Fetch       config.FetchConfig
	Logger      *slog.Logger
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Coordinator *generic.Coordinator
	Backend     Backend
	Auth        *backend.Authorizer
	Runs        generic.RunStore
	Book        *staff.Book
	Board       *idcard.Board
	Tracker     *staff.Tracker
	Fetch       config.FetchConfig
	Paths       Paths
	Logger      *slog.Logger
	Now         func() time.Time
}

// NewHandler creates a new handler.
func NewHandler(d Dependencies) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Coordinator: d.Coordinator,
		Backend:     d.Backend,
		Auth:        d.Auth,
		Runs:        d.Runs,
		Book:        staff.NewBook(logger),
		Board:       idcard.NewBoard(d.Assets, logger),
		Tracker:     staff.NewTracker(staff.Rules),
		Fetch:       d.Fetch,
		Paths:       DefaultPaths(),
		Logger:      logger,
		Now:         time.Now,
	}
}

// =============================================================================
// LOADING
// =============================================================================

// listResult is a loaded upstream list and the collection it came from.
type listResult struct {
	Collection
	generic.Result[[]generic.Record]
}

// fresh reports whether the list came from the network on this request.
func (lr listResult) fresh() bool {
	return lr.Source == generic.SourceFresh
}

// loadLists starts a Load for every collection, then waits for all of them.
func (h *Handler) loadLists(ctx context.Context, cols ...Collection) []listResult {
	pending := make([]*generic.Pending[[]generic.Record], len(cols))
	for i, col := range cols {
		col := col
		pending[i] = generic.Load(ctx, h.Coordinator, col.Key,
			generic.LoadOptions{TTL: h.Fetch.TTLFor(col.Key), Timeout: h.Fetch.Timeout},
			[]generic.Record{},
			func(ctx context.Context) ([]generic.Record, error) {
				return h.Backend.List(ctx, col.Path, col.Entity)
			})
	}
	out := make([]listResult, len(cols))
	for i, p := range pending {
		out[i] = listResult{Collection: cols[i], Result: p.Result(ctx)}
	}
	return out
}

// freshness folds the results of a view's inputs. It returns an auth error
// if any input needs the user to log in again; every other failure leaves
// that input on its empty default and is listed as unavailable.
func freshness(results ...listResult) (Freshness, error) {
	var f Freshness
	var oldest time.Time
	for _, lr := range results {
		if generic.IsAuthFailure(lr.Err) || generic.IsAuthFailure(lr.RefreshErr) {
			return Freshness{}, generic.ErrAuthRequired
		}
		if lr.Failed() {
			f.Unavailable = append(f.Unavailable, lr.Key)
			f.Retry = true
			continue
		}
		if lr.Stale {
			f.Stale = true
			if lr.RefreshErr != nil {
				f.Retry = true
			}
		}
		if !lr.CapturedAt.IsZero() && (oldest.IsZero() || lr.CapturedAt.Before(oldest)) {
			oldest = lr.CapturedAt
		}
	}
	f.CapturedAt = formatTime(oldest)
	return f, nil
}

// unavailable is a view whose primary input could not be loaded at all.
type unavailable struct {
	key string
	err error
}

func (u *unavailable) Error() string {
	return u.key + " unavailable: " + u.err.Error()
}

func (u *unavailable) Unwrap() error {
	return u.err
}

// mustHave fails the view when lr, without which it has nothing to show,
// fell back to its default.
func mustHave(lr listResult) error {
	if lr.Failed() {
		return &unavailable{key: lr.Key, err: lr.Err}
	}
	return nil
}

// saveRun records a reconciliation pass. Failure is logged, never returned.
func (h *Handler) saveRun(ctx context.Context, run generic.Run) {
	if h.Runs == nil {
		return
	}
	if err := h.Runs.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		h.Logger.Warn("saving reconciliation run failed", "domain", run.Domain, "error", err)
		return
	}
	h.Logger.Info("reconciliation run recorded",
		"domain", run.Domain,
		"run", run.ID,
		"linked", run.Summary.Linked,
		"unresolved", run.Summary.Unresolved)
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

// ListRuns handles GET /api/reconciliation/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	runs, err := h.Runs.ListRuns(r.Context(), domain, limit)
	if err != nil {
		h.writeFailure(w, "failed to list runs", err)
		return
	}
	out := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetRunUnresolved handles GET /api/reconciliation/runs/{id}/unresolved
func (h *Handler) GetRunUnresolved(w http.ResponseWriter, r *http.Request) {
	run, err := h.Runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeFailure(w, "failed to load run", err)
		return
	}
	resp := RunUnresolvedResponse{RunDTO: toRunDTO(*run), Unresolved: make([]UnresolvedDTO, 0, len(run.Unresolved))}
	for _, u := range run.Unresolved {
		resp.Unresolved = append(resp.Unresolved, UnresolvedDTO{RecordID: u.RecordID, Keys: u.Keys, Payload: u.Payload})
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// SESSION
// =============================================================================

// GetSession handles GET /api/session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.Auth.Sessions.Load(r.Context())
	if err != nil {
		h.writeFailure(w, "no session", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionDTO{UserID: s.UserID, SavedAt: formatTime(s.SavedAt)})
}

// PutSession handles PUT /api/session
func (h *Handler) PutSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required", nil)
		return
	}

	s, err := h.Auth.Login(r.Context(), req.Token, req.UserID)
	if err != nil {
		h.writeFailure(w, "login rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionDTO{UserID: s.UserID, SavedAt: formatTime(s.SavedAt)})
}

// DeleteSession handles DELETE /api/session
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Auth.Logout(r.Context()); err != nil {
		h.writeFailure(w, "logout failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeFailure maps an error to its status code.
func (h *Handler) writeFailure(w http.ResponseWriter, message string, err error) {
	var u *unavailable
	switch {
	case generic.IsAuthFailure(err):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "reauthenticate"})
	case errors.As(err, &u), generic.IsTransient(err):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: message, Details: err.Error(), Retry: true})
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Logger.Error(message, "error", err)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
