/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures served to the admin front end. Derived views
  are flattened here so the front end never sees engine types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

FRESHNESS:
  Every view response carries stale/captured_at. stale=true means the data
  came from the local cache and a refresh is in flight or failed; the front
  end shows it without an error. unavailable names inputs that fell back to
  an empty list; retry=true asks the front end to offer a retry.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/warp/branch-ledger/generic"
	"github.com/warp/branch-ledger/idcard"
	"github.com/warp/branch-ledger/staff"
)

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Retry   bool   `json:"retry,omitempty"`
}

// Freshness describes where a view's data came from. Unavailable lists the
// inputs that could not be fetched and were replaced by their empty default.
type Freshness struct {
	Stale       bool     `json:"stale"`
	CapturedAt  string   `json:"captured_at,omitempty"`
	Unavailable []string `json:"unavailable,omitempty"`
	Retry       bool     `json:"retry,omitempty"`
}

// UnresolvedDTO is an attached record nobody could be linked to.
type UnresolvedDTO struct {
	RecordID string          `json:"record_id,omitempty"`
	Keys     []string        `json:"keys"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func toUnresolvedDTOs(records []generic.AttachedRecord) []UnresolvedDTO {
	out := make([]UnresolvedDTO, 0, len(records))
	for _, r := range records {
		payload, _ := json.Marshal(r.Fields)
		out = append(out, UnresolvedDTO{RecordID: r.ID, Keys: generic.DescribeKeys(r.Keys), Payload: payload})
	}
	return out
}

// rawID returns the person's id as the backend spelled it.
func rawID(p generic.Person, paths []string) string {
	if raw := generic.LookupString(p.Fields, paths...); raw != "" {
		return raw
	}
	return p.PrimaryID
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// =============================================================================
// STAFF ADVANCES
// =============================================================================

// StaffAdvanceDTO is one staff member's advance balance.
type StaffAdvanceDTO struct {
	StaffID              string             `json:"staff_id"`
	EmployeeID           string             `json:"employee_id,omitempty"`
	Name                 string             `json:"name"`
	Balance              string             `json:"balance"`
	Credit               string             `json:"total_advanced"`
	Debit                string             `json:"total_deducted"`
	LowConfidence        bool               `json:"low_confidence"`
	StandaloneDeductions int                `json:"standalone_deductions"`
	Pending              int                `json:"pending"`
	Transactions         []AdvanceRecordDTO `json:"transactions,omitempty"`
}

// AdvanceRecordDTO is one linked transaction.
type AdvanceRecordDTO struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Amount   string `json:"amount"`
	Status   string `json:"status"`
	LinkedBy string `json:"linked_by"`
}

// AdvanceReportResponse is the staff advances view.
type AdvanceReportResponse struct {
	Freshness
	Staff       []StaffAdvanceDTO             `json:"staff"`
	Outstanding string                        `json:"outstanding"`
	Unresolved  []UnresolvedDTO               `json:"unresolved"`
	Summary     generic.ReconciliationSummary `json:"summary"`
}

func toStaffAdvanceDTO(row staff.Row, pending int, withRecords bool) StaffAdvanceDTO {
	dto := StaffAdvanceDTO{
		StaffID:              rawID(row.Person, staff.StaffFields.PrimaryID),
		EmployeeID:           generic.LookupString(row.Person.Fields, staff.StaffFields.SecondaryCode...),
		Name:                 row.Person.DisplayName,
		Balance:              row.Balance.Balance.StringFixed(2),
		Credit:               row.Balance.Credit.StringFixed(2),
		Debit:                row.Balance.Debit.StringFixed(2),
		LowConfidence:        row.LowConfidence,
		StandaloneDeductions: len(row.StandaloneDeductions),
		Pending:              pending,
	}
	if withRecords {
		dto.Transactions = make([]AdvanceRecordDTO, 0, len(row.Links))
		for _, l := range row.Links {
			dto.Transactions = append(dto.Transactions, AdvanceRecordDTO{
				ID:       l.Record.ID,
				Type:     l.Record.Category,
				Amount:   l.Record.Amount.StringFixed(2),
				Status:   l.Record.Status,
				LinkedBy: string(l.Strategy),
			})
		}
	}
	return dto
}

// SubmitAdvanceRequest records an advance or a deduction.
type SubmitAdvanceRequest struct {
	Type   string `json:"type"`
	Amount any    `json:"amount"`
	Note   string `json:"note"`
}

// SubmitAdvanceResponse is returned after a write.
type SubmitAdvanceResponse struct {
	StaffID   string `json:"staff_id"`
	EntryID   string `json:"entry_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Balance   string `json:"balance"`
	Pending   int    `json:"pending"`
	Confirmed bool   `json:"confirmed"`
}

// =============================================================================
// ID CARDS
// =============================================================================

// IDCardDTO is one student's card state.
type IDCardDTO struct {
	StudentID       string `json:"student_id"`
	AdmissionNumber string `json:"admission_number,omitempty"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	CardID          string `json:"card_id,omitempty"`
	Expiry          string `json:"expiry,omitempty"`
	PhotoURL        string `json:"photo_url,omitempty"`
	LinkedBy        string `json:"linked_by,omitempty"`
	LowConfidence   bool   `json:"low_confidence"`
}

// IDCardReportResponse is the ID card view.
type IDCardReportResponse struct {
	Freshness
	Students   []IDCardDTO                   `json:"students"`
	Counts     map[idcard.CardStatus]int     `json:"counts"`
	Active     int                           `json:"active"`
	Unresolved []UnresolvedDTO               `json:"unresolved"`
	Summary    generic.ReconciliationSummary `json:"summary"`
}

func toIDCardDTO(row idcard.Row) IDCardDTO {
	dto := IDCardDTO{
		StudentID:       rawID(row.Person, idcard.StudentFields.PrimaryID),
		AdmissionNumber: generic.LookupString(row.Person.Fields, idcard.StudentFields.SecondaryCode...),
		Name:            row.Person.DisplayName,
		Status:          string(row.Status),
		PhotoURL:        row.PhotoURL,
		LinkedBy:        string(row.Strategy),
		LowConfidence:   row.LowConfidence,
	}
	if row.Card != nil {
		dto.CardID = row.Card.ID
	}
	if row.Expiry != nil {
		dto.Expiry = row.Expiry.Format("2006-01-02")
	}
	return dto
}

// =============================================================================
// DASHBOARD
// =============================================================================

// DashboardStats is the aggregate stored under generic.KeyDashboard.
type DashboardStats struct {
	Students            int64    `json:"students"`
	Staff               int64    `json:"staff"`
	ActiveIDCards       int64    `json:"active_id_cards"`
	OutstandingAdvances string   `json:"outstanding_advances"`
	Failed              []string `json:"failed,omitempty"`
}

// DashboardResponse is the dashboard view.
type DashboardResponse struct {
	Freshness
	DashboardStats
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

// RunDTO summarizes a reconciliation run.
type RunDTO struct {
	ID        string                        `json:"id"`
	Domain    string                        `json:"domain"`
	StartedAt string                        `json:"started_at"`
	Summary   generic.ReconciliationSummary `json:"summary"`
}

func toRunDTO(r generic.Run) RunDTO {
	return RunDTO{ID: r.ID, Domain: r.Domain, StartedAt: formatTime(r.StartedAt), Summary: r.Summary}
}

// RunUnresolvedResponse lists the unresolved records of one run.
type RunUnresolvedResponse struct {
	RunDTO
	Unresolved []UnresolvedDTO `json:"unresolved"`
}

// =============================================================================
// SESSION
// =============================================================================

// SessionRequest stores a login.
type SessionRequest struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// SessionDTO is the stored login without its token.
type SessionDTO struct {
	UserID  string `json:"user_id"`
	SavedAt string `json:"saved_at"`
}
