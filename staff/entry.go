package staff

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/branch-ledger/generic"
)

// =============================================================================
// PROVISIONAL ENTRIES
// =============================================================================

// Entry is a locally created advance or deduction awaiting the backend.
type Entry struct {
	// Record is applied to the optimistic ledger straight away.
	Record generic.AttachedRecord
	// Payload is what gets sent to the backend.
	Payload generic.Record
}

// NewEntry builds a provisional entry for person. kind must be a credit or
// debit category and amount a positive number.
func NewEntry(person generic.Person, kind string, amount any, note string, at time.Time) (Entry, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if Rules.Direction(kind) == generic.DirectionNone {
		return Entry{}, fmt.Errorf("%w: %q", generic.ErrInvalidKind, kind)
	}
	amt := generic.ParseAmount(amount)
	if !amt.IsPositive() {
		return Entry{}, fmt.Errorf("%w: %v", generic.ErrInvalidAmount, amount)
	}

	staffID := generic.LookupString(person.Fields, StaffFields.PrimaryID...)
	if staffID == "" {
		staffID = person.PrimaryID
	}
	payload := generic.Record{
		"staff_id":   staffID,
		"staff_name": person.DisplayName,
		"type":       kind,
		"amount":     amt.String(),
		"status":     "active",
		"date":       at.UTC().Format(time.RFC3339),
		"client_ref": uuid.NewString(),
	}
	if code := generic.LookupString(person.Fields, StaffFields.SecondaryCode...); code != "" {
		payload["employee_id"] = code
	}
	if note != "" {
		payload["note"] = note
	}

	local := generic.Record{"_id": "local:" + payload["client_ref"].(string)}
	for k, v := range payload {
		local[k] = v
	}
	return Entry{Record: generic.NewAttachedRecord(local, AdvanceFields), Payload: payload}, nil
}

// =============================================================================
// TRACKER - One optimistic ledger per staff member
// =============================================================================

// Tracker keeps the optimistic ledgers of staff members with writes in flight.
type Tracker struct {
	rules generic.LedgerRules

	mu      sync.Mutex
	ledgers map[string]*generic.OptimisticLedger
}

// NewTracker creates an empty tracker.
func NewTracker(rules generic.LedgerRules) *Tracker {
	return &Tracker{rules: rules, ledgers: make(map[string]*generic.OptimisticLedger)}
}

// For returns the ledger of staffID, seeding it from base when new.
func (t *Tracker) For(staffID string, base []generic.AttachedRecord) *generic.OptimisticLedger {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ol, ok := t.ledgers[staffID]; ok {
		return ol
	}
	ol := generic.NewOptimisticLedger(t.rules, base)
	t.ledgers[staffID] = ol
	return ol
}

// Lookup returns the ledger of staffID if one exists.
func (t *Tracker) Lookup(staffID string) (*generic.OptimisticLedger, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ol, ok := t.ledgers[staffID]
	return ol, ok
}

// Prune drops ledgers with nothing pending.
func (t *Tracker) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, ol := range t.ledgers {
		if len(ol.Pending()) == 0 {
			delete(t.ledgers, id)
			n++
		}
	}
	return n
}

// BeginFetch takes a fetch token from every tracked ledger. Pass the result
// to Settle once a fresh advance list has been fetched.
func (t *Tracker) BeginFetch() map[string]uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	tokens := make(map[string]uint64, len(t.ledgers))
	for id, ol := range t.ledgers {
		tokens[id] = ol.BeginFetch()
	}
	return tokens
}

// Settle installs the rows of a fresh report into the ledgers that issued
// tokens. A tracked staff member missing from the report settles to empty.
func (t *Tracker) Settle(tokens map[string]uint64, report Report) {
	for id, token := range tokens {
		ol, ok := t.Lookup(id)
		if !ok {
			continue
		}
		row, _ := report.Row(id)
		ol.Settle(token, row.Records)
	}
}

// Overlay replaces the balance of every tracked row with its optimistic
// balance and returns the number of pending entries per staff id.
func (t *Tracker) Overlay(report *Report) map[string]int {
	pending := make(map[string]int)
	balances := make([]generic.LedgerBalance, 0, len(report.Rows))
	for i := range report.Rows {
		row := &report.Rows[i]
		if ol, ok := t.Lookup(row.Person.PrimaryID); ok {
			row.Balance = ol.Balance()
			if n := len(ol.Pending()); n > 0 {
				pending[row.Person.PrimaryID] = n
			}
		}
		balances = append(balances, row.Balance)
	}
	report.Outstanding = generic.Outstanding(balances...)
	return pending
}
