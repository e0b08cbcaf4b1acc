/*
Package staff derives advance balances for branch staff.

PURPOSE:
  Staff members take salary advances and repay them through deductions.
  The backend stores staff and advance transactions as two collections
  whose references to each other are inconsistent: some transactions
  carry the staff document id, some only the employee code, some only a
  typed name. This package links the two collections and derives one
  balance per staff member.

LEDGER RULES:
  credit:  advance, credit, loan
  debit:   deduction, debit, repayment, recovery
  counted: active, completed

  balance = max(0, counted credits - counted debits)

STANDALONE DEDUCTIONS:
  A counted debit for someone with no counted credit is allowed. It is
  reported on the row and logged as "standalone deduction" so it can be
  told apart from an ordinary repayment.

EMBEDDED ADVANCE:
  A staff record may carry a denormalized "advance" object written at
  creation time. It is used only when no advance transaction links to
  that person. Missing type and status on it default to an active advance.

SEE ALSO:
  - entry.go: Provisional entries and the optimistic tracker
  - generic/reconcile.go: The record-centric linking pass
*/
package staff

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/branch-ledger/generic"
)

// Domain is the RunStore domain for advance reconciliation.
const Domain = "staff_advances"

// =============================================================================
// FIELD MAPS
// =============================================================================

// StaffFields reads a staff member.
var StaffFields = generic.PersonFields{
	FieldMap: generic.FieldMap{
		PrimaryID:     []string{"_id", "id", "staff_id"},
		SecondaryCode: []string{"employee_id", "employeeId", "staff_code"},
		Name:          []string{"name", "full_name", "fullName"},
	},
	Embedded: []string{"advance", "current_advance"},
	EmbeddedFields: generic.RecordFields{
		ID:       []string{"_id", "id"},
		Category: []string{"type", "transaction_type"},
		Amount:   []string{"amount", "balance"},
		Status:   []string{"status"},
	},
}

// AdvanceFields reads an advance transaction.
var AdvanceFields = generic.RecordFields{
	FieldMap: generic.FieldMap{
		PrimaryID:     []string{"staff_id", "staffId", "staff"},
		SecondaryCode: []string{"employee_id", "employeeId", "staff.employee_id"},
		Name:          []string{"staff_name", "staffName", "employee_name", "staff"},
	},
	ID:       []string{"_id", "id"},
	Category: []string{"type", "transaction_type", "category"},
	Amount:   []string{"amount", "value"},
	Status:   []string{"status"},
}

// Rules is the advance ledger.
var Rules = generic.LedgerRules{
	Credit:  []string{"advance", "credit", "loan"},
	Debit:   []string{"deduction", "debit", "repayment", "recovery"},
	Counted: []string{"active", "completed"},
}

// =============================================================================
// BOOK
// =============================================================================

// Book links staff to advance transactions.
type Book struct {
	Matcher *generic.Matcher
	Rules   generic.LedgerRules
	Logger  *slog.Logger
}

// NewBook creates a book with the default strategy cascade.
func NewBook(logger *slog.Logger) *Book {
	if logger == nil {
		logger = slog.Default()
	}
	return &Book{
		Matcher: generic.NewMatcher(logger),
		Rules:   Rules,
		Logger:  logger,
	}
}

// Row is one staff member's derived advance state.
type Row struct {
	Person               generic.Person
	Balance              generic.LedgerBalance
	Links                []generic.LinkResult
	Records              []generic.AttachedRecord
	LowConfidence        bool
	StandaloneDeductions []generic.AttachedRecord
}

// Report is the derived view over both collections.
type Report struct {
	Rows           []Row
	Unresolved     []generic.AttachedRecord
	Summary        generic.ReconciliationSummary
	Outstanding    decimal.Decimal
	Reconciliation *generic.Reconciliation
}

// Row returns the row of the staff member with the given id.
func (r Report) Row(staffID string) (Row, bool) {
	id := generic.CanonicalID(staffID)
	for _, row := range r.Rows {
		if row.Person.PrimaryID == id {
			return row, true
		}
	}
	return Row{}, false
}

// Run captures the reconciliation for the RunStore under a fresh id.
func (r Report) Run(at time.Time) generic.Run {
	return generic.NewRun(uuid.NewString(), Domain, at, r.Reconciliation)
}

// Build reconciles the raw collections and derives every row.
func (b *Book) Build(staffRaw, advancesRaw []generic.Record) Report {
	people := make([]generic.Person, 0, len(staffRaw))
	for _, raw := range staffRaw {
		people = append(people, b.person(raw))
	}
	records := make([]generic.AttachedRecord, 0, len(advancesRaw))
	for _, raw := range advancesRaw {
		records = append(records, generic.NewAttachedRecord(raw, AdvanceFields))
	}

	rec := b.Matcher.Reconcile(people, records)
	report := Report{
		Rows:           make([]Row, 0, len(people)),
		Unresolved:     rec.Unresolved,
		Summary:        rec.Summary,
		Reconciliation: rec,
	}

	balances := make([]generic.LedgerBalance, 0, len(people))
	for i, p := range people {
		row := b.row(p, rec.LinksFor(i))
		report.Rows = append(report.Rows, row)
		balances = append(balances, row.Balance)
	}
	report.Outstanding = generic.Outstanding(balances...)
	return report
}

func (b *Book) person(raw generic.Record) generic.Person {
	p := generic.NewPerson(raw, StaffFields)
	if p.Embedded != nil {
		if p.Embedded.Category == "" {
			p.Embedded.Category = "advance"
		}
		if p.Embedded.Status == "" {
			p.Embedded.Status = "active"
		}
	}
	return p
}

func (b *Book) row(p generic.Person, links []generic.LinkResult) Row {
	if len(links) == 0 && p.Embedded != nil {
		pp, emb := p, *p.Embedded
		links = []generic.LinkResult{{Person: &pp, Record: &emb, Strategy: generic.StrategyEmbedded}}
	}

	row := Row{Person: p, Links: links, Records: make([]generic.AttachedRecord, 0, len(links))}
	for _, l := range links {
		row.Records = append(row.Records, *l.Record)
		if l.LowConfidence() {
			row.LowConfidence = true
		}
	}
	row.Balance = b.Rules.Aggregate(row.Records)
	row.StandaloneDeductions = b.standalone(p, row.Records)
	return row
}

// standalone returns the counted debits of someone with no counted credit.
func (b *Book) standalone(p generic.Person, records []generic.AttachedRecord) []generic.AttachedRecord {
	var debits []generic.AttachedRecord
	for _, r := range records {
		if !b.Rules.Counts(r.Status) {
			continue
		}
		switch b.Rules.Direction(r.Category) {
		case generic.DirectionCredit:
			return nil
		case generic.DirectionDebit:
			debits = append(debits, r)
		}
	}
	for _, d := range debits {
		b.Logger.Info("standalone deduction",
			"staff", p.PrimaryID,
			"record", d.ID,
			"amount", d.Amount.String())
	}
	return debits
}
