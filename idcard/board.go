/*
Package idcard derives the ID card state of every student.

PURPOSE:
  Students and ID cards live in separate backend collections. Cards
  reference students by document id, admission number or typed name, and
  older students carry the card denormalized on their own record. This
  package links the two collections, derives one CardStatus per student
  and resolves the photo to show next to it.

CARD STATUS:
  none       no card linked
  pending    requested, not produced yet
  generated  produced, not printed
  printed    printed, not handed over
  issued     handed to the student
  expired    expiry_date is before now (overrides everything else)

  Backend status strings outside this list map to pending.

PHOTO:
  The card record is consulted before the student record, and within a
  record the fields are tried in PhotoFields order.

NON-GOAL:
  Card layout, rendering, printing and export are not done here.

SEE ALSO:
  - generic/asset.go: Photo reference classification
  - generic/reconcile.go: The linking pass
*/
package idcard

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/branch-ledger/generic"
)

// Domain is the RunStore domain for ID card reconciliation.
const Domain = "id_cards"

// =============================================================================
// FIELD MAPS
// =============================================================================

// StudentFields reads a student.
var StudentFields = generic.PersonFields{
	FieldMap: generic.FieldMap{
		PrimaryID:     []string{"_id", "id", "student_id"},
		SecondaryCode: []string{"admission_number", "admission_no", "roll_number", "student_code"},
		Name:          []string{"name", "full_name", "fullName", "student_name"},
	},
	Embedded:       []string{"id_card", "idCard"},
	EmbeddedFields: cardRecordFields,
}

var cardRecordFields = generic.RecordFields{
	ID:       []string{"_id", "id", "card_number"},
	Category: []string{"card_type", "type"},
	Status:   []string{"status", "card_status"},
}

// CardFields reads an ID card.
var CardFields = generic.RecordFields{
	FieldMap: generic.FieldMap{
		PrimaryID:     []string{"student_id", "studentId", "student"},
		SecondaryCode: []string{"admission_number", "admission_no", "student.admission_number"},
		Name:          []string{"student_name", "studentName", "student"},
	},
	ID:       cardRecordFields.ID,
	Category: cardRecordFields.Category,
	Status:   cardRecordFields.Status,
}

// PhotoFields are the photo reference fields in priority order.
var PhotoFields = []string{"photo_url", "photoUrl", "photo", "image", "profile_picture", "avatar"}

var expiryFields = []string{"expiry_date", "expiryDate", "valid_until", "validUntil"}

// =============================================================================
// CARD STATUS
// =============================================================================

// CardStatus is the derived state of a student's card.
type CardStatus string

const (
	StatusNone      CardStatus = "none"
	StatusPending   CardStatus = "pending"
	StatusGenerated CardStatus = "generated"
	StatusPrinted   CardStatus = "printed"
	StatusIssued    CardStatus = "issued"
	StatusExpired   CardStatus = "expired"
)

var statusAliases = map[string]CardStatus{
	"pending":   StatusPending,
	"requested": StatusPending,
	"generated": StatusGenerated,
	"created":   StatusGenerated,
	"active":    StatusGenerated,
	"printed":   StatusPrinted,
	"issued":    StatusIssued,
	"delivered": StatusIssued,
	"expired":   StatusExpired,
}

// Active reports whether the card is usable.
func (s CardStatus) Active() bool {
	return s == StatusGenerated || s == StatusPrinted || s == StatusIssued
}

// DeriveStatus computes the status of card at now. A nil card is none.
func DeriveStatus(card *generic.AttachedRecord, now time.Time) (CardStatus, *time.Time) {
	if card == nil {
		return StatusNone, nil
	}
	status, ok := statusAliases[card.Status]
	if !ok {
		status = StatusPending
	}
	exp, hasExp := expiry(card.Fields)
	if hasExp && exp.Before(now) {
		status = StatusExpired
	}
	if hasExp {
		return status, &exp
	}
	return status, nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006",
}

func expiry(rec generic.Record) (time.Time, bool) {
	raw := generic.LookupString(rec, expiryFields...)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// =============================================================================
// BOARD
// =============================================================================

// Board links students to ID cards.
type Board struct {
	Matcher *generic.Matcher
	Assets  generic.AssetResolver
	Logger  *slog.Logger
}

// NewBoard creates a board; assets.Fields defaults to PhotoFields.
func NewBoard(assets generic.AssetResolver, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	if len(assets.Fields) == 0 {
		assets.Fields = PhotoFields
	}
	return &Board{Matcher: generic.NewMatcher(logger), Assets: assets, Logger: logger}
}

// Row is one student's card state.
type Row struct {
	Person        generic.Person
	Card          *generic.AttachedRecord
	Strategy      generic.StrategyName
	Status        CardStatus
	Expiry        *time.Time
	PhotoURL      string
	HasPhoto      bool
	LowConfidence bool
	ExtraCards    int
}

// Report is the derived view over students and cards.
type Report struct {
	Rows           []Row
	Unresolved     []generic.AttachedRecord
	Summary        generic.ReconciliationSummary
	Counts         map[CardStatus]int
	Reconciliation *generic.Reconciliation
}

// Active counts students with a usable card.
func (r Report) Active() int {
	return r.Counts[StatusGenerated] + r.Counts[StatusPrinted] + r.Counts[StatusIssued]
}

// Run captures the reconciliation for the RunStore under a fresh id.
func (r Report) Run(at time.Time) generic.Run {
	return generic.NewRun(uuid.NewString(), Domain, at, r.Reconciliation)
}

// Build reconciles students with cards and derives every row at now.
func (b *Board) Build(studentsRaw, cardsRaw []generic.Record, now time.Time) Report {
	people := make([]generic.Person, 0, len(studentsRaw))
	for _, raw := range studentsRaw {
		people = append(people, generic.NewPerson(raw, StudentFields))
	}
	cards := make([]generic.AttachedRecord, 0, len(cardsRaw))
	for _, raw := range cardsRaw {
		cards = append(cards, generic.NewAttachedRecord(raw, CardFields))
	}

	rec := b.Matcher.Reconcile(people, cards)
	report := Report{
		Rows:           make([]Row, 0, len(people)),
		Unresolved:     rec.Unresolved,
		Summary:        rec.Summary,
		Counts:         make(map[CardStatus]int),
		Reconciliation: rec,
	}
	for i, p := range people {
		row := b.row(p, rec.LinksFor(i), now)
		report.Rows = append(report.Rows, row)
		report.Counts[row.Status]++
	}
	return report
}

func (b *Board) row(p generic.Person, links []generic.LinkResult, now time.Time) Row {
	row := Row{Person: p}
	switch {
	case len(links) > 0:
		card := *links[0].Record
		row.Card = &card
		row.Strategy = links[0].Strategy
		row.LowConfidence = links[0].LowConfidence()
		row.ExtraCards = len(links) - 1
		if row.ExtraCards > 0 {
			b.Logger.Warn("student has several cards, showing the first",
				"student", p.PrimaryID,
				"cards", len(links))
		}
	case p.Embedded != nil:
		card := *p.Embedded
		row.Card = &card
		row.Strategy = generic.StrategyEmbedded
	}

	row.Status, row.Expiry = DeriveStatus(row.Card, now)

	var sources []generic.Record
	if row.Card != nil {
		sources = append(sources, row.Card.Fields)
	}
	sources = append(sources, p.Fields)
	row.PhotoURL, row.HasPhoto = b.Assets.Resolve(sources...)
	return row
}
