/*
Package generic provides the core reconciliation engine.

PURPOSE:
  This package contains domain-agnostic types and algorithms for linking
  records from two independently-keyed collections and deriving state from
  the linked result. Whether linking staff to advance transactions or
  students to ID cards, the same engine handles key normalization, the
  matching cascade, ledger aggregation and cached fetching.

KEY CONCEPTS IN THIS FILE (types.go):
  - Record: A raw JSON object as returned by the backend
  - CandidateKey: A normalized match key tagged with its provenance
  - Person: The source-of-truth side of a reconciliation
  - AttachedRecord: A transaction or document that must be linked to a Person
  - LinkResult: The immutable outcome of matching

DESIGN PRINCIPLES:
  1. Derived, never stored: links and balances are recomputed on every pass
  2. Precision: amounts use decimal.Decimal, never float64
  3. Observability: a record nobody claims ends up in an Unresolved bucket
  4. Determinism: same inputs, same links, in collection order

USAGE:
  person := generic.NewPerson(raw, staffFields)
  rec := generic.NewAttachedRecord(rawAdvance, advanceFields)
  link := matcher.Match(person, []generic.AttachedRecord{rec})

SEE ALSO:
  - normalize.go: Field Normalizer
  - matcher.go: Record Matcher
  - ledger.go: Ledger Aggregator
  - coordinator.go: Cache & Parallel-Fetch Coordinator
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// RAW RECORDS
// =============================================================================

// Record is a decoded JSON object. Values are whatever encoding/json produced:
// string, float64, json.Number, bool, nil, []any or map[string]any.
type Record map[string]any

// =============================================================================
// CANDIDATE KEYS
// =============================================================================

// Provenance tells which kind of reference a candidate key came from.
type Provenance string

const (
	ProvPrimaryID     Provenance = "primary_id"
	ProvSecondaryCode Provenance = "secondary_code"
	ProvName          Provenance = "normalized_name"
)

// CandidateKey is one normalized reference a record carries.
// Raw keeps the value as found; Value is the canonical form used for comparison.
type CandidateKey struct {
	Provenance Provenance
	Value      string
	Raw        string
	Path       string
}

// =============================================================================
// PERSON / ATTACHED RECORD
// =============================================================================

// Person is the source-of-truth side: a staff member or a student.
type Person struct {
	PrimaryID     string // canonical form
	SecondaryCode string // canonical form
	DisplayName   string // as given, for display
	Fields        Record

	// Embedded is an attachment denormalized onto the person at write time
	// (e.g. an id_card object stored on the student). Nil when absent.
	Embedded *AttachedRecord
}

// NameKey returns the normalized display name.
func (p Person) NameKey() string {
	return NormalizeName(p.DisplayName)
}

// AttachedRecord is a transaction or document owned by some Person.
type AttachedRecord struct {
	ID       string
	Keys     []CandidateKey
	Category string
	Amount   decimal.Decimal
	Status   string
	Fields   Record
}

// KeysOf returns the record's keys of one provenance, in order.
func (r AttachedRecord) KeysOf(p Provenance) []CandidateKey {
	var out []CandidateKey
	for _, k := range r.Keys {
		if k.Provenance == p {
			out = append(out, k)
		}
	}
	return out
}

// HasKey reports whether the record carries value under provenance p.
func (r AttachedRecord) HasKey(p Provenance, value string) bool {
	if value == "" {
		return false
	}
	for _, k := range r.Keys {
		if k.Provenance == p && k.Value == value {
			return true
		}
	}
	return false
}

// =============================================================================
// LINK RESULT
// =============================================================================

// StrategyName identifies which matching strategy produced a link.
type StrategyName string

const (
	StrategyPrimaryID     StrategyName = "primary_id"
	StrategySecondaryCode StrategyName = "secondary_code"
	StrategyFullName      StrategyName = "full_name"
	StrategyHeuristic     StrategyName = "heuristic"
	StrategyEmbedded      StrategyName = "embedded"
	StrategyNone          StrategyName = ""
)

// LinkResult pairs a person with a record, or marks the record unresolved.
// Produced fresh on every pass; never persisted as a join.
type LinkResult struct {
	Person   *Person
	Record   *AttachedRecord
	Strategy StrategyName
}

// Resolved reports whether the link has both sides.
func (l LinkResult) Resolved() bool {
	return l.Person != nil && l.Record != nil && l.Strategy != StrategyNone
}

// LowConfidence is true for heuristic links, which callers must show differently.
func (l LinkResult) LowConfidence() bool {
	return l.Strategy == StrategyHeuristic
}

// Unresolved builds a LinkResult for a record (possibly nil) nobody claimed.
func Unresolved(rec *AttachedRecord) LinkResult {
	return LinkResult{Record: rec, Strategy: StrategyNone}
}
