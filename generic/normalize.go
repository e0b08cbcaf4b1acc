/*
normalize.go - Field Normalizer

PURPOSE:
  Converts a record's heterogeneous reference fields into a small ordered
  set of candidate keys. The backend is inconsistent about where it puts
  owner references: "staff_id", "staffId", a populated "staff" object, an
  "employee_id" holding the employee code, a free-text "staff_name"...
  Each use case lists its paths once in a FieldMap and the normalizer
  does the rest.

NORMALIZATION RULES:
  Identifiers: trimmed, numeric values rendered canonically, other values
  lower-cased. "42", 42, 42.0 and " 42 " all become "42".
  Names: trimmed, inner whitespace collapsed, lower-cased.

  Absent, null and empty values produce no key. Nothing here panics on
  malformed input.

PATHS:
  Paths are dot separated ("staff._id"). When a path lands on an embedded
  object instead of a scalar, the object's "_id"/"id" (identifier paths) or
  "name"/"full_name"/"fullName" (name paths) is used.

SEE ALSO:
  - matcher.go: Consumes candidate keys
  - ledger.go: ParseAmount for the amount field
*/
package generic

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	whitespaceRegex = regexp.MustCompile(`\s+`)
	numericRegex    = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)
)

var (
	embeddedIDKeys   = []string{"_id", "id"}
	embeddedNameKeys = []string{"name", "full_name", "fullName"}
)

// =============================================================================
// FIELD MAPS - Where each use case keeps its references
// =============================================================================

// FieldMap lists, per provenance, the paths to read in priority order.
type FieldMap struct {
	PrimaryID     []string
	SecondaryCode []string
	Name          []string
}

// RecordFields describes how to read an AttachedRecord.
type RecordFields struct {
	FieldMap
	ID       []string
	Category []string
	Amount   []string
	Status   []string
}

// PersonFields describes how to read a Person.
type PersonFields struct {
	FieldMap

	// Embedded lists paths of denormalized attachment objects on the person.
	Embedded       []string
	EmbeddedFields RecordFields
}

// =============================================================================
// NORMALIZE
// =============================================================================

// Normalize returns the candidate keys of rec: primary ids first, then
// secondary codes, then names. Duplicate keys are dropped.
func Normalize(rec Record, fm FieldMap) []CandidateKey {
	var keys []CandidateKey
	seen := make(map[CandidateKey]bool)

	add := func(p Provenance, paths []string, canon func(any) (string, string)) {
		for _, path := range paths {
			v, ok := Lookup(rec, path)
			if !ok {
				continue
			}
			if obj, isObj := asObject(v); isObj {
				nested := embeddedIDKeys
				if p == ProvName {
					nested = embeddedNameKeys
				}
				v = nil
				for _, k := range nested {
					if inner, ok := obj[k]; ok && inner != nil {
						v = inner
						break
					}
				}
			}
			value, raw := canon(v)
			if value == "" {
				continue
			}
			k := CandidateKey{Provenance: p, Value: value, Raw: raw, Path: path}
			dedup := CandidateKey{Provenance: p, Value: value}
			if seen[dedup] {
				continue
			}
			seen[dedup] = true
			keys = append(keys, k)
		}
	}

	add(ProvPrimaryID, fm.PrimaryID, canonicalIDPair)
	add(ProvSecondaryCode, fm.SecondaryCode, canonicalIDPair)
	add(ProvName, fm.Name, func(v any) (string, string) {
		raw, ok := scalarString(v)
		if !ok {
			return "", ""
		}
		return NormalizeName(raw), strings.TrimSpace(raw)
	})
	return keys
}

func canonicalIDPair(v any) (string, string) {
	raw, _ := scalarString(v)
	return CanonicalID(v), strings.TrimSpace(raw)
}

// CanonicalID renders an identifier-like value in its comparison form.
func CanonicalID(v any) string {
	s, ok := scalarString(v)
	if !ok {
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if numericRegex.MatchString(s) {
		if d, err := decimal.NewFromString(s); err == nil {
			return d.String()
		}
	}
	return strings.ToLower(s)
}

// NormalizeName trims, collapses whitespace and lower-cases a name.
func NormalizeName(s string) string {
	s = whitespaceRegex.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// =============================================================================
// BUILDERS
// =============================================================================

// NewPerson reads a Person out of a raw record.
func NewPerson(rec Record, pf PersonFields) Person {
	p := Person{Fields: rec}
	for _, k := range Normalize(rec, pf.FieldMap) {
		switch k.Provenance {
		case ProvPrimaryID:
			if p.PrimaryID == "" {
				p.PrimaryID = k.Value
			}
		case ProvSecondaryCode:
			if p.SecondaryCode == "" {
				p.SecondaryCode = k.Value
			}
		case ProvName:
			if p.DisplayName == "" {
				p.DisplayName = k.Raw
			}
		}
	}

	for _, path := range pf.Embedded {
		v, ok := Lookup(rec, path)
		if !ok {
			continue
		}
		obj, isObj := asObject(v)
		if !isObj || len(obj) == 0 {
			continue
		}
		emb := NewAttachedRecord(obj, pf.EmbeddedFields)
		if emb.ID == "" {
			emb.ID = "embedded:" + p.PrimaryID
		}
		p.Embedded = &emb
		break
	}
	return p
}

// NewAttachedRecord reads an AttachedRecord out of a raw record.
func NewAttachedRecord(rec Record, rf RecordFields) AttachedRecord {
	r := AttachedRecord{
		Keys:   Normalize(rec, rf.FieldMap),
		Fields: rec,
		Amount: decimal.Zero,
	}
	if v, ok := first(rec, rf.ID); ok {
		if s, ok := scalarString(v); ok {
			r.ID = strings.TrimSpace(s)
		}
	}
	if v, ok := first(rec, rf.Category); ok {
		if s, ok := scalarString(v); ok {
			r.Category = strings.ToLower(strings.TrimSpace(s))
		}
	}
	if v, ok := first(rec, rf.Status); ok {
		if s, ok := scalarString(v); ok {
			r.Status = strings.ToLower(strings.TrimSpace(s))
		}
	}
	if v, ok := first(rec, rf.Amount); ok {
		r.Amount = ParseAmount(v)
	}
	return r
}

// =============================================================================
// HELPERS
// =============================================================================

// Lookup follows a dotted path through nested objects. A nil value counts
// as absent.
func Lookup(rec Record, path string) (any, bool) {
	if rec == nil || path == "" {
		return nil, false
	}
	var cur any = map[string]any(rec)
	for _, part := range strings.Split(path, ".") {
		obj, ok := asObject(cur)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// LookupString returns the first non-empty scalar at any of paths.
func LookupString(rec Record, paths ...string) string {
	for _, p := range paths {
		v, ok := Lookup(rec, p)
		if !ok {
			continue
		}
		if s, ok := scalarString(v); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func first(rec Record, paths []string) (any, bool) {
	for _, p := range paths {
		if v, ok := Lookup(rec, p); ok {
			return v, true
		}
	}
	return nil, false
}

func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Record:
		return t, true
	default:
		return nil, false
	}
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return decimal.NewFromFloat(t).String(), true
	case float32:
		return decimal.NewFromFloat32(t).String(), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	default:
		return "", false
	}
}
