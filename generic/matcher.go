/*
matcher.go - Record Matcher (strategy cascade)

PURPOSE:
  Links a person to at most one attached record when no single reliable
  foreign key exists. The same cascade used to be written three times
  (staff advances, ID cards, photos); here it is one Matcher that takes a
  strategy list per use case.

CASCADE (DefaultStrategies):
  1. primary_id      record references person.PrimaryID
  2. secondary_code  record references person.SecondaryCode
  3. full_name       record name equals person name after normalization
  4. heuristic       shared name token, code substring or near-equal code

  Each strategy is tried only when every earlier one found nothing.
  Heuristic links are flagged LowConfidence so the UI can mark them.

EMBEDDED FALLBACK:
  A person may carry an attachment denormalized at write time. It is a
  zero-cost match independent of the cascade's keys, used when no
  external record matched.

TIE-BREAK:
  Several candidates satisfying one strategy is real ambiguity. The first
  in collection order wins so results stay deterministic, and a warning is
  logged with the competing record ids.

SEE ALSO:
  - reconcile.go: Record-centric pass over whole collections
  - normalize.go: Produces the keys compared here
*/
package generic

import (
	"log/slog"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// =============================================================================
// STRATEGY
// =============================================================================

// Strategy is one step of the matching cascade.
type Strategy interface {
	Name() StrategyName
	Matches(p Person, r AttachedRecord) bool
}

// PrimaryIDStrategy matches when the record references the person's primary id,
// under either identifier provenance.
type PrimaryIDStrategy struct{}

func (PrimaryIDStrategy) Name() StrategyName { return StrategyPrimaryID }

func (PrimaryIDStrategy) Matches(p Person, r AttachedRecord) bool {
	if p.PrimaryID == "" {
		return false
	}
	return r.HasKey(ProvPrimaryID, p.PrimaryID) || r.HasKey(ProvSecondaryCode, p.PrimaryID)
}

// SecondaryCodeStrategy matches when the record references the person's code.
type SecondaryCodeStrategy struct{}

func (SecondaryCodeStrategy) Name() StrategyName { return StrategySecondaryCode }

func (SecondaryCodeStrategy) Matches(p Person, r AttachedRecord) bool {
	if p.SecondaryCode == "" {
		return false
	}
	return r.HasKey(ProvSecondaryCode, p.SecondaryCode) || r.HasKey(ProvPrimaryID, p.SecondaryCode)
}

// NameStrategy matches on the normalized full name.
type NameStrategy struct{}

func (NameStrategy) Name() StrategyName { return StrategyFullName }

func (NameStrategy) Matches(p Person, r AttachedRecord) bool {
	return r.HasKey(ProvName, p.NameKey())
}

// HeuristicStrategy is the low-confidence fallback.
type HeuristicStrategy struct {
	// MinTokenLen ignores name tokens shorter than this ("a", "of").
	MinTokenLen int
	// MinCodeLen ignores codes shorter than this for substring and distance checks.
	MinCodeLen int
	// MaxDistance is the edit distance under which codes (and long name
	// tokens) are considered the same.
	MaxDistance int
}

// DefaultHeuristic returns the thresholds used by every built-in use case.
func DefaultHeuristic() HeuristicStrategy {
	return HeuristicStrategy{MinTokenLen: 3, MinCodeLen: 3, MaxDistance: 1}
}

func (HeuristicStrategy) Name() StrategyName { return StrategyHeuristic }

func (h HeuristicStrategy) Matches(p Person, r AttachedRecord) bool {
	personTokens := h.tokens(p.NameKey())
	if len(personTokens) > 0 {
		for _, k := range r.KeysOf(ProvName) {
			for _, rt := range h.tokens(k.Value) {
				for _, pt := range personTokens {
					if h.tokenEqual(pt, rt) {
						return true
					}
				}
			}
		}
	}

	personCodes := nonEmpty(p.SecondaryCode, p.PrimaryID)
	for _, k := range r.Keys {
		if k.Provenance == ProvName {
			continue
		}
		for _, pc := range personCodes {
			if h.codeNear(pc, k.Value) {
				return true
			}
		}
	}
	return false
}

func (h HeuristicStrategy) tokens(name string) []string {
	var out []string
	for _, t := range strings.Fields(name) {
		if len([]rune(t)) >= h.MinTokenLen {
			out = append(out, t)
		}
	}
	return out
}

func (h HeuristicStrategy) tokenEqual(a, b string) bool {
	if a == b {
		return true
	}
	// Short tokens only match exactly; "ram" and "rao" are different people.
	if len([]rune(a)) < 5 || len([]rune(b)) < 5 {
		return false
	}
	return distance(a, b) <= h.MaxDistance
}

func (h HeuristicStrategy) codeNear(a, b string) bool {
	if len(a) < h.MinCodeLen || len(b) < h.MinCodeLen {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	return distance(a, b) <= h.MaxDistance
}

var unitCostOptions = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

func distance(a, b string) int {
	return levenshtein.DistanceForStrings([]rune(a), []rune(b), unitCostOptions)
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// DefaultStrategies returns the full cascade in priority order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		PrimaryIDStrategy{},
		SecondaryCodeStrategy{},
		NameStrategy{},
		DefaultHeuristic(),
	}
}

// =============================================================================
// MATCHER
// =============================================================================

// Matcher runs a strategy cascade.
type Matcher struct {
	Strategies []Strategy
	Logger     *slog.Logger
}

// NewMatcher creates a matcher; with no strategies it uses DefaultStrategies.
func NewMatcher(logger *slog.Logger, strategies ...Strategy) *Matcher {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{Strategies: strategies, Logger: logger}
}

// Match returns the single record linked to person. Unresolved (with Person
// set and Record nil) when nothing matched and there is no embedded attachment.
func (m *Matcher) Match(person Person, candidates []AttachedRecord) LinkResult {
	for _, s := range m.Strategies {
		var hits []int
		for i := range candidates {
			if s.Matches(person, candidates[i]) {
				hits = append(hits, i)
			}
		}
		if len(hits) == 0 {
			continue
		}
		if len(hits) > 1 {
			ids := make([]string, 0, len(hits))
			for _, i := range hits {
				ids = append(ids, candidates[i].ID)
			}
			m.Logger.Warn("ambiguous match, taking first in collection order",
				"person", person.PrimaryID,
				"strategy", s.Name(),
				"records", ids)
		}
		rec := candidates[hits[0]]
		p := person
		if s.Name() == StrategyHeuristic {
			m.Logger.Info("low-confidence match",
				"person", person.PrimaryID,
				"record", rec.ID)
		}
		return LinkResult{Person: &p, Record: &rec, Strategy: s.Name()}
	}

	p := person
	if person.Embedded != nil {
		emb := *person.Embedded
		return LinkResult{Person: &p, Record: &emb, Strategy: StrategyEmbedded}
	}
	return LinkResult{Person: &p}
}
