package generic

import (
	"fmt"
	"io"
	"log/slog"
)

// =============================================================================
// RECONCILIATION - Record-centric pass over two collections
// =============================================================================

// Reconciliation is the result of linking every record in a collection to
// at most one person. Every record ends up either in Links or in Unresolved.
type Reconciliation struct {
	People     []Person
	Records    []AttachedRecord
	Links      []LinkResult
	Unresolved []AttachedRecord
	Summary    ReconciliationSummary

	byPerson map[int][]int // person index -> indexes into Links
}

// ReconciliationSummary counts the outcome of a pass.
type ReconciliationSummary struct {
	Records    int                  `json:"records"`
	Linked     int                  `json:"linked"`
	Unresolved int                  `json:"unresolved"`
	Ambiguous  int                  `json:"ambiguous"`
	ByStrategy map[StrategyName]int `json:"by_strategy"`
}

// Reconcile links each record to the first person satisfying the earliest
// strategy. Strategies are tried in order across all people before moving to
// the next, so an exact id match anywhere beats a name match elsewhere.
func (m *Matcher) Reconcile(people []Person, records []AttachedRecord) *Reconciliation {
	r := &Reconciliation{
		People:   people,
		Records:  records,
		byPerson: make(map[int][]int),
		Summary: ReconciliationSummary{
			Records:    len(records),
			ByStrategy: make(map[StrategyName]int),
		},
	}

	for ri := range records {
		rec := records[ri]
		linked := false

		for _, s := range m.Strategies {
			var hits []int
			for pi := range people {
				if s.Matches(people[pi], rec) {
					hits = append(hits, pi)
				}
			}
			if len(hits) == 0 {
				continue
			}
			if len(hits) > 1 {
				r.Summary.Ambiguous++
				owners := make([]string, 0, len(hits))
				for _, pi := range hits {
					owners = append(owners, people[pi].PrimaryID)
				}
				m.Logger.Warn("record matches several people, taking first in collection order",
					"record", rec.ID,
					"strategy", s.Name(),
					"people", owners)
			}

			pi := hits[0]
			p := people[pi]
			recCopy := rec
			r.byPerson[pi] = append(r.byPerson[pi], len(r.Links))
			r.Links = append(r.Links, LinkResult{Person: &p, Record: &recCopy, Strategy: s.Name()})
			r.Summary.ByStrategy[s.Name()]++
			if s.Name() == StrategyHeuristic {
				m.Logger.Info("low-confidence link", "record", rec.ID, "person", p.PrimaryID)
			}
			linked = true
			break
		}

		if !linked {
			r.Unresolved = append(r.Unresolved, rec)
			m.Logger.Warn("unresolved record",
				"record", rec.ID,
				"keys", DescribeKeys(rec.Keys))
		}
	}

	r.Summary.Linked = len(r.Links)
	r.Summary.Unresolved = len(r.Unresolved)
	return r
}

// LinksFor returns the links of the person at index i of People, in record order.
func (r *Reconciliation) LinksFor(i int) []LinkResult {
	idx := r.byPerson[i]
	out := make([]LinkResult, 0, len(idx))
	for _, li := range idx {
		out = append(out, r.Links[li])
	}
	return out
}

// RecordsFor returns the linked records of the person at index i.
func (r *Reconciliation) RecordsFor(i int) []AttachedRecord {
	links := r.LinksFor(i)
	out := make([]AttachedRecord, 0, len(links))
	for _, l := range links {
		out = append(out, *l.Record)
	}
	return out
}

// Check verifies that every record is either linked exactly once or
// unresolved.
func (r *Reconciliation) Check() error {
	if got := len(r.Links) + len(r.Unresolved); got != len(r.Records) {
		return fmt.Errorf("reconciliation lost records: %d records, %d linked, %d unresolved",
			len(r.Records), len(r.Links), len(r.Unresolved))
	}
	ids := make(map[string]int)
	for _, l := range r.Links {
		if l.Record.ID != "" {
			ids[l.Record.ID]++
		}
	}
	for _, u := range r.Unresolved {
		if u.ID != "" {
			ids[u.ID]++
		}
	}
	want := make(map[string]int)
	for _, rec := range r.Records {
		if rec.ID != "" {
			want[rec.ID]++
		}
	}
	for id, n := range want {
		if ids[id] != n {
			return fmt.Errorf("record %s appears %d times, want %d", id, ids[id], n)
		}
	}
	return nil
}

// DescribeKeys renders keys as provenance=raw for logs and the run store.
func DescribeKeys(keys []CandidateKey) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, string(k.Provenance)+"="+k.Raw)
	}
	return out
}

// Discard is a logger that drops everything.
var Discard = slog.New(slog.NewTextHandler(io.Discard, nil))
