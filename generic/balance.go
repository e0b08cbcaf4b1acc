/*
balance.go - Optimistic balance with versioned local deltas

PURPOSE:
  When a user submits a new advance or deduction, the screen must show the
  new balance right away, before the backend write and the refetch finish.
  The balance must then converge to exactly what the next full aggregation
  produces. No permanent drift.

MODEL:
  Apply the delta immediately, then reconcile to source of truth on next
  fetch. Last full fetch wins.

  - Every Apply() and BeginFetch() takes the next value of one monotonic
    counter.
  - Settle(token, records) replaces the base aggregate with the fetched
    records and drops every delta applied before the fetch began (version <
    token): the fetch already contains them.
  - Deltas applied after the fetch began stay on top of the new base.
  - Submit() stages a delta whose backend write is still in flight. No
    Settle drops it, because no fetch can contain it yet. Acknowledge()
    re-versions it once the write succeeded, so only fetches that began
    after the acknowledgement settle it.
  - A Settle with a token older than the last settled one is ignored, so a
    slow fetch can't overwrite a newer result.

EXAMPLE:
  base balance 600
  Apply(debit 100)          -> v=1, shows 500
  BeginFetch()              -> token=2
  Apply(credit 50)          -> v=3, shows 550
  Settle(2, [... incl. debit 100]) -> base 500, pending [v3], shows 550

SEE ALSO:
  - ledger.go: Aggregate, the formula both paths share
*/
package generic

import (
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// OPTIMISTIC LEDGER
// =============================================================================

// OptimisticLedger holds one person's authoritative aggregate plus local
// deltas not yet confirmed by a fetch. Safe for concurrent use.
type OptimisticLedger struct {
	mu      sync.Mutex
	rules   LedgerRules
	base    LedgerBalance
	seq     uint64
	settled uint64
	pending []PendingDelta
}

// PendingDelta is a locally applied record awaiting confirmation.
type PendingDelta struct {
	Version uint64
	Record  AttachedRecord
	// InFlight: the backend has not acknowledged the write yet.
	InFlight bool
}

// NewOptimisticLedger starts from the aggregate of records.
func NewOptimisticLedger(rules LedgerRules, records []AttachedRecord) *OptimisticLedger {
	return &OptimisticLedger{rules: rules, base: rules.Aggregate(records)}
}

// BeginFetch returns the token a full refetch must settle with.
func (o *OptimisticLedger) BeginFetch() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	return o.seq
}

// Apply adds rec as a local delta and returns its version and the new balance.
func (o *OptimisticLedger) Apply(rec AttachedRecord) (uint64, LedgerBalance) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	o.pending = append(o.pending, PendingDelta{Version: o.seq, Record: rec})
	return o.seq, o.balanceLocked()
}

// Submit stages rec while its backend write is in flight. It shows in the
// balance immediately but survives every Settle until Acknowledge.
func (o *OptimisticLedger) Submit(rec AttachedRecord) (uint64, LedgerBalance) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	o.pending = append(o.pending, PendingDelta{Version: o.seq, Record: rec, InFlight: true})
	return o.seq, o.balanceLocked()
}

// Acknowledge marks a submitted delta as written and gives it a new version.
// Fetches that began before this call cannot settle it.
func (o *OptimisticLedger) Acknowledge(version uint64) (uint64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.pending {
		d := &o.pending[i]
		if d.Version == version && d.InFlight {
			o.seq++
			d.Version = o.seq
			d.InFlight = false
			return d.Version, true
		}
	}
	return 0, false
}

// Revert drops a delta whose write failed.
func (o *OptimisticLedger) Revert(version uint64) LedgerBalance {
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.pending[:0]
	for _, d := range o.pending {
		if d.Version != version {
			kept = append(kept, d)
		}
	}
	o.pending = kept
	return o.balanceLocked()
}

// Settle installs a fetched record set. It returns false when the token is
// older than the last settled fetch and the result was discarded.
func (o *OptimisticLedger) Settle(token uint64, records []AttachedRecord) (LedgerBalance, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if token < o.settled {
		return o.balanceLocked(), false
	}
	o.settled = token
	o.base = o.rules.Aggregate(records)

	kept := o.pending[:0]
	for _, d := range o.pending {
		if d.InFlight || d.Version > token {
			kept = append(kept, d)
		}
	}
	o.pending = kept
	return o.balanceLocked(), true
}

// Balance returns the base aggregate with pending deltas applied.
func (o *OptimisticLedger) Balance() LedgerBalance {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.balanceLocked()
}

// Pending returns a copy of the unconfirmed deltas.
func (o *OptimisticLedger) Pending() []PendingDelta {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]PendingDelta(nil), o.pending...)
}

func (o *OptimisticLedger) balanceLocked() LedgerBalance {
	b := o.base
	if len(o.pending) == 0 {
		return b
	}
	recs := make([]AttachedRecord, 0, len(o.pending))
	for _, d := range o.pending {
		recs = append(recs, d.Record)
	}
	delta := o.rules.Aggregate(recs)

	b.Credit = b.Credit.Add(delta.Credit)
	b.Debit = b.Debit.Add(delta.Debit)
	b.Counted += delta.Counted
	b.Excluded += delta.Excluded
	b.Uncategorized += delta.Uncategorized
	b.Balance = clamp(b.Credit, b.Debit)
	return b
}

// Outstanding sums balances; used for dashboard totals.
func Outstanding(balances ...LedgerBalance) decimal.Decimal {
	total := decimal.Zero
	for _, b := range balances {
		total = total.Add(b.Balance)
	}
	return total
}
