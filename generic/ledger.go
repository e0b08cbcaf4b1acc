/*
ledger.go - Ledger Aggregator

PURPOSE:
  Computes a person's derived balance from the transactions linked to them.
  The balance is never stored: it is recomputed from the linked records on
  every pass, so there is no balance field that can drift from its sources.

SIGNED-CATEGORY MODEL:
  Each transaction has a category that is either a credit (an advance given)
  or a debit (a deduction recovered). Only statuses in the counted set
  (active, completed) contribute. Pending, rejected and cancelled entries
  never do.

    Balance = max(0, sum(credit) - sum(debit))

PRECISION:
  All sums use decimal.Decimal. Amounts are parsed defensively: "1,500",
  "Rs. 200", 200, json.Number("200") all work; anything unparseable counts
  as zero instead of failing the whole aggregation.

EXAMPLE:
  credit 500 (active), credit 300 (completed),
  debit 200 (active), debit 50 (pending)

  Balance = max(0, 800 - 200) = 600

SEE ALSO:
  - balance.go: Optimistic adjustments on top of an aggregate
  - staff/book.go: The advance-ledger rules
*/
package generic

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER RULES
// =============================================================================

// Direction is the sign a category contributes with.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionCredit
	DirectionDebit
)

func (d Direction) String() string {
	switch d {
	case DirectionCredit:
		return "credit"
	case DirectionDebit:
		return "debit"
	default:
		return "none"
	}
}

// LedgerRules says which categories are credits or debits and which statuses
// count toward the balance. Comparisons are case-insensitive.
type LedgerRules struct {
	Credit  []string
	Debit   []string
	Counted []string
}

// Direction classifies a category.
func (lr LedgerRules) Direction(category string) Direction {
	c := strings.ToLower(strings.TrimSpace(category))
	if containsFold(lr.Credit, c) {
		return DirectionCredit
	}
	if containsFold(lr.Debit, c) {
		return DirectionDebit
	}
	return DirectionNone
}

// Counts reports whether a status counts toward the balance.
func (lr LedgerRules) Counts(status string) bool {
	return containsFold(lr.Counted, strings.ToLower(strings.TrimSpace(status)))
}

func containsFold(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// =============================================================================
// LEDGER BALANCE
// =============================================================================

// LedgerBalance is the derived result of an aggregation.
type LedgerBalance struct {
	Credit        decimal.Decimal
	Debit         decimal.Decimal
	Balance       decimal.Decimal
	Counted       int // records that contributed
	Excluded      int // records skipped for their status
	Uncategorized int // counted status but neither credit nor debit
}

// ZeroBalance is the documented default when nothing could be fetched.
func ZeroBalance() LedgerBalance {
	return LedgerBalance{Credit: decimal.Zero, Debit: decimal.Zero, Balance: decimal.Zero}
}

// Net returns credit minus debit without the clamp.
func (b LedgerBalance) Net() decimal.Decimal {
	return b.Credit.Sub(b.Debit)
}

func clamp(credit, debit decimal.Decimal) decimal.Decimal {
	net := credit.Sub(debit)
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}

// =============================================================================
// AGGREGATE
// =============================================================================

// Aggregate sums the counted credit and debit records of one person.
func (lr LedgerRules) Aggregate(records []AttachedRecord) LedgerBalance {
	b := ZeroBalance()
	for _, r := range records {
		if !lr.Counts(r.Status) {
			b.Excluded++
			continue
		}
		switch lr.Direction(r.Category) {
		case DirectionCredit:
			b.Credit = b.Credit.Add(r.Amount.Abs())
			b.Counted++
		case DirectionDebit:
			b.Debit = b.Debit.Add(r.Amount.Abs())
			b.Counted++
		default:
			b.Uncategorized++
		}
	}
	b.Balance = clamp(b.Credit, b.Debit)
	return b
}

// =============================================================================
// AMOUNT PARSING
// =============================================================================

var amountNoise = regexp.MustCompile(`[^0-9.\-+]`)

// ParseAmount reads an amount leniently. Unparseable input yields zero.
func ParseAmount(v any) decimal.Decimal {
	switch t := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return t
	case float64:
		return decimal.NewFromFloat(t)
	case float32:
		return decimal.NewFromFloat32(t)
	case int:
		return decimal.NewFromInt(int64(t))
	case int64:
		return decimal.NewFromInt(t)
	case json.Number:
		return parseAmountString(t.String())
	case string:
		return parseAmountString(t)
	default:
		return decimal.Zero
	}
}

func parseAmountString(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return d
	}
	// "Rs. 1,500.00" -> "1500.00". A leading currency abbreviation ending in
	// a dot would otherwise leave a stray ".".
	cleaned := amountNoise.ReplaceAllString(s, "")
	cleaned = strings.TrimLeft(cleaned, ".")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return d
}
