// Package risk ranks entry candidates and commits capital under slot and balance limits.
package risk

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Calim38/sniper/internal/signal"
)

// StopReason explains why allocation ended.
type StopReason string

const (
	StopExhaustedCandidates StopReason = "exhausted_candidates"
	StopSlotsFull           StopReason = "slots_full"
	StopInsufficientCapital StopReason = "insufficient_capital"
)

// Limits caps the number of open positions and the size of each entry.
type Limits struct {
	MaxPositions   int
	TradeAmount    decimal.Decimal
	MinTradeAmount decimal.Decimal
}

// Allow reports whether amount is large enough to be worth committing.
func (l Limits) Allow(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.GreaterThanOrEqual(l.MinTradeAmount)
}

// Entry is a candidate that received capital.
type Entry struct {
	Candidate signal.Candidate
	Amount    decimal.Decimal
	Quantity  decimal.Decimal
}

// Allocation is the outcome of one allocation pass.
type Allocation struct {
	Entries   []Entry
	Remaining decimal.Decimal
	Stop      StopReason
}

// Rank orders candidates by score descending with ties broken by symbol ascending.
// The input slice is not modified.
func Rank(candidates []signal.Candidate) []signal.Candidate {
	out := make([]signal.Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Allocate walks the ranked candidates and commits min(TradeAmount, capital) to each
// until slots or capital run out. A candidate whose amount would fall below
// MinTradeAmount ends the pass; smaller candidates are never tried instead.
func Allocate(candidates []signal.Candidate, openCount int, limits Limits, capital decimal.Decimal) Allocation {
	alloc := Allocation{Remaining: capital, Stop: StopExhaustedCandidates}
	for _, c := range Rank(candidates) {
		if openCount >= limits.MaxPositions {
			alloc.Stop = StopSlotsFull
			break
		}
		amount := decimal.Min(limits.TradeAmount, alloc.Remaining)
		if !limits.Allow(amount) {
			alloc.Stop = StopInsufficientCapital
			break
		}
		if !c.Price.IsPositive() {
			continue
		}
		alloc.Entries = append(alloc.Entries, Entry{
			Candidate: c,
			Amount:    amount,
			Quantity:  amount.Div(c.Price),
		})
		alloc.Remaining = alloc.Remaining.Sub(amount)
		openCount++
	}
	return alloc
}
