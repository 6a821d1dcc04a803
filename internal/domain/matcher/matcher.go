// Package matcher matches scanned receipts to candidate transactions
// using multi-criteria fuzzy scoring.
//
// A candidate must fall inside the date window and pass the amount gate
// (absolute tolerance first, relative tolerance as fallback) to be scored
// at all:
//   - Date: exact day +40; inside the window, linear decay from +35 at
//     one day to +20 at the window edge
//   - Amount: exact to the cent +40; within tolerance +30
//   - Merchant: similarity above 80% +20; above 50% +10
//
// Example usage:
//
//	m := matcher.NewMatcher(matcher.DefaultConfig())
//	results := m.Match(receipt, candidates)
//	if len(results) > 0 && results[0].Score >= matcher.DefaultAutoLinkThreshold {
//		// Link it
//	}
package matcher

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/reckonlabs/reckon/internal/domain/merchant"
	"github.com/reckonlabs/reckon/internal/domain/money"
)

// Matcher matches receipts against candidate transactions
type Matcher struct {
	config Config
}

// NewMatcher creates a new matcher with the given config
func NewMatcher(config Config) *Matcher {
	if config.DateWindowDays <= 0 {
		config.DateWindowDays = DefaultConfig().DateWindowDays
	}
	if config.AmountTolerance <= 0 {
		config.AmountTolerance = DefaultConfig().AmountTolerance
	}
	return &Matcher{config: config}
}

// Match scores every admissible candidate and returns matches ordered
// best-first. Candidates scoring below 50 are excluded entirely. Ties
// break by smaller date delta, then smaller amount delta, then ID.
// No inputs are mutated.
func (m *Matcher) Match(receipt Receipt, candidates []Transaction) []MatchResult {
	results := make([]MatchResult, 0, len(candidates))

	for i := range candidates {
		if r, ok := m.score(receipt, &candidates[i]); ok {
			results = append(results, r)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].DateDiff != results[j].DateDiff {
			return results[i].DateDiff < results[j].DateDiff
		}
		if results[i].AmountDiff != results[j].AmountDiff {
			return results[i].AmountDiff < results[j].AmountDiff
		}
		return results[i].Transaction.ID < results[j].Transaction.ID
	})

	return results
}

// score evaluates one candidate against the receipt.
func (m *Matcher) score(receipt Receipt, tx *Transaction) (MatchResult, bool) {
	dateDiff := daysApart(receipt.Date, tx.Date)
	if dateDiff > m.config.DateWindowDays {
		return MatchResult{}, false
	}

	withinAbs := money.WithinAbs(receipt.Amount, tx.Amount, m.config.AmountTolerance)
	withinRel := money.WithinRel(receipt.Amount, tx.Amount, m.config.RelativeTolerance)
	if !withinAbs && !withinRel {
		return MatchResult{}, false
	}

	var points int
	var reasons []string

	// Date criterion
	switch {
	case dateDiff == 0:
		points += 40
		reasons = append(reasons, "exact date")
	default:
		points += dateDecay(dateDiff, m.config.DateWindowDays)
		reasons = append(reasons, "date within window")
	}

	// Amount criterion
	if money.Equal(receipt.Amount, tx.Amount) {
		points += 40
		reasons = append(reasons, "exact amount")
	} else {
		points += 30
		reasons = append(reasons, "amount within tolerance")
	}

	// Merchant criterion
	similarity := merchant.Similarity(receipt.Merchant, tx.Label)
	switch {
	case similarity > 80:
		points += 20
		reasons = append(reasons, "merchant match")
	case similarity > 50:
		points += 10
		reasons = append(reasons, "partial merchant match")
	}

	if points > 100 {
		points = 100
	}
	if points < minResultScore {
		return MatchResult{}, false
	}

	return MatchResult{
		Transaction: tx,
		Score:       points,
		Rationale:   strings.Join(reasons, " + "),
		DateDiff:    dateDiff,
		AmountDiff:  money.AbsDiff(receipt.Amount, tx.Amount),
	}, true
}

// dateDecay interpolates from 35 points at one day to 20 at the window
// edge.
func dateDecay(diff, window int) int {
	if window <= 1 {
		return 20
	}
	decayed := 35 - float64(diff-1)*15/float64(window-1)
	return int(math.Round(decayed))
}

// daysApart returns the whole calendar days between two timestamps.
func daysApart(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	diff := da.Sub(db)
	if diff < 0 {
		diff = -diff
	}
	return int(diff.Hours() / 24)
}
