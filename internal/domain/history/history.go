// Package history derives advisory signals from previously classified
// records: how often a label has been seen, whether its category is
// consistent, and what its amounts usually look like.
package history

import (
	"math"

	"github.com/reckonlabs/reckon/internal/domain/merchant"
)

// PastRecord is a previously classified record, as supplied by the caller.
type PastRecord struct {
	Label        string  `json:"label"`
	Category     string  `json:"category"`
	Amount       float64 `json:"amount"`
	ClassifiedBy string  `json:"classified_by"` // "human" or "engine"
	Confidence   int     `json:"confidence"`    // 0-100 at classification time
}

// Signal summarizes prior decisions for one normalized label.
type Signal struct {
	Count        int    `json:"count"`
	IsConsistent bool   `json:"is_consistent"`
	TopCategory  string `json:"top_category,omitempty"`
}

// AmountProfile summarizes historical amounts for one normalized label.
type AmountProfile struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"` // mean of absolute amounts
}

// Engine decisions only count as precedent when they were high confidence.
const highConfidenceFloor = 70

// consistencyRatio is the share of prior records that must agree on one
// category for the label to count as consistent.
const consistencyRatio = 0.90

// HistoricalSignal counts prior records whose normalized label equals the
// given label and that were categorized by a human or a high-confidence
// decision. The history slice is read-only input.
func HistoricalSignal(label string, past []PastRecord) Signal {
	normalized := merchant.Normalize(label)
	if normalized == "" {
		return Signal{}
	}

	counts := make(map[string]int)
	total := 0
	for i := range past {
		if !qualifies(&past[i]) {
			continue
		}
		if merchant.Normalize(past[i].Label) != normalized {
			continue
		}
		counts[past[i].Category]++
		total++
	}

	if total == 0 {
		return Signal{}
	}

	topCategory := ""
	topCount := 0
	for category, n := range counts {
		if n > topCount || (n == topCount && category < topCategory) {
			topCategory = category
			topCount = n
		}
	}

	return Signal{
		Count:        total,
		IsConsistent: float64(topCount) >= consistencyRatio*float64(total),
		TopCategory:  topCategory,
	}
}

// Amounts computes the historical amount profile for the label over the
// same qualifying set as HistoricalSignal.
func Amounts(label string, past []PastRecord) AmountProfile {
	normalized := merchant.Normalize(label)
	if normalized == "" {
		return AmountProfile{}
	}

	sum := 0.0
	n := 0
	for i := range past {
		if !qualifies(&past[i]) {
			continue
		}
		if merchant.Normalize(past[i].Label) != normalized {
			continue
		}
		sum += math.Abs(past[i].Amount)
		n++
	}

	if n == 0 {
		return AmountProfile{}
	}
	return AmountProfile{Count: n, Mean: sum / float64(n)}
}

// qualifies reports whether a past record counts as precedent.
func qualifies(r *PastRecord) bool {
	if r.Category == "" {
		return false
	}
	if r.ClassifiedBy == "human" {
		return true
	}
	return r.ClassifiedBy == "engine" && r.Confidence >= highConfidenceFloor
}
