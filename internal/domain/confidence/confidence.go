// Package confidence combines independent classification signals into a
// single 0-100 score with a decision tier.
//
// Four capped factors are summed: merchant match (40), rule match (30),
// pattern learning (20) and amount consistency (10). A factor's internal
// sub-score may exceed its cap (e.g. similarity plus an entity's
// confidence boost) but its contribution never does.
package confidence

import (
	"fmt"
	"math"

	"github.com/reckonlabs/reckon/internal/domain/history"
	"github.com/reckonlabs/reckon/internal/domain/merchant"
	"github.com/reckonlabs/reckon/internal/domain/rules"
)

// Tier is a bucketed confidence level derived from the numeric score.
type Tier string

// Tier bounds: high >= 70, medium 40-69, low 10-39, none 0-9.
const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
	TierNone   Tier = "none"
)

// Factor caps.
const (
	capMerchant = 40
	capRule     = 30
	capPattern  = 20
	capAmount   = 10
)

// Factor is one contribution to the total, with a one-line explanation.
type Factor struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
	Cap    int    `json:"cap"`
	Detail string `json:"detail"`
}

// Score is the aggregated result.
type Score struct {
	Total     int      `json:"total"` // 0-100, always the exact sum of Breakdown points
	Tier      Tier     `json:"tier"`
	Breakdown []Factor `json:"breakdown"`
}

// Inputs carries the independent signals for one record. All fields are
// snapshots supplied by the caller; ScoreRecord reads them only.
type Inputs struct {
	Label        string
	Amount       float64
	CatalogMatch *merchant.Candidate // nil when no catalog match
	RuleMatch    *rules.Match        // nil when no rule matched
	Signal       history.Signal
	Amounts      history.AmountProfile
}

// ScoreRecord combines the signals into a total, tier and per-factor
// breakdown. It is pure and deterministic: identical inputs always
// produce identical output.
func ScoreRecord(in Inputs) Score {
	factors := []Factor{
		merchantFactor(in.CatalogMatch),
		ruleFactor(in.RuleMatch),
		patternFactor(in.Signal),
		amountFactor(in.Amount, in.Amounts),
	}

	total := 0
	for _, f := range factors {
		total += f.Points
	}
	if total > 100 {
		total = 100
	}

	return Score{Total: total, Tier: TierFor(total), Breakdown: factors}
}

// TierFor maps a 0-100 total to its tier.
func TierFor(total int) Tier {
	switch {
	case total >= 70:
		return TierHigh
	case total >= 40:
		return TierMedium
	case total >= 10:
		return TierLow
	default:
		return TierNone
	}
}

func merchantFactor(match *merchant.Candidate) Factor {
	f := Factor{Name: "merchant_match", Cap: capMerchant}
	if match == nil || match.Entity == nil {
		f.Detail = "no catalog merchant matched"
		return f
	}

	points := int(math.Round(float64(match.Score) * 0.4))
	points += match.Entity.ConfidenceBoost
	if points > capMerchant {
		points = capMerchant
	}
	f.Points = points
	f.Detail = fmt.Sprintf("matched %q with %d%% similarity", match.Entity.Name, match.Score)
	return f
}

func ruleFactor(match *rules.Match) Factor {
	f := Factor{Name: "rule_match", Cap: capRule}
	if match == nil || match.Rule == nil {
		f.Detail = "no rule matched"
		return f
	}

	priority := match.Rule.Priority
	switch {
	case priority <= 20:
		f.Points = 30
	case priority <= 50:
		f.Points = 25
	case priority <= 100:
		f.Points = 15
	}
	f.Detail = fmt.Sprintf("rule %q (priority %d) assigned %s/%s",
		match.Rule.Pattern, priority, match.Verdict.Kind, match.Verdict.Category)
	return f
}

func patternFactor(signal history.Signal) Factor {
	f := Factor{Name: "pattern_learning", Cap: capPattern}

	// Inconsistent history is no precedent at all.
	count := 0
	if signal.IsConsistent {
		count = signal.Count
	}

	switch {
	case count >= 15:
		f.Points = 20
	case count >= 10:
		f.Points = 15
	case count >= 5:
		f.Points = 10
	case count >= 1:
		f.Points = 5
	}

	if count == 0 {
		f.Detail = "no consistent classification history"
	} else {
		f.Detail = fmt.Sprintf("%d prior consistent classifications as %q", count, signal.TopCategory)
	}
	return f
}

func amountFactor(amount float64, profile history.AmountProfile) Factor {
	f := Factor{Name: "amount_consistency", Cap: capAmount}
	if profile.Count == 0 {
		f.Detail = "no amount history"
		return f
	}

	abs := math.Abs(amount)
	var deviation float64
	switch {
	case profile.Mean == 0 && abs == 0:
		deviation = 0
	case profile.Mean == 0:
		deviation = math.Inf(1)
	default:
		deviation = math.Abs(abs-profile.Mean) / profile.Mean
	}

	switch {
	case deviation <= 0.10:
		f.Points = 10
	case deviation <= 0.25:
		f.Points = 7
	case deviation <= 0.50:
		f.Points = 4
	default:
		f.Points = 2
	}
	f.Detail = fmt.Sprintf("amount %.2f vs historical mean %.2f over %d records",
		abs, profile.Mean, profile.Count)
	return f
}
