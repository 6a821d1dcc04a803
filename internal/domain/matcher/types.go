package matcher

import "time"

// Config holds receipt matcher tolerances.
type Config struct {
	// DateWindowDays is how many days a candidate may sit from the
	// receipt date (default: 3).
	DateWindowDays int
	// AmountTolerance is the absolute amount gate in currency units
	// (default: 0.10). Checked first.
	AmountTolerance float64
	// RelativeTolerance is the fractional amount gate (default: 0.05).
	// A candidate passes if either tolerance admits it; 0 disables
	// the relative check.
	RelativeTolerance float64
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		DateWindowDays:    3,
		AmountTolerance:   0.10,
		RelativeTolerance: 0.05,
	}
}

// Receipt is the extracted receipt data relevant to matching.
type Receipt struct {
	Merchant string    `json:"merchant"`
	Date     time.Time `json:"date"`
	Amount   float64   `json:"amount"`
}

// Transaction is a candidate record to match a receipt against.
type Transaction struct {
	ID     string    `json:"id"`
	Label  string    `json:"label"`
	Amount float64   `json:"amount"`
	Date   time.Time `json:"date"`
}

// MatchResult contains match information for one candidate.
type MatchResult struct {
	Transaction *Transaction `json:"transaction"`
	Score       int          `json:"score"` // 0-100 combined score
	Rationale   string       `json:"rationale"`
	DateDiff    int          `json:"date_diff_days"`
	AmountDiff  float64      `json:"amount_diff"`
}

// Decision thresholds for consumers of match results.
const (
	// DefaultAutoLinkThreshold is the minimum score at which a match is
	// applied without human confirmation.
	DefaultAutoLinkThreshold = 60
	// ConfirmThreshold is the minimum score queued for manual review.
	ConfirmThreshold = 40
	// minResultScore is the floor below which candidates are excluded
	// from results entirely.
	minResultScore = 50
)
