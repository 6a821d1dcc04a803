// Package rules evaluates ordered, user-defined pattern rules against
// transaction labels.
package rules

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// MatchMode selects how a rule pattern is tested against a label.
type MatchMode string

// Supported match modes.
const (
	ModeContains MatchMode = "contains"
	ModeEquals   MatchMode = "equals"
	ModeRegex    MatchMode = "regex"
)

// Verdict is the classification a matching rule assigns.
type Verdict struct {
	Kind     string `json:"kind"` // "income", "expense" or "ignore"
	Category string `json:"category"`
}

// Rule is a user-defined pattern rule. Lower priority evaluates first;
// priority ties break by Position (insertion order).
type Rule struct {
	ID        string    `json:"id"`
	Pattern   string    `json:"pattern"`
	Mode      MatchMode `json:"mode"`
	Priority  int       `json:"priority"`
	Verdict   Verdict   `json:"verdict"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Match is the outcome of a successful rule evaluation.
type Match struct {
	Rule    *Rule   `json:"rule"`
	Verdict Verdict `json:"verdict"`
}

// MaxPatternLength bounds user-supplied regex patterns. Oversized
// patterns are treated as non-matching rather than evaluated.
const MaxPatternLength = 256

// Evaluate tests the label against each rule in ascending priority order
// and returns the first match. The rules slice is read-only input; it is
// copied before sorting.
func Evaluate(label string, ruleset []Rule) (*Match, bool) {
	if len(ruleset) == 0 {
		return nil, false
	}

	ordered := make([]Rule, len(ruleset))
	copy(ordered, ruleset)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].Position < ordered[j].Position
	})

	for i := range ordered {
		if matches(label, &ordered[i]) {
			return &Match{Rule: &ordered[i], Verdict: ordered[i].Verdict}, true
		}
	}
	return nil, false
}

// matches tests a single rule. Regex rules fail open: a pattern that does
// not compile, or exceeds MaxPatternLength, is treated as non-matching.
func matches(label string, r *Rule) bool {
	switch r.Mode {
	case ModeContains:
		return strings.Contains(strings.ToLower(label), strings.ToLower(r.Pattern))
	case ModeEquals:
		return strings.EqualFold(label, r.Pattern)
	case ModeRegex:
		if len(r.Pattern) > MaxPatternLength {
			return false
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(label)
	default:
		return false
	}
}
