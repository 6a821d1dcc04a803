// Package merchant fuzzy-matches free-text transaction labels against a
// catalog of known counterparties.
//
// Similarity is scored 0-100: exact normalized equality scores 100, full
// containment 90, anything else a Levenshtein-based character ratio. An
// entity's score is the maximum across its canonical name and aliases.
package merchant

import (
	"math"
	"strings"

	"github.com/agnivade/levenshtein"
)

// DefaultThreshold is the minimum similarity for a catalog match.
const DefaultThreshold = 60

// Normalize uppercases a label, replaces non-alphanumeric runes with
// spaces, and collapses whitespace. "AMZN*Mktp  UK" -> "AMZN MKTP UK".
func Normalize(label string) string {
	var b strings.Builder
	b.Grow(len(label))
	for _, r := range strings.ToUpper(label) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Similarity computes a 0-100 similarity score between two labels.
func Similarity(a, b string) int {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 100
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 90
	}

	dist := levenshtein.ComputeDistance(na, nb)
	maxLen := len(na)
	if len(nb) > maxLen {
		maxLen = len(nb)
	}
	ratio := 1 - float64(dist)/float64(maxLen)
	if ratio < 0 {
		ratio = 0
	}
	return int(math.Round(ratio * 100))
}

// FindBestMatch returns the highest-scoring catalog entity for the label,
// or ok=false if nothing reaches the threshold.
//
// Ties break on higher usage count, then lexicographically smaller name,
// so results are deterministic regardless of catalog order. The catalog
// is never mutated.
func FindBestMatch(label string, catalog []Entity, threshold int) (*Candidate, bool) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	bestIdx := -1
	bestScore := 0
	for i := range catalog {
		score := entityScore(label, &catalog[i])
		if score < threshold {
			continue
		}
		if bestIdx < 0 || betterCandidate(score, &catalog[i], bestScore, &catalog[bestIdx]) {
			bestIdx = i
			bestScore = score
		}
	}

	if bestIdx < 0 {
		return nil, false
	}
	return &Candidate{Entity: &catalog[bestIdx], Score: bestScore}, true
}

// entityScore is the max similarity across the canonical name and all aliases.
func entityScore(label string, e *Entity) int {
	best := Similarity(label, e.Name)
	for _, alias := range e.Aliases {
		if s := Similarity(label, alias); s > best {
			best = s
		}
	}
	return best
}

// betterCandidate reports whether (score, e) beats the current best.
func betterCandidate(score int, e *Entity, bestScore int, best *Entity) bool {
	if score != bestScore {
		return score > bestScore
	}
	if e.UsageCount != best.UsageCount {
		return e.UsageCount > best.UsageCount
	}
	return e.Name < best.Name
}
