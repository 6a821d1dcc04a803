package merchant

import "time"

// Entity is a known counterparty with a canonical name and aliases used
// to boost classification confidence.
type Entity struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Aliases         []string  `json:"aliases"`
	DefaultCategory string    `json:"default_category"`
	DefaultKind     string    `json:"default_kind"` // "income" or "expense"
	Personal        bool      `json:"personal"`
	Industry        string    `json:"industry,omitempty"`
	ConfidenceBoost int       `json:"confidence_boost"` // 0-30
	UsageCount      int       `json:"usage_count"`
	LastUsedAt      time.Time `json:"last_used_at,omitzero"`
}

// Candidate is the best catalog entity found for a label.
type Candidate struct {
	Entity *Entity `json:"entity"`
	Score  int     `json:"score"` // 0-100 similarity
}
