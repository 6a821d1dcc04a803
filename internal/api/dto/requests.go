package dto

import "time"

// ClassifyRequest triggers a batch classification run. An empty
// RecordIDs classifies every unreviewed record.
type ClassifyRequest struct {
	RecordIDs []string `json:"record_ids,omitempty"`
}

// MatchReceiptRequest scores a receipt against candidate records.
// ReceiptID is only required when linking.
type MatchReceiptRequest struct {
	ReceiptID string    `json:"receipt_id,omitempty"`
	Merchant  string    `json:"merchant"`
	Date      time.Time `json:"date"`
	Amount    float64   `json:"amount"`
}

// CreateRecordRequest adds a record to classify.
type CreateRecordRequest struct {
	ID     string    `json:"id,omitempty"` // generated when empty
	Label  string    `json:"label"`
	Amount float64   `json:"amount"`
	Date   time.Time `json:"date"`
}

// SaveEntityRequest creates or updates a catalog entity.
type SaveEntityRequest struct {
	ID              string   `json:"id,omitempty"`
	Name            string   `json:"name"`
	Aliases         []string `json:"aliases,omitempty"`
	DefaultCategory string   `json:"default_category,omitempty"`
	DefaultKind     string   `json:"default_kind,omitempty"`
	Personal        bool     `json:"personal,omitempty"`
	Industry        string   `json:"industry,omitempty"`
	ConfidenceBoost int      `json:"confidence_boost,omitempty"`
}

// SaveRuleRequest creates or updates a classification rule.
type SaveRuleRequest struct {
	ID       string `json:"id,omitempty"`
	Pattern  string `json:"pattern"`
	Mode     string `json:"mode,omitempty"` // defaults to "contains"
	Priority int    `json:"priority,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Category string `json:"category,omitempty"`
}
