package storage

import (
	"time"
)

// Entity type names used by change-log entries and the snapshot store.
const (
	EntityTypeRecord = "record"
	EntityTypeEntity = "entity"
	EntityTypeRule   = "rule"
)

// Record statuses.
const (
	StatusUnreviewed = "unreviewed"
	StatusClassified = "classified"
	StatusConfirmed  = "confirmed"
)

// Who made a classification decision.
const (
	ClassifiedByHuman  = "human"
	ClassifiedByEngine = "engine"
)

// Record is a financial record to classify. Once persisted it changes
// only through logged updates.
type Record struct {
	ID           string    `json:"id"`
	Label        string    `json:"label"`
	Amount       float64   `json:"amount"`
	Date         time.Time `json:"date"`
	Kind         string    `json:"kind,omitempty"` // "income", "expense" or "ignore"
	Category     string    `json:"category,omitempty"`
	Status       string    `json:"status"`
	Confidence   int       `json:"confidence,omitempty"`
	ClassifiedBy string    `json:"classified_by,omitempty"`
	ReceiptID    string    `json:"receipt_id,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
}

// ActionKind is the mutation type a change-log entry records.
type ActionKind string

// Change-log action kinds.
const (
	ActionCreate     ActionKind = "CREATE"
	ActionUpdate     ActionKind = "UPDATE"
	ActionDelete     ActionKind = "DELETE"
	ActionBulkUpdate ActionKind = "BULK_UPDATE"
)

// EntryState tracks whether an entry can still be undone.
type EntryState string

// Change-log entry states.
const (
	StateActive EntryState = "active"
	StateUndone EntryState = "undone"
)

// ChangeLogRetention is the maximum number of entries kept; appending
// beyond it evicts the oldest entries by id.
const ChangeLogRetention = 50

// ChangeLogEntry is one reversible mutation. Exactly one of Prior/New may
// be absent: CREATE has no prior, DELETE has no new, updates have both.
type ChangeLogEntry struct {
	ID         int64          `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Kind       ActionKind     `json:"kind"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Prior      map[string]any `json:"prior,omitempty"`
	New        map[string]any `json:"new,omitempty"`
	Summary    string         `json:"summary"`
	State      EntryState     `json:"state"`
}

// RecordFilters selects records for listing.
type RecordFilters struct {
	Status          string // empty = all
	NormalizedLabel string // empty = all
	Limit           int    // 0 = default 100
	Offset          int
}

// ChangeLogFilters selects change-log entries for querying.
type ChangeLogFilters struct {
	EntityType string
	Kind       string
	From       time.Time
	To         time.Time
	Search     string // substring match on summary
	Page       int    // 1-based
	PageSize   int    // 0 = default 20
}

// ChangeLogPage is one page of query results.
type ChangeLogPage struct {
	Entries    []*ChangeLogEntry `json:"entries"`
	TotalCount int               `json:"total_count"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
}

// Run tracks one batch classification run.
type Run struct {
	ID          int64     `json:"id"`
	Kind        string    `json:"kind"` // "classify" or "receipt-match"
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	Processed   int       `json:"processed"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	Status      string    `json:"status"`
}

// Stats contains aggregate classification statistics.
type Stats struct {
	TotalRecords    int            `json:"total_records"`
	Unreviewed      int            `json:"unreviewed"`
	Classified      int            `json:"classified"`
	Confirmed       int            `json:"confirmed"`
	TierCounts      map[string]int `json:"tier_counts"`
	ChangeLogActive int            `json:"change_log_active"`
	EntityCount     int            `json:"entity_count"`
	RuleCount       int            `json:"rule_count"`
}
