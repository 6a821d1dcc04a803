package storage

import (
	"errors"
	"time"

	"github.com/reckonlabs/reckon/internal/domain/merchant"
	"github.com/reckonlabs/reckon/internal/domain/rules"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the complete storage interface.
// This interface allows swapping implementations (SQLite, PostgreSQL, etc.)
// and makes testing with mocks straightforward.
type Repository interface {
	EntityRepository
	RuleRepository
	RecordRepository
	ChangeLogRepository
	RunRepository
	SnapshotStore
	Close() error
}

// EntityRepository stores the merchant catalog.
type EntityRepository interface {
	// SaveEntity inserts or updates a catalog entity
	SaveEntity(e *merchant.Entity) error

	// GetEntity retrieves an entity by id (ErrNotFound when absent)
	GetEntity(id string) (*merchant.Entity, error)

	// ListEntities returns the full catalog snapshot
	ListEntities() ([]merchant.Entity, error)

	// DeleteEntity removes an entity from matching eligibility
	DeleteEntity(id string) error

	// TouchEntity increments usage count and stamps last use
	TouchEntity(id string, usedAt time.Time) error
}

// RuleRepository stores user-defined classification rules.
type RuleRepository interface {
	// SaveRule inserts or updates a rule; a zero Position is assigned
	// the next insertion index
	SaveRule(r *rules.Rule) error

	// ListRules returns all rules in insertion order
	ListRules() ([]rules.Rule, error)

	// DeleteRule removes a rule by id
	DeleteRule(id string) error
}

// RecordRepository stores records to classify.
type RecordRepository interface {
	// SaveRecord inserts or updates a record
	SaveRecord(rec *Record) error

	// GetRecord retrieves a record by id (ErrNotFound when absent)
	GetRecord(id string) (*Record, error)

	// DeleteRecord removes a record by id
	DeleteRecord(id string) error

	// ListRecords returns records matching the filters
	ListRecords(f RecordFilters) ([]Record, error)

	// GetStats returns aggregate statistics
	GetStats() (*Stats, error)
}

// ChangeLogRepository stores reversible change-log entries.
type ChangeLogRepository interface {
	// AppendEntry persists an entry and enforces retention, evicting
	// the oldest entries beyond ChangeLogRetention. Returns the new id.
	AppendEntry(e *ChangeLogEntry) (int64, error)

	// GetEntry retrieves an entry by id (ErrNotFound when absent)
	GetEntry(id int64) (*ChangeLogEntry, error)

	// LatestActive returns the most recent active entry
	// (ErrNotFound when the log has no active entries)
	LatestActive() (*ChangeLogEntry, error)

	// MarkUndone flips an entry's state to undone
	MarkUndone(id int64) error

	// QueryEntries returns a filtered, paginated view of the log
	QueryEntries(f ChangeLogFilters) (*ChangeLogPage, error)
}

// RunRepository tracks batch runs.
type RunRepository interface {
	// StartRun records the start of a batch run and returns the run ID
	StartRun(kind string) (int64, error)

	// CompleteRun records the completion of a batch run
	CompleteRun(runID int64, processed, skipped, failed int) error

	// ListRuns returns recent runs, newest first
	ListRuns(limit int) ([]Run, error)
}

// SnapshotStore reads and writes entities as untyped field snapshots,
// keyed by entity type. The undo machinery uses it to reconstruct prior
// state without knowing concrete types.
type SnapshotStore interface {
	// GetSnapshot returns the current field values of an entity
	// (ErrNotFound when absent)
	GetSnapshot(entityType, id string) (map[string]any, error)

	// SaveSnapshot writes field values onto an entity, creating it if
	// missing; fields not present in the snapshot are left unchanged
	SaveSnapshot(entityType, id string, fields map[string]any) error

	// DeleteSnapshot removes an entity (ErrNotFound when absent)
	DeleteSnapshot(entityType, id string) error
}
