// Package changelog appends reversible change entries and applies exact
// undo by restoring recorded prior state.
package changelog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reckonlabs/reckon/internal/infrastructure/storage"
)

// Undo errors surfaced to callers.
var (
	// ErrEmptyLog means the log has no active entries left to undo.
	ErrEmptyLog = errors.New("change log has no active entries")

	// ErrAlreadyUndone means the targeted entry was undone before.
	ErrAlreadyUndone = errors.New("entry already undone")

	// ErrTargetMissing means the entity an undo would restore no longer
	// exists in a form the inverse can apply to.
	ErrTargetMissing = errors.New("undo target missing")
)

// Service appends entries and performs undo against a repository.
type Service struct {
	repo   storage.Repository
	logger *slog.Logger
}

// NewService creates a changelog service
func NewService(repo storage.Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Append validates and persists a change-log entry. CREATE entries carry
// no prior state, DELETE entries no new state, updates carry both.
func (s *Service) Append(entry *storage.ChangeLogEntry) (int64, error) {
	if err := validate(entry); err != nil {
		return 0, err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.State = storage.StateActive

	id, err := s.repo.AppendEntry(entry)
	if err != nil {
		return 0, fmt.Errorf("append change entry: %w", err)
	}

	s.logger.Debug("change logged",
		"id", id,
		"kind", entry.Kind,
		"entity_type", entry.EntityType,
		"entity_id", entry.EntityID)
	return id, nil
}

func validate(entry *storage.ChangeLogEntry) error {
	switch entry.Kind {
	case storage.ActionCreate:
		if entry.Prior != nil {
			return fmt.Errorf("CREATE entry must not carry prior state")
		}
		if entry.New == nil {
			return fmt.Errorf("CREATE entry must carry new state")
		}
	case storage.ActionDelete:
		if entry.New != nil {
			return fmt.Errorf("DELETE entry must not carry new state")
		}
		if entry.Prior == nil {
			return fmt.Errorf("DELETE entry must carry prior state")
		}
	case storage.ActionUpdate, storage.ActionBulkUpdate:
		if entry.Prior == nil || entry.New == nil {
			return fmt.Errorf("%s entry must carry both prior and new state", entry.Kind)
		}
	default:
		return fmt.Errorf("unknown action kind %q", entry.Kind)
	}
	if entry.EntityType == "" || entry.EntityID == "" {
		return fmt.Errorf("entry must name an entity")
	}
	return nil
}

// UndoLast reverses the most recent active entry.
func (s *Service) UndoLast() (*storage.ChangeLogEntry, error) {
	entry, err := s.repo.LatestActive()
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrEmptyLog
	}
	if err != nil {
		return nil, fmt.Errorf("find latest active entry: %w", err)
	}
	return s.undo(entry)
}

// UndoByID reverses a specific entry.
func (s *Service) UndoByID(id int64) (*storage.ChangeLogEntry, error) {
	entry, err := s.repo.GetEntry(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("entry %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load entry %d: %w", id, err)
	}
	if entry.State == storage.StateUndone {
		return nil, ErrAlreadyUndone
	}
	return s.undo(entry)
}

// undo applies the inverse mutation, then marks the entry undone. If the
// inverse fails the entry stays active, so a later retry is possible.
func (s *Service) undo(entry *storage.ChangeLogEntry) (*storage.ChangeLogEntry, error) {
	if err := s.applyInverse(entry); err != nil {
		s.logger.Error("undo failed, entry left active",
			"id", entry.ID,
			"kind", entry.Kind,
			"error", err)
		return nil, err
	}

	if err := s.repo.MarkUndone(entry.ID); err != nil {
		return nil, fmt.Errorf("mark entry %d undone: %w", entry.ID, err)
	}
	entry.State = storage.StateUndone

	s.logger.Info("change undone",
		"id", entry.ID,
		"kind", entry.Kind,
		"entity_type", entry.EntityType,
		"entity_id", entry.EntityID)
	return entry, nil
}

func (s *Service) applyInverse(entry *storage.ChangeLogEntry) error {
	switch entry.Kind {
	case storage.ActionCreate:
		// Inverse of create is delete
		err := s.repo.DeleteSnapshot(entry.EntityType, entry.EntityID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s %s: %w", entry.EntityType, entry.EntityID, ErrTargetMissing)
		}
		return err

	case storage.ActionUpdate, storage.ActionBulkUpdate:
		// Inverse of update restores the recorded prior fields
		if _, err := s.repo.GetSnapshot(entry.EntityType, entry.EntityID); errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s %s: %w", entry.EntityType, entry.EntityID, ErrTargetMissing)
		} else if err != nil {
			return err
		}
		return s.repo.SaveSnapshot(entry.EntityType, entry.EntityID, entry.Prior)

	case storage.ActionDelete:
		// Inverse of delete recreates the entity from its prior state
		return s.repo.SaveSnapshot(entry.EntityType, entry.EntityID, entry.Prior)

	default:
		return fmt.Errorf("unknown action kind %q", entry.Kind)
	}
}

// Query returns a filtered, paginated view of the log.
func (s *Service) Query(f storage.ChangeLogFilters) (*storage.ChangeLogPage, error) {
	return s.repo.QueryEntries(f)
}

// ExportRows projects the filtered log into CSV rows, header first.
func (s *Service) ExportRows(f storage.ChangeLogFilters) ([][]string, error) {
	f.Page = 1
	f.PageSize = storage.ChangeLogRetention

	page, err := s.repo.QueryEntries(f)
	if err != nil {
		return nil, fmt.Errorf("query change log: %w", err)
	}

	rows := [][]string{{"id", "timestamp", "kind", "entity_type", "entity_id", "summary", "prior_json", "new_json", "state"}}
	for _, e := range page.Entries {
		rows = append(rows, []string{
			fmt.Sprintf("%d", e.ID),
			e.Timestamp.UTC().Format(time.RFC3339),
			string(e.Kind),
			e.EntityType,
			e.EntityID,
			e.Summary,
			snapshotJSON(e.Prior),
			snapshotJSON(e.New),
			string(e.State),
		})
	}
	return rows, nil
}

// snapshotJSON serializes a snapshot for export. CREATE entries have no
// prior state and DELETE entries no new state; those cells stay empty.
func snapshotJSON(fields map[string]any) string {
	if fields == nil {
		return ""
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return string(data)
}
