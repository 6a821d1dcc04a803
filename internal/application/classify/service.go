// Package classify orchestrates record classification: it gathers the
// catalog, rule and history signals, scores them, and applies verdicts
// through the change log so every engine decision can be undone.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reckonlabs/reckon/internal/application/changelog"
	"github.com/reckonlabs/reckon/internal/domain/confidence"
	"github.com/reckonlabs/reckon/internal/domain/history"
	"github.com/reckonlabs/reckon/internal/domain/merchant"
	"github.com/reckonlabs/reckon/internal/domain/rules"
	"github.com/reckonlabs/reckon/internal/infrastructure/config"
	"github.com/reckonlabs/reckon/internal/infrastructure/storage"
)

// Service classifies records against the catalog, rules and history.
type Service struct {
	repo   storage.Repository
	chlog  *changelog.Service
	cfg    *config.Config
	logger *slog.Logger
}

// NewService creates a classification service
func NewService(repo storage.Repository, chlog *changelog.Service, cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{repo: repo, chlog: chlog, cfg: cfg, logger: logger}
}

// Result is the outcome of classifying one record.
type Result struct {
	RecordID string           `json:"record_id"`
	Score    confidence.Score `json:"score"`
	Kind     string           `json:"kind,omitempty"`
	Category string           `json:"category,omitempty"`
	Source   string           `json:"source,omitempty"` // "rule", "catalog" or "history"
	Applied  bool             `json:"applied"`
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	RunID     int64    `json:"run_id"`
	Processed int      `json:"processed"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
	Errors    []string `json:"errors,omitempty"`
}

// ClassifyOne scores a single record and applies the verdict when the
// score reaches the configured auto-apply tier. Confirmed records are
// never reclassified.
func (s *Service) ClassifyOne(ctx context.Context, recordID string) (*Result, error) {
	rec, err := s.repo.GetRecord(recordID)
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", recordID, err)
	}
	if rec.Status == storage.StatusConfirmed {
		return &Result{RecordID: rec.ID}, nil
	}

	catalog, err := s.repo.ListEntities()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	ruleset, err := s.repo.ListRules()
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	past, err := s.pastRecords(rec)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	candidate, _ := merchant.FindBestMatch(rec.Label, catalog, s.cfg.Scoring.MatchThreshold)
	ruleMatch, _ := rules.Evaluate(rec.Label, ruleset)
	signal := history.HistoricalSignal(rec.Label, past)
	amounts := history.Amounts(rec.Label, past)

	score := confidence.ScoreRecord(confidence.Inputs{
		Label:        rec.Label,
		Amount:       rec.Amount,
		CatalogMatch: candidate,
		RuleMatch:    ruleMatch,
		Signal:       signal,
		Amounts:      amounts,
	})

	result := &Result{RecordID: rec.ID, Score: score}
	result.Kind, result.Category, result.Source = verdict(candidate, ruleMatch, signal)

	if result.Category == "" || !s.tierQualifies(score.Tier) {
		s.logger.Debug("classification below auto-apply tier",
			"record_id", rec.ID,
			"total", score.Total,
			"tier", score.Tier)
		return result, nil
	}

	if err := s.apply(rec, result); err != nil {
		return nil, err
	}

	if candidate != nil && candidate.Entity != nil {
		if err := s.repo.TouchEntity(candidate.Entity.ID, time.Now().UTC()); err != nil {
			s.logger.Warn("failed to update entity usage",
				"entity_id", candidate.Entity.ID,
				"error", err)
		}
	}

	result.Applied = true
	s.logger.Info("record classified",
		"record_id", rec.ID,
		"category", result.Category,
		"total", score.Total,
		"tier", score.Tier,
		"source", result.Source)
	return result, nil
}

// ClassifyBatch classifies the given records, or every unreviewed record
// when ids is empty. Items run sequentially; cancellation is honored
// between items and per-item failures do not stop the batch.
func (s *Service) ClassifyBatch(ctx context.Context, ids []string) (*BatchResult, error) {
	if len(ids) == 0 {
		unreviewed, err := s.repo.ListRecords(storage.RecordFilters{Status: storage.StatusUnreviewed, Limit: 1000})
		if err != nil {
			return nil, fmt.Errorf("list unreviewed records: %w", err)
		}
		for _, rec := range unreviewed {
			ids = append(ids, rec.ID)
		}
	}

	runID, err := s.repo.StartRun("classify")
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	batch := &BatchResult{RunID: runID}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("batch cancelled",
				"run_id", runID,
				"remaining", len(ids)-batch.Processed-batch.Skipped-batch.Failed)
			break
		}

		result, err := s.ClassifyOne(ctx, id)
		if err != nil {
			batch.Failed++
			batch.Errors = append(batch.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		batch.Results = append(batch.Results, *result)
		if result.Applied {
			batch.Processed++
		} else {
			batch.Skipped++
		}
	}

	if err := s.repo.CompleteRun(runID, batch.Processed, batch.Skipped, batch.Failed); err != nil {
		s.logger.Error("failed to complete run", "run_id", runID, "error", err)
	}

	s.logger.Info("batch complete",
		"run_id", runID,
		"processed", batch.Processed,
		"skipped", batch.Skipped,
		"failed", batch.Failed)
	return batch, nil
}

// Confirm marks a record's current classification as human-confirmed.
func (s *Service) Confirm(recordID string) error {
	rec, err := s.repo.GetRecord(recordID)
	if err != nil {
		return fmt.Errorf("load record %s: %w", recordID, err)
	}
	if rec.Status == storage.StatusConfirmed {
		return nil
	}

	prior := map[string]any{"status": rec.Status, "classified_by": rec.ClassifiedBy}
	rec.Status = storage.StatusConfirmed
	rec.ClassifiedBy = storage.ClassifiedByHuman
	if err := s.repo.SaveRecord(rec); err != nil {
		return fmt.Errorf("save record %s: %w", recordID, err)
	}

	_, err = s.chlog.Append(&storage.ChangeLogEntry{
		Kind:       storage.ActionUpdate,
		EntityType: storage.EntityTypeRecord,
		EntityID:   rec.ID,
		Prior:      prior,
		New:        map[string]any{"status": rec.Status, "classified_by": rec.ClassifiedBy},
		Summary:    fmt.Sprintf("%s confirmed as %s", rec.ID, rec.Category),
	})
	return err
}

// apply writes the verdict onto the record and logs the change.
func (s *Service) apply(rec *storage.Record, result *Result) error {
	prior := map[string]any{
		"kind":          rec.Kind,
		"category":      rec.Category,
		"status":        rec.Status,
		"confidence":    rec.Confidence,
		"classified_by": rec.ClassifiedBy,
	}

	rec.Kind = result.Kind
	rec.Category = result.Category
	rec.Status = storage.StatusClassified
	rec.Confidence = result.Score.Total
	rec.ClassifiedBy = storage.ClassifiedByEngine

	if err := s.repo.SaveRecord(rec); err != nil {
		return fmt.Errorf("save record %s: %w", rec.ID, err)
	}

	_, err := s.chlog.Append(&storage.ChangeLogEntry{
		Kind:       storage.ActionUpdate,
		EntityType: storage.EntityTypeRecord,
		EntityID:   rec.ID,
		Prior:      prior,
		New: map[string]any{
			"kind":          rec.Kind,
			"category":      rec.Category,
			"status":        rec.Status,
			"confidence":    rec.Confidence,
			"classified_by": rec.ClassifiedBy,
		},
		Summary: fmt.Sprintf("%s classified as %s (%d, %s)", rec.ID, rec.Category, result.Score.Total, result.Source),
	})
	if err != nil {
		return fmt.Errorf("log classification of %s: %w", rec.ID, err)
	}
	return nil
}

// pastRecords loads prior classified records sharing the normalized label.
func (s *Service) pastRecords(rec *storage.Record) ([]history.PastRecord, error) {
	normalized := merchant.Normalize(rec.Label)
	if normalized == "" {
		return nil, nil
	}

	stored, err := s.repo.ListRecords(storage.RecordFilters{NormalizedLabel: normalized, Limit: 500})
	if err != nil {
		return nil, err
	}

	past := make([]history.PastRecord, 0, len(stored))
	for _, r := range stored {
		if r.ID == rec.ID || r.Status == storage.StatusUnreviewed {
			continue
		}
		past = append(past, history.PastRecord{
			Label:        r.Label,
			Category:     r.Category,
			Amount:       r.Amount,
			ClassifiedBy: r.ClassifiedBy,
			Confidence:   r.Confidence,
		})
	}
	return past, nil
}

// verdict picks the classification to apply. Rules are explicit user
// intent and win; catalog defaults come next; a consistent history
// signal fills in when nothing else speaks.
func verdict(candidate *merchant.Candidate, ruleMatch *rules.Match, signal history.Signal) (kind, category, source string) {
	if ruleMatch != nil {
		return ruleMatch.Verdict.Kind, ruleMatch.Verdict.Category, "rule"
	}
	if candidate != nil && candidate.Entity != nil && candidate.Entity.DefaultCategory != "" {
		return candidate.Entity.DefaultKind, candidate.Entity.DefaultCategory, "catalog"
	}
	if signal.IsConsistent && signal.TopCategory != "" {
		return "", signal.TopCategory, "history"
	}
	return "", "", ""
}

func (s *Service) tierQualifies(tier confidence.Tier) bool {
	switch s.cfg.Scoring.AutoApplyTier {
	case "medium":
		return tier == confidence.TierHigh || tier == confidence.TierMedium
	default:
		return tier == confidence.TierHigh
	}
}
