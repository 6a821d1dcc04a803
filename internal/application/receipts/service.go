// Package receipts matches extracted receipts to stored records and
// links them through the change log.
package receipts

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/reckonlabs/reckon/internal/application/changelog"
	"github.com/reckonlabs/reckon/internal/domain/matcher"
	"github.com/reckonlabs/reckon/internal/extraction"
	"github.com/reckonlabs/reckon/internal/infrastructure/config"
	"github.com/reckonlabs/reckon/internal/infrastructure/storage"
)

// ErrNoMatch means no candidate scored high enough to link.
var ErrNoMatch = errors.New("no candidate matched")

// minFieldConfidence is the extraction confidence below which a field is
// too shaky to auto-link on.
const minFieldConfidence = 70

// Service matches receipts against candidate records.
type Service struct {
	repo    storage.Repository
	chlog   *changelog.Service
	matcher *matcher.Matcher
	cfg     *config.Config
	logger  *slog.Logger
}

// NewService creates a receipt matching service
func NewService(repo storage.Repository, chlog *changelog.Service, cfg *config.Config, logger *slog.Logger) *Service {
	m := matcher.NewMatcher(matcher.Config{
		DateWindowDays:    cfg.Matching.DateWindowDays,
		AmountTolerance:   cfg.Matching.AmountTolerance,
		RelativeTolerance: cfg.Matching.RelativeTolerance,
	})
	return &Service{repo: repo, chlog: chlog, matcher: m, cfg: cfg, logger: logger}
}

// LinkOutcome reports what happened to the best match.
type LinkOutcome struct {
	Results []matcher.MatchResult `json:"results"`
	Linked  bool                  `json:"linked"`
	// LinkedID is set when the best match was auto-linked.
	LinkedID string `json:"linked_id,omitempty"`
}

// Match scores the receipt against unlinked records and returns ranked
// candidates without linking anything.
func (s *Service) Match(receipt matcher.Receipt) ([]matcher.MatchResult, error) {
	candidates, err := s.candidates()
	if err != nil {
		return nil, err
	}
	return s.matcher.Match(receipt, candidates), nil
}

// MatchAndLink scores the receipt and links the best match when it
// reaches the auto-link threshold. Lower-scoring results are returned
// for manual confirmation.
func (s *Service) MatchAndLink(receiptID string, receipt matcher.Receipt) (*LinkOutcome, error) {
	results, err := s.Match(receipt)
	if err != nil {
		return nil, err
	}

	outcome := &LinkOutcome{Results: results}
	if len(results) == 0 {
		return outcome, ErrNoMatch
	}

	threshold := s.cfg.Matching.AutoLinkThreshold
	if threshold <= 0 {
		threshold = matcher.DefaultAutoLinkThreshold
	}
	best := results[0]
	if best.Score < threshold {
		s.logger.Debug("best match below auto-link threshold",
			"receipt_id", receiptID,
			"record_id", best.Transaction.ID,
			"score", best.Score)
		return outcome, nil
	}

	if err := s.link(receiptID, best); err != nil {
		return nil, err
	}
	outcome.Linked = true
	outcome.LinkedID = best.Transaction.ID
	return outcome, nil
}

// MatchExtraction matches a provider extraction. When every extracted
// field is confident enough the best match may auto-link; otherwise the
// ranked candidates are returned for manual confirmation only.
func (s *Service) MatchExtraction(receiptID string, ext *extraction.ReceiptExtraction) (*LinkOutcome, error) {
	receipt := ext.Receipt()

	if ext.MerchantConfidence < minFieldConfidence ||
		ext.DateConfidence < minFieldConfidence ||
		ext.AmountConfidence < minFieldConfidence {
		s.logger.Debug("extraction too uncertain to auto-link",
			"receipt_id", receiptID,
			"merchant_confidence", ext.MerchantConfidence,
			"date_confidence", ext.DateConfidence,
			"amount_confidence", ext.AmountConfidence)
		results, err := s.Match(receipt)
		if err != nil {
			return nil, err
		}
		return &LinkOutcome{Results: results}, nil
	}

	return s.MatchAndLink(receiptID, receipt)
}

// Link attaches a receipt to a specific record, regardless of score.
// Used when a human confirms a suggested match.
func (s *Service) Link(receiptID, recordID string) error {
	rec, err := s.repo.GetRecord(recordID)
	if err != nil {
		return fmt.Errorf("load record %s: %w", recordID, err)
	}
	return s.linkRecord(receiptID, rec, "confirmed manually")
}

func (s *Service) link(receiptID string, best matcher.MatchResult) error {
	rec, err := s.repo.GetRecord(best.Transaction.ID)
	if err != nil {
		return fmt.Errorf("load record %s: %w", best.Transaction.ID, err)
	}
	return s.linkRecord(receiptID, rec, best.Rationale)
}

func (s *Service) linkRecord(receiptID string, rec *storage.Record, rationale string) error {
	if rec.ReceiptID == receiptID {
		return nil
	}

	prior := map[string]any{"receipt_id": rec.ReceiptID}
	rec.ReceiptID = receiptID
	if err := s.repo.SaveRecord(rec); err != nil {
		return fmt.Errorf("save record %s: %w", rec.ID, err)
	}

	_, err := s.chlog.Append(&storage.ChangeLogEntry{
		Kind:       storage.ActionUpdate,
		EntityType: storage.EntityTypeRecord,
		EntityID:   rec.ID,
		Prior:      prior,
		New:        map[string]any{"receipt_id": receiptID},
		Summary:    fmt.Sprintf("receipt %s linked to %s (%s)", receiptID, rec.ID, rationale),
	})
	if err != nil {
		return fmt.Errorf("log receipt link: %w", err)
	}

	s.logger.Info("receipt linked",
		"receipt_id", receiptID,
		"record_id", rec.ID,
		"rationale", rationale)
	return nil
}

// candidates returns records that do not already carry a receipt.
func (s *Service) candidates() ([]matcher.Transaction, error) {
	stored, err := s.repo.ListRecords(storage.RecordFilters{Limit: 1000})
	if err != nil {
		return nil, fmt.Errorf("list candidate records: %w", err)
	}

	candidates := make([]matcher.Transaction, 0, len(stored))
	for _, rec := range stored {
		if rec.ReceiptID != "" {
			continue
		}
		candidates = append(candidates, matcher.Transaction{
			ID:     rec.ID,
			Label:  rec.Label,
			Amount: rec.Amount,
			Date:   rec.Date,
		})
	}
	return candidates, nil
}
