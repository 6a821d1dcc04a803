package classify

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reckonlabs/reckon/internal/application/changelog"
	"github.com/reckonlabs/reckon/internal/domain/confidence"
	"github.com/reckonlabs/reckon/internal/domain/merchant"
	"github.com/reckonlabs/reckon/internal/domain/rules"
	"github.com/reckonlabs/reckon/internal/infrastructure/config"
	"github.com/reckonlabs/reckon/internal/infrastructure/storage"
)

func newTestService(autoApplyTier string) (*Service, *storage.MockRepository, *changelog.Service) {
	repo := storage.NewMockRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	chlog := changelog.NewService(repo, logger)
	cfg := &config.Config{
		Scoring: config.ScoringConfig{
			MatchThreshold: 60,
			AutoApplyTier:  autoApplyTier,
		},
	}
	return NewService(repo, chlog, cfg, logger), repo, chlog
}

func seedTesco(t *testing.T, repo *storage.MockRepository) {
	t.Helper()
	require.NoError(t, repo.SaveEntity(&merchant.Entity{
		ID:              "ent-tesco",
		Name:            "Tesco",
		Aliases:         []string{"TESCO STORES"},
		DefaultCategory: "Groceries",
		DefaultKind:     "expense",
		ConfidenceBoost: 10,
	}))
}

func TestClassifyOneAppliesHighConfidenceVerdict(t *testing.T) {
	// Arrange: catalog match plus a strong rule pushes the score to high
	svc, repo, _ := newTestService("high")
	seedTesco(t, repo)
	require.NoError(t, repo.SaveRule(&rules.Rule{
		ID:       "r-tesco",
		Pattern:  "tesco",
		Mode:     rules.ModeContains,
		Priority: 10,
		Verdict:  rules.Verdict{Kind: "expense", Category: "Groceries"},
	}))
	require.NoError(t, repo.SaveRecord(&storage.Record{
		ID:     "rec-1",
		Label:  "TESCO STORES 2847",
		Amount: -42.50,
		Date:   time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
	}))

	// Act
	result, err := svc.ClassifyOne(context.Background(), "rec-1")

	// Assert
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, confidence.TierHigh, result.Score.Tier)
	assert.Equal(t, "rule", result.Source)
	assert.Equal(t, "Groceries", result.Category)

	rec, err := repo.GetRecord("rec-1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusClassified, rec.Status)
	assert.Equal(t, "Groceries", rec.Category)
	assert.Equal(t, storage.ClassifiedByEngine, rec.ClassifiedBy)
	assert.Equal(t, result.Score.Total, rec.Confidence)

	// Catalog usage bumped and the change was logged
	ent, err := repo.GetEntity("ent-tesco")
	require.NoError(t, err)
	assert.Equal(t, 1, ent.UsageCount)
	assert.True(t, repo.AppendEntryCalled)
}

func TestClassifyOneHoldsBelowAutoApplyTier(t *testing.T) {
	// Catalog match alone lands at medium; high tier required
	svc, repo, _ := newTestService("high")
	seedTesco(t, repo)
	require.NoError(t, repo.SaveRecord(&storage.Record{
		ID:    "rec-1",
		Label: "TESCO STORES 2847",
	}))

	result, err := svc.ClassifyOne(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, confidence.TierMedium, result.Score.Tier)
	// Verdict is still reported for manual review
	assert.Equal(t, "Groceries", result.Category)

	rec, err := repo.GetRecord("rec-1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusUnreviewed, rec.Status)
	assert.Empty(t, rec.Category)
}

func TestClassifyOneMediumTierApplies(t *testing.T) {
	svc, repo, _ := newTestService("medium")
	seedTesco(t, repo)
	require.NoError(t, repo.SaveRecord(&storage.Record{
		ID:    "rec-1",
		Label: "TESCO STORES 2847",
	}))

	result, err := svc.ClassifyOne(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, "catalog", result.Source)
}

func TestClassifyOneSkipsConfirmedRecords(t *testing.T) {
	svc, repo, _ := newTestService("high")
	require.NoError(t, repo.SaveRecord(&storage.Record{
		ID:       "rec-1",
		Label:    "TESCO STORES",
		Category: "Groceries",
		Status:   storage.StatusConfirmed,
	}))

	result, err := svc.ClassifyOne(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.False(t, result.Applied)

	rec, err := repo.GetRecord("rec-1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusConfirmed, rec.Status)
}

func TestClassifyOneMissingRecord(t *testing.T) {
	svc, _, _ := newTestService("high")

	_, err := svc.ClassifyOne(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClassificationIsUndoable(t *testing.T) {
	svc, repo, chlog := newTestService("high")
	seedTesco(t, repo)
	require.NoError(t, repo.SaveRule(&rules.Rule{
		ID:       "r-tesco",
		Pattern:  "tesco",
		Mode:     rules.ModeContains,
		Priority: 10,
		Verdict:  rules.Verdict{Kind: "expense", Category: "Groceries"},
	}))
	require.NoError(t, repo.SaveRecord(&storage.Record{ID: "rec-1", Label: "TESCO STORES 2847"}))

	result, err := svc.ClassifyOne(context.Background(), "rec-1")
	require.NoError(t, err)
	require.True(t, result.Applied)

	_, err = chlog.UndoLast()
	require.NoError(t, err)

	rec, err := repo.GetRecord("rec-1")
	require.NoError(t, err)
	assert.Empty(t, rec.Category)
	assert.Equal(t, storage.StatusUnreviewed, rec.Status)
	assert.Equal(t, 0, rec.Confidence)
}

func TestClassifyBatchProcessesUnreviewed(t *testing.T) {
	svc, repo, _ := newTestService("high")
	seedTesco(t, repo)
	require.NoError(t, repo.SaveRule(&rules.Rule{
		ID:       "r-tesco",
		Pattern:  "tesco",
		Mode:     rules.ModeContains,
		Priority: 10,
		Verdict:  rules.Verdict{Kind: "expense", Category: "Groceries"},
	}))
	require.NoError(t, repo.SaveRecord(&storage.Record{ID: "rec-1", Label: "TESCO STORES 1"}))
	require.NoError(t, repo.SaveRecord(&storage.Record{ID: "rec-2", Label: "TESCO STORES 2"}))
	require.NoError(t, repo.SaveRecord(&storage.Record{ID: "rec-3", Label: "UNKNOWN VENDOR"}))

	batch, err := svc.ClassifyBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Processed)
	assert.Equal(t, 1, batch.Skipped)
	assert.Equal(t, 0, batch.Failed)
	assert.True(t, repo.CompleteRunCalled)

	runs, err := repo.ListRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
}

func TestClassifyBatchCollectsPerItemErrors(t *testing.T) {
	svc, repo, _ := newTestService("high")
	require.NoError(t, repo.SaveRecord(&storage.Record{ID: "rec-1", Label: "TESCO"}))

	batch, err := svc.ClassifyBatch(context.Background(), []string{"rec-1", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Failed)
	assert.Len(t, batch.Errors, 1)

	runs, err := repo.ListRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed_with_errors", runs[0].Status)
}

func TestClassifyBatchHonorsCancellation(t *testing.T) {
	svc, repo, _ := newTestService("high")
	require.NoError(t, repo.SaveRecord(&storage.Record{ID: "rec-1", Label: "A"}))
	require.NoError(t, repo.SaveRecord(&storage.Record{ID: "rec-2", Label: "B"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch, err := svc.ClassifyBatch(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, batch.Processed)
	assert.Zero(t, batch.Skipped)
	assert.Empty(t, batch.Results)
}

func TestConfirmMarksRecordHuman(t *testing.T) {
	svc, repo, _ := newTestService("high")
	require.NoError(t, repo.SaveRecord(&storage.Record{
		ID:           "rec-1",
		Label:        "TESCO STORES",
		Category:     "Groceries",
		Status:       storage.StatusClassified,
		ClassifiedBy: storage.ClassifiedByEngine,
	}))

	require.NoError(t, svc.Confirm("rec-1"))

	rec, err := repo.GetRecord("rec-1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusConfirmed, rec.Status)
	assert.Equal(t, storage.ClassifiedByHuman, rec.ClassifiedBy)
	assert.True(t, repo.AppendEntryCalled)

	// Confirming twice is a no-op
	repo.AppendEntryCalled = false
	require.NoError(t, svc.Confirm("rec-1"))
	assert.False(t, repo.AppendEntryCalled)
}
