package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reckonlabs/reckon/internal/api"
	"github.com/reckonlabs/reckon/internal/api/dto"
	"github.com/reckonlabs/reckon/internal/application/changelog"
	"github.com/reckonlabs/reckon/internal/application/classify"
	"github.com/reckonlabs/reckon/internal/application/receipts"
	"github.com/reckonlabs/reckon/internal/domain/merchant"
	"github.com/reckonlabs/reckon/internal/domain/rules"
	"github.com/reckonlabs/reckon/internal/extraction"
	"github.com/reckonlabs/reckon/internal/infrastructure/config"
	"github.com/reckonlabs/reckon/internal/infrastructure/storage"
)

func newTestServer(t *testing.T) (*api.Server, *storage.MockRepository) {
	t.Helper()
	repo := storage.NewMockRepository()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := &config.Config{
		Scoring: config.ScoringConfig{MatchThreshold: 60, AutoApplyTier: "high"},
		Matching: config.MatchingConfig{
			DateWindowDays:    3,
			AmountTolerance:   0.10,
			RelativeTolerance: 0.05,
			AutoLinkThreshold: 60,
		},
	}
	chlog := changelog.NewService(repo, logger)
	services := api.Services{
		ChangeLog: chlog,
		Classify:  classify.NewService(repo, chlog, cfg, logger),
		Receipts:  receipts.NewService(repo, chlog, cfg, logger),
	}
	return api.NewServer(api.DefaultConfig(), repo, services, logger), repo
}

func doJSON(t *testing.T, server *api.Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func TestServer_HealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var response dto.HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, "ok", response.Status)
}

func TestServer_RecordEndpoints(t *testing.T) {
	t.Run("POST /api/records creates record and logs it", func(t *testing.T) {
		server, repo := newTestServer(t)

		rec := doJSON(t, server, http.MethodPost, "/api/records", dto.CreateRecordRequest{
			ID:     "rec-1",
			Label:  "TESCO STORES 2847",
			Amount: -42.50,
			Date:   time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		})

		assert.Equal(t, http.StatusCreated, rec.Code)
		stored, err := repo.GetRecord("rec-1")
		require.NoError(t, err)
		assert.Equal(t, storage.StatusUnreviewed, stored.Status)
		assert.True(t, repo.AppendEntryCalled)
	})

	t.Run("POST /api/records rejects duplicate id", func(t *testing.T) {
		server, repo := newTestServer(t)
		require.NoError(t, repo.SaveRecord(&storage.Record{ID: "rec-1", Label: "X"}))

		rec := doJSON(t, server, http.MethodPost, "/api/records", dto.CreateRecordRequest{
			ID: "rec-1", Label: "Y",
		})

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("GET /api/records/:id returns 404 for missing record", func(t *testing.T) {
		server, _ := newTestServer(t)

		rec := doJSON(t, server, http.MethodGet, "/api/records/missing", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("DELETE then undo-last restores the record", func(t *testing.T) {
		server, repo := newTestServer(t)
		require.NoError(t, repo.SaveRecord(&storage.Record{ID: "rec-1", Label: "UBER TRIP", Amount: -18.20}))

		rec := doJSON(t, server, http.MethodDelete, "/api/records/rec-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		_, err := repo.GetRecord("rec-1")
		require.ErrorIs(t, err, storage.ErrNotFound)

		rec = doJSON(t, server, http.MethodPost, "/api/changelog/undo-last", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		restored, err := repo.GetRecord("rec-1")
		require.NoError(t, err)
		assert.Equal(t, "UBER TRIP", restored.Label)
	})
}

func TestServer_ClassifyEndpoints(t *testing.T) {
	seed := func(t *testing.T, repo *storage.MockRepository) {
		t.Helper()
		require.NoError(t, repo.SaveEntity(&merchant.Entity{
			ID: "ent-tesco", Name: "Tesco", Aliases: []string{"TESCO STORES"},
			DefaultCategory: "Groceries", DefaultKind: "expense", ConfidenceBoost: 10,
		}))
		require.NoError(t, repo.SaveRule(&rules.Rule{
			ID: "r-tesco", Pattern: "tesco", Mode: rules.ModeContains, Priority: 10,
			Verdict: rules.Verdict{Kind: "expense", Category: "Groceries"},
		}))
		require.NoError(t, repo.SaveRecord(&storage.Record{ID: "rec-1", Label: "TESCO STORES 2847", Amount: -42.50}))
	}

	t.Run("POST /api/classify classifies unreviewed records", func(t *testing.T) {
		server, repo := newTestServer(t)
		seed(t, repo)

		rec := doJSON(t, server, http.MethodPost, "/api/classify", dto.ClassifyRequest{})

		assert.Equal(t, http.StatusOK, rec.Code)
		var batch classify.BatchResult
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&batch))
		assert.Equal(t, 1, batch.Processed)

		stored, err := repo.GetRecord("rec-1")
		require.NoError(t, err)
		assert.Equal(t, "Groceries", stored.Category)
	})

	t.Run("POST /api/records/:id/classify classifies one record", func(t *testing.T) {
		server, repo := newTestServer(t)
		seed(t, repo)

		rec := doJSON(t, server, http.MethodPost, "/api/records/rec-1/classify", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		var result classify.Result
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
		assert.True(t, result.Applied)
	})

	t.Run("POST /api/records/:id/confirm marks record confirmed", func(t *testing.T) {
		server, repo := newTestServer(t)
		require.NoError(t, repo.SaveRecord(&storage.Record{
			ID: "rec-1", Label: "X", Category: "Misc", Status: storage.StatusClassified,
		}))

		rec := doJSON(t, server, http.MethodPost, "/api/records/rec-1/confirm", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		stored, err := repo.GetRecord("rec-1")
		require.NoError(t, err)
		assert.Equal(t, storage.StatusConfirmed, stored.Status)
	})
}

func TestServer_ReceiptEndpoints(t *testing.T) {
	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	t.Run("POST /api/receipts/match returns ranked candidates", func(t *testing.T) {
		server, repo := newTestServer(t)
		require.NoError(t, repo.SaveRecord(&storage.Record{
			ID: "rec-1", Label: "TESCO STORES 2847", Amount: -42.50, Date: date,
		}))

		rec := doJSON(t, server, http.MethodPost, "/api/receipts/match", dto.MatchReceiptRequest{
			Merchant: "Tesco Stores", Date: date, Amount: -42.50,
		})

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("POST /api/receipts/link links best match", func(t *testing.T) {
		server, repo := newTestServer(t)
		require.NoError(t, repo.SaveRecord(&storage.Record{
			ID: "rec-1", Label: "TESCO STORES 2847", Amount: -42.50, Date: date,
		}))

		rec := doJSON(t, server, http.MethodPost, "/api/receipts/link", dto.MatchReceiptRequest{
			ReceiptID: "rcpt-1", Merchant: "Tesco Stores", Date: date, Amount: -42.50,
		})

		assert.Equal(t, http.StatusOK, rec.Code)
		stored, err := repo.GetRecord("rec-1")
		require.NoError(t, err)
		assert.Equal(t, "rcpt-1", stored.ReceiptID)
	})

	t.Run("POST /api/receipts/link returns 404 when nothing matches", func(t *testing.T) {
		server, _ := newTestServer(t)

		rec := doJSON(t, server, http.MethodPost, "/api/receipts/link", dto.MatchReceiptRequest{
			ReceiptID: "rcpt-1", Merchant: "Tesco", Date: date, Amount: -42.50,
		})

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("POST /api/receipts/match validates input", func(t *testing.T) {
		server, _ := newTestServer(t)

		rec := doJSON(t, server, http.MethodPost, "/api/receipts/match", dto.MatchReceiptRequest{
			Amount: -42.50,
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_ExtractEndpoint(t *testing.T) {
	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	newServerWithExtractor := func(t *testing.T, provider extraction.Provider) (*api.Server, *storage.MockRepository) {
		t.Helper()
		repo := storage.NewMockRepository()
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		cfg := &config.Config{
			Matching: config.MatchingConfig{
				DateWindowDays:    3,
				AmountTolerance:   0.10,
				RelativeTolerance: 0.05,
				AutoLinkThreshold: 60,
			},
		}
		chlog := changelog.NewService(repo, logger)
		services := api.Services{
			ChangeLog: chlog,
			Classify:  classify.NewService(repo, chlog, cfg, logger),
			Receipts:  receipts.NewService(repo, chlog, cfg, logger),
			Extractor: provider,
		}
		return api.NewServer(api.DefaultConfig(), repo, services, logger), repo
	}

	t.Run("extracts, matches and links", func(t *testing.T) {
		server, repo := newServerWithExtractor(t, &extraction.StaticProvider{
			Result: &extraction.ReceiptExtraction{
				Merchant:           "Tesco Stores",
				MerchantConfidence: 95,
				Date:               date,
				DateConfidence:     90,
				Amount:             -42.50,
				AmountConfidence:   92,
			},
		})
		require.NoError(t, repo.SaveRecord(&storage.Record{
			ID: "rec-1", Label: "TESCO STORES 2847", Amount: -42.50, Date: date,
		}))

		req := httptest.NewRequest(http.MethodPost, "/api/receipts/extract?receipt_id=rcpt-1",
			bytes.NewReader([]byte("fake image bytes")))
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		stored, err := repo.GetRecord("rec-1")
		require.NoError(t, err)
		assert.Equal(t, "rcpt-1", stored.ReceiptID)
	})

	t.Run("not registered without an extraction provider", func(t *testing.T) {
		server, _ := newTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/api/receipts/extract",
			bytes.NewReader([]byte("fake image bytes")))
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_ChangeLogEndpoints(t *testing.T) {
	seedEntries := func(t *testing.T, server *api.Server, repo *storage.MockRepository, n int) {
		t.Helper()
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("rec-%d", i)
			require.NoError(t, repo.SaveRecord(&storage.Record{ID: id, Label: "X " + id}))
			rec := doJSON(t, server, http.MethodDelete, "/api/records/"+id, nil)
			require.Equal(t, http.StatusOK, rec.Code)
		}
	}

	t.Run("GET /api/changelog paginates", func(t *testing.T) {
		server, repo := newTestServer(t)
		seedEntries(t, server, repo, 5)

		rec := doJSON(t, server, http.MethodGet, "/api/changelog?page=1&page_size=2", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		var page storage.ChangeLogPage
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
		assert.Equal(t, 5, page.TotalCount)
		assert.Len(t, page.Entries, 2)
	})

	t.Run("GET /api/changelog/export returns CSV", func(t *testing.T) {
		server, repo := newTestServer(t)
		seedEntries(t, server, repo, 1)

		rec := doJSON(t, server, http.MethodGet, "/api/changelog/export", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Body.String(), "id,timestamp,kind,entity_type,entity_id,summary,prior_json,new_json,state")
		assert.Contains(t, rec.Body.String(), "DELETE")
		// Deleted records export their prior snapshot for reconstruction
		assert.Contains(t, rec.Body.String(), "X rec-0")
	})

	t.Run("POST /api/changelog/undo-last on empty log returns conflict", func(t *testing.T) {
		server, _ := newTestServer(t)

		rec := doJSON(t, server, http.MethodPost, "/api/changelog/undo-last", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("POST /api/changelog/:id/undo rejects repeat undo", func(t *testing.T) {
		server, repo := newTestServer(t)
		seedEntries(t, server, repo, 1)

		rec := doJSON(t, server, http.MethodPost, "/api/changelog/1/undo", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, server, http.MethodPost, "/api/changelog/1/undo", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestServer_EntityAndRuleValidation(t *testing.T) {
	t.Run("POST /api/entities rejects out-of-range boost", func(t *testing.T) {
		server, _ := newTestServer(t)

		rec := doJSON(t, server, http.MethodPost, "/api/entities", dto.SaveEntityRequest{
			Name: "Tesco", ConfidenceBoost: 45,
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("POST /api/entities creates entity", func(t *testing.T) {
		server, repo := newTestServer(t)

		rec := doJSON(t, server, http.MethodPost, "/api/entities", dto.SaveEntityRequest{
			Name: "Tesco", Aliases: []string{"TESCO STORES"}, DefaultCategory: "Groceries",
		})

		assert.Equal(t, http.StatusCreated, rec.Code)
		entities, err := repo.ListEntities()
		require.NoError(t, err)
		assert.Len(t, entities, 1)
	})

	t.Run("POST /api/rules rejects invalid regex", func(t *testing.T) {
		server, _ := newTestServer(t)

		rec := doJSON(t, server, http.MethodPost, "/api/rules", dto.SaveRuleRequest{
			Pattern: "TESCO[", Mode: "regex",
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("POST /api/rules defaults to contains mode", func(t *testing.T) {
		server, repo := newTestServer(t)

		rec := doJSON(t, server, http.MethodPost, "/api/rules", dto.SaveRuleRequest{
			Pattern: "AMZN", Category: "Shopping",
		})

		assert.Equal(t, http.StatusCreated, rec.Code)
		ruleset, err := repo.ListRules()
		require.NoError(t, err)
		require.Len(t, ruleset, 1)
		assert.Equal(t, rules.ModeContains, ruleset[0].Mode)
	})
}

func TestServer_StatsEndpoint(t *testing.T) {
	server, repo := newTestServer(t)
	require.NoError(t, repo.SaveRecord(&storage.Record{ID: "rec-1", Label: "X", Status: storage.StatusClassified, Confidence: 85}))

	rec := doJSON(t, server, http.MethodGet, "/api/stats", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var stats storage.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 1, stats.TotalRecords)
	assert.Equal(t, 1, stats.TierCounts["high"])
}

func TestServer_CORS(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("sets CORS headers for allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()

		server.Router().ServeHTTP(rec, req)

		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("handles OPTIONS preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/records", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()

		server.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
