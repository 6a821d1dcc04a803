package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reckonlabs/reckon/internal/api/dto"
	"github.com/reckonlabs/reckon/internal/application/receipts"
	"github.com/reckonlabs/reckon/internal/domain/matcher"
	"github.com/reckonlabs/reckon/internal/extraction"
	"github.com/reckonlabs/reckon/internal/infrastructure/storage"
)

// ReceiptsHandler handles receipt matching requests.
type ReceiptsHandler struct {
	*Base
	svc       *receipts.Service
	extractor extraction.Provider
}

// NewReceiptsHandler creates a new receipts handler. The extractor may
// be nil when no extraction provider is configured.
func NewReceiptsHandler(repo storage.Repository, svc *receipts.Service, extractor extraction.Provider) *ReceiptsHandler {
	return &ReceiptsHandler{
		Base:      NewBase(repo),
		svc:       svc,
		extractor: extractor,
	}
}

// Match handles POST /api/receipts/match - scores a receipt against
// candidate records without linking anything.
func (h *ReceiptsHandler) Match(w http.ResponseWriter, r *http.Request) {
	receipt, ok := h.decodeReceipt(w, r)
	if !ok {
		return
	}

	results, err := h.svc.Match(receipt.receipt)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.NewListResponse(results))
}

// Link handles POST /api/receipts/link - scores a receipt and links the
// best match when it clears the auto-link threshold.
func (h *ReceiptsHandler) Link(w http.ResponseWriter, r *http.Request) {
	receipt, ok := h.decodeReceipt(w, r)
	if !ok {
		return
	}
	if receipt.id == "" {
		receipt.id = uuid.NewString()
	}

	outcome, err := h.svc.MatchAndLink(receipt.id, receipt.receipt)
	if errors.Is(err, receipts.ErrNoMatch) {
		h.WriteError(w, http.StatusNotFound, dto.NotFoundError("matching record"))
		return
	}
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	h.WriteJSON(w, http.StatusOK, outcome)
}

// LinkTo handles POST /api/receipts/{receiptID}/link/{recordID} - a
// human-confirmed link that bypasses scoring.
func (h *ReceiptsHandler) LinkTo(w http.ResponseWriter, r *http.Request) {
	receiptID := chi.URLParam(r, "receiptID")
	recordID := chi.URLParam(r, "recordID")

	err := h.svc.Link(receiptID, recordID)
	if errors.Is(err, storage.ErrNotFound) {
		h.WriteError(w, http.StatusNotFound, dto.NotFoundError("record"))
		return
	}
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.IDResponse{ID: recordID})
}

// Extract handles POST /api/receipts/extract - runs the configured
// extraction provider over the uploaded image and matches the result.
func (h *ReceiptsHandler) Extract(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 10<<20))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("failed to read upload"))
		return
	}
	if len(data) == 0 {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError("empty upload"))
		return
	}

	ext, err := h.extractor.Extract(r.Context(), data)
	if err != nil {
		h.WriteError(w, http.StatusBadGateway, dto.NewAPIError("extraction_failed", err.Error()))
		return
	}

	receiptID := r.URL.Query().Get("receipt_id")
	if receiptID == "" {
		receiptID = uuid.NewString()
	}

	outcome, err := h.svc.MatchExtraction(receiptID, ext)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	h.WriteJSON(w, http.StatusOK, struct {
		ReceiptID  string                        `json:"receipt_id"`
		Extraction *extraction.ReceiptExtraction `json:"extraction"`
		Outcome    *receipts.LinkOutcome         `json:"outcome"`
	}{receiptID, ext, outcome})
}

type decodedReceipt struct {
	id      string
	receipt matcher.Receipt
}

func (h *ReceiptsHandler) decodeReceipt(w http.ResponseWriter, r *http.Request) (decodedReceipt, bool) {
	var req dto.MatchReceiptRequest
	if !h.DecodeJSON(w, r, &req) {
		return decodedReceipt{}, false
	}
	if req.Merchant == "" || req.Date.IsZero() {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError("merchant and date are required"))
		return decodedReceipt{}, false
	}

	return decodedReceipt{
		id: req.ReceiptID,
		receipt: matcher.Receipt{
			Merchant: req.Merchant,
			Date:     req.Date,
			Amount:   req.Amount,
		},
	}, true
}
