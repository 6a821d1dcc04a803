package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reckonlabs/reckon/internal/api/dto"
	"github.com/reckonlabs/reckon/internal/application/changelog"
	"github.com/reckonlabs/reckon/internal/infrastructure/storage"
)

// RecordsHandler handles record CRUD. Creates and deletes go through the
// change log so they can be undone.
type RecordsHandler struct {
	*Base
	chlog *changelog.Service
}

// NewRecordsHandler creates a new records handler.
func NewRecordsHandler(repo storage.Repository, chlog *changelog.Service) *RecordsHandler {
	return &RecordsHandler{
		Base:  NewBase(repo),
		chlog: chlog,
	}
}

// List handles GET /api/records with optional status filtering.
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	filters := storage.RecordFilters{
		Status: r.URL.Query().Get("status"),
		Limit:  ParseIntParam(r, "limit", 100),
		Offset: ParseIntParam(r, "offset", 0),
	}

	records, err := h.repo.ListRecords(filters)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.NewListResponse(records))
}

// Get handles GET /api/records/{id}.
func (h *RecordsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.repo.GetRecord(id)
	if errors.Is(err, storage.ErrNotFound) {
		h.WriteError(w, http.StatusNotFound, dto.NotFoundError("record"))
		return
	}
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	h.WriteJSON(w, http.StatusOK, rec)
}

// Create handles POST /api/records.
func (h *RecordsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateRecordRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}
	if req.Label == "" {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError("label is required"))
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if _, err := h.repo.GetRecord(req.ID); err == nil {
		h.WriteError(w, http.StatusConflict, dto.ConflictError(fmt.Sprintf("record %s already exists", req.ID)))
		return
	}

	rec := &storage.Record{
		ID:     req.ID,
		Label:  req.Label,
		Amount: req.Amount,
		Date:   req.Date,
		Status: storage.StatusUnreviewed,
	}
	if err := h.repo.SaveRecord(rec); err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	snapshot, err := h.repo.GetSnapshot(storage.EntityTypeRecord, rec.ID)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}
	if _, err := h.chlog.Append(&storage.ChangeLogEntry{
		Kind:       storage.ActionCreate,
		EntityType: storage.EntityTypeRecord,
		EntityID:   rec.ID,
		New:        snapshot,
		Summary:    fmt.Sprintf("record %s created (%s)", rec.ID, rec.Label),
	}); err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	h.WriteJSON(w, http.StatusCreated, rec)
}

// Delete handles DELETE /api/records/{id}.
func (h *RecordsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Snapshot before deleting so the change can be undone
	prior, err := h.repo.GetSnapshot(storage.EntityTypeRecord, id)
	if errors.Is(err, storage.ErrNotFound) {
		h.WriteError(w, http.StatusNotFound, dto.NotFoundError("record"))
		return
	}
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	if err := h.repo.DeleteRecord(id); err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	if _, err := h.chlog.Append(&storage.ChangeLogEntry{
		Kind:       storage.ActionDelete,
		EntityType: storage.EntityTypeRecord,
		EntityID:   id,
		Prior:      prior,
		Summary:    fmt.Sprintf("record %s deleted", id),
	}); err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.IDResponse{ID: id})
}
