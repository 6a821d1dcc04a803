package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reckonlabs/reckon/internal/api/dto"
	"github.com/reckonlabs/reckon/internal/application/classify"
	"github.com/reckonlabs/reckon/internal/infrastructure/storage"
)

// ClassifyHandler handles classification requests.
type ClassifyHandler struct {
	*Base
	svc *classify.Service
}

// NewClassifyHandler creates a new classify handler.
func NewClassifyHandler(repo storage.Repository, svc *classify.Service) *ClassifyHandler {
	return &ClassifyHandler{
		Base: NewBase(repo),
		svc:  svc,
	}
}

// Batch handles POST /api/classify - classifies the requested records,
// or all unreviewed records when none are named.
func (h *ClassifyHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req dto.ClassifyRequest
	if r.ContentLength > 0 && !h.DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.svc.ClassifyBatch(r.Context(), req.RecordIDs)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

// One handles POST /api/records/{id}/classify.
func (h *ClassifyHandler) One(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.svc.ClassifyOne(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.WriteError(w, http.StatusNotFound, dto.NotFoundError("record"))
		return
	}
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

// Confirm handles POST /api/records/{id}/confirm - marks the current
// classification as human-confirmed.
func (h *ClassifyHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.svc.Confirm(id)
	if errors.Is(err, storage.ErrNotFound) {
		h.WriteError(w, http.StatusNotFound, dto.NotFoundError("record"))
		return
	}
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.IDResponse{ID: id})
}
