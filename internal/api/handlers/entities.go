package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reckonlabs/reckon/internal/api/dto"
	"github.com/reckonlabs/reckon/internal/application/changelog"
	"github.com/reckonlabs/reckon/internal/domain/merchant"
	"github.com/reckonlabs/reckon/internal/infrastructure/storage"
)

// EntitiesHandler handles catalog entity CRUD through the change log.
type EntitiesHandler struct {
	*Base
	chlog *changelog.Service
}

// NewEntitiesHandler creates a new entities handler.
func NewEntitiesHandler(repo storage.Repository, chlog *changelog.Service) *EntitiesHandler {
	return &EntitiesHandler{
		Base:  NewBase(repo),
		chlog: chlog,
	}
}

// List handles GET /api/entities.
func (h *EntitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	entities, err := h.repo.ListEntities()
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.NewListResponse(entities))
}

// Save handles POST /api/entities - creates or updates an entity.
func (h *EntitiesHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req dto.SaveEntityRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError("name is required"))
		return
	}
	if req.ConfidenceBoost < 0 || req.ConfidenceBoost > 30 {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError("confidence_boost must be 0-30"))
		return
	}

	created := req.ID == ""
	if created {
		req.ID = uuid.NewString()
	}

	var prior map[string]any
	if !created {
		snapshot, err := h.repo.GetSnapshot(storage.EntityTypeEntity, req.ID)
		if errors.Is(err, storage.ErrNotFound) {
			created = true
		} else if err != nil {
			h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
			return
		} else {
			prior = snapshot
		}
	}

	entity := &merchant.Entity{
		ID:              req.ID,
		Name:            req.Name,
		Aliases:         req.Aliases,
		DefaultCategory: req.DefaultCategory,
		DefaultKind:     req.DefaultKind,
		Personal:        req.Personal,
		Industry:        req.Industry,
		ConfidenceBoost: req.ConfidenceBoost,
	}
	if err := h.repo.SaveEntity(entity); err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	snapshot, err := h.repo.GetSnapshot(storage.EntityTypeEntity, entity.ID)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	entry := &storage.ChangeLogEntry{
		EntityType: storage.EntityTypeEntity,
		EntityID:   entity.ID,
		New:        snapshot,
	}
	if created {
		entry.Kind = storage.ActionCreate
		entry.Summary = fmt.Sprintf("entity %s created (%s)", entity.ID, entity.Name)
	} else {
		entry.Kind = storage.ActionUpdate
		entry.Prior = prior
		entry.Summary = fmt.Sprintf("entity %s updated (%s)", entity.ID, entity.Name)
	}
	if _, err := h.chlog.Append(entry); err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.WriteJSON(w, status, entity)
}

// Delete handles DELETE /api/entities/{id}.
func (h *EntitiesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	prior, err := h.repo.GetSnapshot(storage.EntityTypeEntity, id)
	if errors.Is(err, storage.ErrNotFound) {
		h.WriteError(w, http.StatusNotFound, dto.NotFoundError("entity"))
		return
	}
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	if err := h.repo.DeleteEntity(id); err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	if _, err := h.chlog.Append(&storage.ChangeLogEntry{
		Kind:       storage.ActionDelete,
		EntityType: storage.EntityTypeEntity,
		EntityID:   id,
		Prior:      prior,
		Summary:    fmt.Sprintf("entity %s deleted", id),
	}); err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.IDResponse{ID: id})
}
