package handlers

import (
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reckonlabs/reckon/internal/api/dto"
	"github.com/reckonlabs/reckon/internal/application/changelog"
	"github.com/reckonlabs/reckon/internal/infrastructure/storage"
)

// ChangeLogHandler handles change-log queries and undo requests.
type ChangeLogHandler struct {
	*Base
	svc *changelog.Service
}

// NewChangeLogHandler creates a new change-log handler.
func NewChangeLogHandler(repo storage.Repository, svc *changelog.Service) *ChangeLogHandler {
	return &ChangeLogHandler{
		Base: NewBase(repo),
		svc:  svc,
	}
}

// List handles GET /api/changelog with filtering and pagination.
func (h *ChangeLogHandler) List(w http.ResponseWriter, r *http.Request) {
	filters, ok := h.parseFilters(w, r)
	if !ok {
		return
	}

	page, err := h.svc.Query(filters)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	h.WriteJSON(w, http.StatusOK, page)
}

// UndoLast handles POST /api/changelog/undo-last.
func (h *ChangeLogHandler) UndoLast(w http.ResponseWriter, r *http.Request) {
	entry, err := h.svc.UndoLast()
	if errors.Is(err, changelog.ErrEmptyLog) {
		h.WriteError(w, http.StatusConflict, dto.ConflictError("nothing to undo"))
		return
	}
	if errors.Is(err, changelog.ErrTargetMissing) {
		h.WriteError(w, http.StatusConflict, dto.ConflictError("undo target no longer exists"))
		return
	}
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	h.WriteJSON(w, http.StatusOK, entry)
}

// Undo handles POST /api/changelog/{id}/undo.
func (h *ChangeLogHandler) Undo(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError("invalid entry id"))
		return
	}

	entry, err := h.svc.UndoByID(id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.WriteError(w, http.StatusNotFound, dto.NotFoundError("entry"))
		return
	case errors.Is(err, changelog.ErrAlreadyUndone):
		h.WriteError(w, http.StatusConflict, dto.ConflictError("entry already undone"))
		return
	case errors.Is(err, changelog.ErrTargetMissing):
		h.WriteError(w, http.StatusConflict, dto.ConflictError("undo target no longer exists"))
		return
	case err != nil:
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	h.WriteJSON(w, http.StatusOK, entry)
}

// Export handles GET /api/changelog/export - streams the filtered log
// as CSV.
func (h *ChangeLogHandler) Export(w http.ResponseWriter, r *http.Request) {
	filters, ok := h.parseFilters(w, r)
	if !ok {
		return
	}

	rows, err := h.svc.ExportRows(filters)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="changelog.csv"`)
	_ = csv.NewWriter(w).WriteAll(rows)
}

func (h *ChangeLogHandler) parseFilters(w http.ResponseWriter, r *http.Request) (storage.ChangeLogFilters, bool) {
	filters := storage.ChangeLogFilters{
		EntityType: r.URL.Query().Get("entity_type"),
		Kind:       r.URL.Query().Get("kind"),
		Search:     r.URL.Query().Get("search"),
		Page:       ParseIntParam(r, "page", 1),
		PageSize:   ParseIntParam(r, "page_size", 20),
	}

	for name, dst := range map[string]*time.Time{"from": &filters.From, "to": &filters.To} {
		if val := r.URL.Query().Get(name); val != "" {
			parsed, err := time.Parse(time.RFC3339, val)
			if err != nil {
				h.WriteError(w, http.StatusBadRequest, dto.ValidationError(name+" must be RFC3339"))
				return storage.ChangeLogFilters{}, false
			}
			*dst = parsed
		}
	}
	return filters, true
}
