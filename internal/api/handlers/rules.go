package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reckonlabs/reckon/internal/api/dto"
	"github.com/reckonlabs/reckon/internal/application/changelog"
	"github.com/reckonlabs/reckon/internal/domain/rules"
	"github.com/reckonlabs/reckon/internal/infrastructure/storage"
)

// RulesHandler handles rule CRUD through the change log.
type RulesHandler struct {
	*Base
	chlog *changelog.Service
}

// NewRulesHandler creates a new rules handler.
func NewRulesHandler(repo storage.Repository, chlog *changelog.Service) *RulesHandler {
	return &RulesHandler{
		Base:  NewBase(repo),
		chlog: chlog,
	}
}

// List handles GET /api/rules.
func (h *RulesHandler) List(w http.ResponseWriter, r *http.Request) {
	ruleset, err := h.repo.ListRules()
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.NewListResponse(ruleset))
}

// Save handles POST /api/rules - creates or updates a rule. Regex rules
// are rejected up front when the pattern is oversized or does not
// compile, rather than silently never matching.
func (h *RulesHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req dto.SaveRuleRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}
	if req.Pattern == "" {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError("pattern is required"))
		return
	}
	mode := rules.MatchMode(req.Mode)
	if mode == "" {
		mode = rules.ModeContains
	}
	switch mode {
	case rules.ModeContains, rules.ModeEquals:
	case rules.ModeRegex:
		if len(req.Pattern) > rules.MaxPatternLength {
			h.WriteError(w, http.StatusBadRequest,
				dto.ValidationError(fmt.Sprintf("pattern exceeds %d characters", rules.MaxPatternLength)))
			return
		}
		if _, err := regexp.Compile("(?i)" + req.Pattern); err != nil {
			h.WriteError(w, http.StatusBadRequest, dto.ValidationError("pattern does not compile: "+err.Error()))
			return
		}
	default:
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError("mode must be contains, equals or regex"))
		return
	}
	if req.Priority <= 0 {
		req.Priority = 100
	}

	created := req.ID == ""
	if created {
		req.ID = uuid.NewString()
	}

	var prior map[string]any
	var position int
	if !created {
		snapshot, err := h.repo.GetSnapshot(storage.EntityTypeRule, req.ID)
		if errors.Is(err, storage.ErrNotFound) {
			created = true
		} else if err != nil {
			h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
			return
		} else {
			prior = snapshot
			if p, ok := snapshot["position"].(float64); ok {
				position = int(p)
			}
		}
	}

	rule := &rules.Rule{
		ID:       req.ID,
		Pattern:  req.Pattern,
		Mode:     mode,
		Priority: req.Priority,
		Verdict:  rules.Verdict{Kind: req.Kind, Category: req.Category},
		Position: position,
	}
	if err := h.repo.SaveRule(rule); err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	snapshot, err := h.repo.GetSnapshot(storage.EntityTypeRule, rule.ID)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	entry := &storage.ChangeLogEntry{
		EntityType: storage.EntityTypeRule,
		EntityID:   rule.ID,
		New:        snapshot,
	}
	if created {
		entry.Kind = storage.ActionCreate
		entry.Summary = fmt.Sprintf("rule %s created (%s %q)", rule.ID, rule.Mode, rule.Pattern)
	} else {
		entry.Kind = storage.ActionUpdate
		entry.Prior = prior
		entry.Summary = fmt.Sprintf("rule %s updated (%s %q)", rule.ID, rule.Mode, rule.Pattern)
	}
	if _, err := h.chlog.Append(entry); err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.WriteJSON(w, status, rule)
}

// Delete handles DELETE /api/rules/{id}.
func (h *RulesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	prior, err := h.repo.GetSnapshot(storage.EntityTypeRule, id)
	if errors.Is(err, storage.ErrNotFound) {
		h.WriteError(w, http.StatusNotFound, dto.NotFoundError("rule"))
		return
	}
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	if err := h.repo.DeleteRule(id); err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	if _, err := h.chlog.Append(&storage.ChangeLogEntry{
		Kind:       storage.ActionDelete,
		EntityType: storage.EntityTypeRule,
		EntityID:   id,
		Prior:      prior,
		Summary:    fmt.Sprintf("rule %s deleted", id),
	}); err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.IDResponse{ID: id})
}
