package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mindhaven/telehealth-scheduling/internal/availability"
)

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	templates, err := h.avail.ListActiveTemplates(r.Context(), actor.ID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	out := make([]TemplateResponse, len(templates))
	for i := range templates {
		out[i] = toTemplateResponse(&templates[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": out})
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	var req CreateTemplateRequest
	if !h.decode(w, r, &req) {
		return
	}

	days := make([]time.Weekday, len(req.DaysOfWeek))
	for i, d := range req.DaysOfWeek {
		days[i] = time.Weekday(d)
	}

	tpl, err := h.avail.CreateTemplate(r.Context(), actor.ID, days, req.StartTime, req.EndTime)
	if err != nil {
		h.handleTemplateError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTemplateResponse(tpl))
}

func (h *Handler) deactivateTemplate(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	id, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_template_id", "id query parameter must be a valid UUID")
		return
	}

	if err := h.avail.DeactivateTemplate(r.Context(), id, actor.ID); err != nil {
		h.handleTemplateError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deactivated": id})
}

func (h *Handler) handleTemplateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, availability.ErrInvalidTimeFormat),
		errors.Is(err, availability.ErrInvalidTimeRange),
		errors.Is(err, availability.ErrNoDaysGiven):
		writeError(w, http.StatusBadRequest, "invalid_template", err.Error())
	case errors.Is(err, availability.ErrTemplateOverlap):
		writeError(w, http.StatusBadRequest, "template_overlap", err.Error())
	case errors.Is(err, availability.ErrTemplateNotFound):
		writeError(w, http.StatusNotFound, "template_not_found", err.Error())
	default:
		h.internalError(w, r, err)
	}
}
