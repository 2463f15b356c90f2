package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kijko-dev/kijko-api/internal/store"
	"github.com/kijko-dev/kijko-api/pkg/models"
)

func (h *handlers) listExecutions(w http.ResponseWriter, r *http.Request) {
	p := profile(r)

	filter := store.ExecutionFilter{
		SkillID: r.URL.Query().Get("skill_id"),
		Status:  models.ExecutionStatus(r.URL.Query().Get("status")),
		Trigger: models.TriggerType(r.URL.Query().Get("trigger_type")),
	}
	since, err := parseSince(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	filter.Since = since

	page, err := h.Executions.List(r.Context(), p.OrgID, filter, parsePage(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (h *handlers) getExecution(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	e, err := h.Executions.Get(r.Context(), p.OrgID, chi.URLParam(r, "executionID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, e)
}

func (h *handlers) executionStats(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	since, err := parseSince(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	stats, err := h.Executions.Stats(r.Context(), p.OrgID, since)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, stats)
}

func (h *handlers) executionStatsBySkill(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	since, err := parseSince(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	stats, err := h.Executions.StatsBySkill(r.Context(), p.OrgID, since)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if stats == nil {
		stats = []store.SkillUsage{}
	}
	respond(w, http.StatusOK, stats)
}

func (h *handlers) executionStatsByPeriod(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	since, err := parseSince(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	stats, err := h.Executions.StatsByPeriod(r.Context(), p.OrgID, since)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if stats == nil {
		stats = []store.PeriodUsage{}
	}
	respond(w, http.StatusOK, stats)
}
