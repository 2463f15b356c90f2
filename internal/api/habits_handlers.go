package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kijko-dev/kijko-api/internal/schedule"
	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
	"github.com/kijko-dev/kijko-api/pkg/models"
)

type habitRequest struct {
	SkillID  string         `json:"skill_id"`
	Name     string         `json:"name"`
	Schedule string         `json:"schedule"`
	Timezone string         `json:"timezone"`
	Input    map[string]any `json:"input"`
}

func (h *handlers) listHabits(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	page, err := h.Habits.List(r.Context(), p.OrgID, parsePage(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (h *handlers) createHabit(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	var req habitRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	// The linked skill must exist in this organization.
	if _, err := h.Skills.Get(r.Context(), p.OrgID, req.SkillID); err != nil {
		h.respondError(w, err)
		return
	}

	habit, err := models.NewHabit(p.OrgID, p.ID, req.SkillID, req.Name, req.Schedule)
	if err != nil {
		h.respondError(w, kerr.Wrap(err, kerr.CodeValidation, "api: invalid habit"))
		return
	}
	habit.Timezone = req.Timezone
	habit.Input = req.Input

	if err := h.Habits.Create(r.Context(), habit); err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, habit)
}

func (h *handlers) getHabit(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	habit, err := h.Habits.Get(r.Context(), p.OrgID, chi.URLParam(r, "habitID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, habit)
}

func (h *handlers) updateHabit(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	current, err := h.Habits.Get(r.Context(), p.OrgID, chi.URLParam(r, "habitID"))
	if err != nil {
		h.respondError(w, err)
		return
	}

	var req habitRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if req.Name != "" {
		current.Name = req.Name
	}
	if req.Schedule != "" {
		current.Schedule = req.Schedule
	}
	if req.Timezone != "" {
		current.Timezone = req.Timezone
	}
	if req.Input != nil {
		current.Input = req.Input
	}

	updated, err := h.Habits.Update(r.Context(), p.OrgID, current)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, updated)
}

func (h *handlers) deleteHabit(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	if err := h.Habits.Delete(r.Context(), p.OrgID, chi.URLParam(r, "habitID")); err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, models.Message{Message: "habit deleted"})
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *handlers) toggleHabit(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	var req toggleRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	habit, err := h.Habits.Toggle(r.Context(), p.OrgID, chi.URLParam(r, "habitID"), req.Enabled)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, habit)
}

func (h *handlers) habitStats(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	stats, err := h.Habits.Stats(r.Context(), p.OrgID, chi.URLParam(r, "habitID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, stats)
}

type validateCronRequest struct {
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone"`
}

type validateCronResponse struct {
	Valid    bool        `json:"valid"`
	Error    string      `json:"error,omitempty"`
	NextRuns []time.Time `json:"next_runs,omitempty"`
}

// validateCron checks a cron expression and previews its next few runs,
// for the habit editor.
func (h *handlers) validateCron(w http.ResponseWriter, r *http.Request) {
	var req validateCronRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	next, err := schedule.Describe(req.Schedule, req.Timezone, time.Now(), 3)
	if err != nil {
		respond(w, http.StatusOK, validateCronResponse{Valid: false, Error: err.Error()})
		return
	}
	respond(w, http.StatusOK, validateCronResponse{Valid: true, NextRuns: next})
}
