package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kijko-dev/kijko-api/internal/llm"
	"github.com/kijko-dev/kijko-api/internal/queue"
	"github.com/kijko-dev/kijko-api/internal/store"
	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
	"github.com/kijko-dev/kijko-api/pkg/models"
)

type skillRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Prompt      string   `json:"prompt"`
	Model       string   `json:"model"`
	Tags        []string `json:"tags"`
	Enabled     *bool    `json:"enabled"`
}

func (h *handlers) listSkills(w http.ResponseWriter, r *http.Request) {
	p := profile(r)

	filter := store.SkillFilter{
		Tag:    r.URL.Query().Get("tag"),
		Search: r.URL.Query().Get("search"),
	}
	if v := r.URL.Query().Get("enabled"); v != "" {
		enabled := v == "true"
		filter.Enabled = &enabled
	}

	page, err := h.Skills.List(r.Context(), p.OrgID, filter, parsePage(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (h *handlers) createSkill(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	var req skillRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	skill, err := models.NewSkill(p.OrgID, p.ID, req.Name, req.Prompt)
	if err != nil {
		h.respondError(w, kerr.Wrap(err, kerr.CodeValidation, "api: invalid skill"))
		return
	}
	skill.Description = req.Description
	skill.Tags = req.Tags
	if req.Model != "" {
		skill.Model = req.Model
	}
	if req.Enabled != nil {
		skill.Enabled = *req.Enabled
	}

	if err := h.Skills.Create(r.Context(), skill); err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, skill)
}

func (h *handlers) getSkill(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	skill, err := h.Skills.Get(r.Context(), p.OrgID, chi.URLParam(r, "skillID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, skill)
}

func (h *handlers) updateSkill(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	current, err := h.Skills.Get(r.Context(), p.OrgID, chi.URLParam(r, "skillID"))
	if err != nil {
		h.respondError(w, err)
		return
	}

	var req skillRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if req.Name != "" {
		current.Name = req.Name
	}
	if req.Description != "" {
		current.Description = req.Description
	}
	if req.Prompt != "" {
		current.Prompt = req.Prompt
	}
	if req.Model != "" {
		current.Model = req.Model
	}
	if req.Tags != nil {
		current.Tags = req.Tags
	}
	if req.Enabled != nil {
		current.Enabled = *req.Enabled
	}
	if err := current.Validate(); err != nil {
		h.respondError(w, kerr.Wrap(err, kerr.CodeValidation, "api: invalid skill"))
		return
	}

	updated, err := h.Skills.Update(r.Context(), p.OrgID, current)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, updated)
}

func (h *handlers) deleteSkill(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	if err := h.Skills.Delete(r.Context(), p.OrgID, chi.URLParam(r, "skillID")); err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, models.Message{Message: "skill deleted"})
}

type executeSkillRequest struct {
	Input map[string]any `json:"input"`
}

type executeSkillResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// executeSkill queues an asynchronous run; the execution record appears
// once the worker finishes.
func (h *handlers) executeSkill(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	skillID := chi.URLParam(r, "skillID")

	skill, err := h.Skills.Get(r.Context(), p.OrgID, skillID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !skill.Enabled {
		h.respondError(w, kerr.New(kerr.CodeValidation, "api: skill is disabled"))
		return
	}

	var req executeSkillRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	taskID, err := h.Queue.EnqueueSkillExecution(r.Context(), queue.SkillExecutePayload{
		SkillID: skill.ID,
		OrgID:   p.OrgID,
		UserID:  p.ID,
		Input:   req.Input,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusAccepted, executeSkillResponse{TaskID: taskID, Status: "queued"})
}

type testSkillRequest struct {
	Prompt string         `json:"prompt"`
	Model  string         `json:"model"`
	Input  map[string]any `json:"input"`
}

type testSkillResponse struct {
	Output     string `json:"output"`
	TokensUsed int    `json:"tokens_used"`
}

// testSkill runs a prompt synchronously without persisting anything, for
// the skill editor's dry-run button.
func (h *handlers) testSkill(w http.ResponseWriter, r *http.Request) {
	var req testSkillRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if req.Prompt == "" {
		h.respondError(w, kerr.New(kerr.CodeValidationRequired, "api: prompt is required"))
		return
	}
	model := req.Model
	if model == "" {
		model = models.DefaultModel
	}

	result, err := h.LLM.Complete(r.Context(), model, llm.RenderPrompt(req.Prompt, req.Input), llm.Params{})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, testSkillResponse{
		Output:     result.Output,
		TokensUsed: result.Usage.Total(),
	})
}

type bulkSkillRequest struct {
	IDs    []string               `json:"ids"`
	Action models.SkillBulkAction `json:"action"`
}

type bulkSkillResponse struct {
	Affected int64 `json:"affected"`
}

func (h *handlers) bulkSkillAction(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	var req bulkSkillRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if len(req.IDs) == 0 {
		h.respondError(w, kerr.New(kerr.CodeValidationRequired, "api: ids are required"))
		return
	}

	affected, err := h.Skills.BulkAction(r.Context(), p.OrgID, req.IDs, req.Action)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, bulkSkillResponse{Affected: affected})
}

// exportSkill returns one skill in the portable import format.
func (h *handlers) exportSkill(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	skill, err := h.Skills.Get(r.Context(), p.OrgID, chi.URLParam(r, "skillID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, skillRequest{
		Name:        skill.Name,
		Description: skill.Description,
		Prompt:      skill.Prompt,
		Model:       skill.Model,
		Tags:        skill.Tags,
	})
}

// importSkill creates a skill from the export format.
func (h *handlers) importSkill(w http.ResponseWriter, r *http.Request) {
	h.createSkill(w, r)
}
