package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
	"github.com/kijko-dev/kijko-api/pkg/models"
)

type projectRequest struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Status      models.ProjectStatus `json:"status"`
}

func (h *handlers) listProjects(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	page, err := h.Projects.List(r.Context(), p.OrgID, parsePage(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (h *handlers) createProject(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	var req projectRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	project, err := models.NewProject(p.OrgID, p.ID, req.Name, req.Description)
	if err != nil {
		h.respondError(w, kerr.Wrap(err, kerr.CodeValidation, "api: invalid project"))
		return
	}
	if err := h.Projects.Create(r.Context(), project, p.Email); err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, project)
}

func (h *handlers) getProject(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	project, err := h.Projects.Get(r.Context(), p.OrgID, chi.URLParam(r, "projectID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, project)
}

func (h *handlers) updateProject(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	current, err := h.Projects.Get(r.Context(), p.OrgID, chi.URLParam(r, "projectID"))
	if err != nil {
		h.respondError(w, err)
		return
	}

	var req projectRequest
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
	if req.Status != "" {
		current.Status = req.Status
	}

	updated, err := h.Projects.Update(r.Context(), p.OrgID, current)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, updated)
}

func (h *handlers) deleteProject(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	if err := h.Projects.Delete(r.Context(), p.OrgID, chi.URLParam(r, "projectID")); err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, models.Message{Message: "project deleted"})
}

type validateNameRequest struct {
	Name string `json:"name"`
}

type validateNameResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// validateProjectName checks the name rules without creating anything, so
// the creation form can validate as the user types.
func (h *handlers) validateProjectName(w http.ResponseWriter, r *http.Request) {
	var req validateNameRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	probe := models.Project{OrgID: "probe", OwnerID: "probe", Name: req.Name, Status: models.ProjectStatusActive}
	if err := probe.Validate(); err != nil {
		respond(w, http.StatusOK, validateNameResponse{Valid: false, Error: err.Error()})
		return
	}
	respond(w, http.StatusOK, validateNameResponse{Valid: true})
}

type validateRepositoryRequest struct {
	URL string `json:"url"`
}

type validateRepositoryResponse struct {
	Valid    bool   `json:"valid"`
	Provider string `json:"provider,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (h *handlers) validateRepositoryURL(w http.ResponseWriter, r *http.Request) {
	var req validateRepositoryRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	provider, err := models.ValidateRepositoryURL(req.URL)
	if err != nil {
		respond(w, http.StatusOK, validateRepositoryResponse{Valid: false, Error: err.Error()})
		return
	}
	respond(w, http.StatusOK, validateRepositoryResponse{Valid: true, Provider: provider})
}

type addRepositoryRequest struct {
	URL           string `json:"url"`
	DefaultBranch string `json:"default_branch"`
}

func (h *handlers) listRepositories(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	repos, err := h.Projects.ListRepositories(r.Context(), p.OrgID, chi.URLParam(r, "projectID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	if repos == nil {
		repos = []models.Repository{}
	}
	respond(w, http.StatusOK, repos)
}

func (h *handlers) addRepository(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	var req addRepositoryRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	repo, err := h.Projects.AddRepository(r.Context(), p.OrgID, chi.URLParam(r, "projectID"), req.URL, req.DefaultBranch)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, repo)
}

func (h *handlers) removeRepository(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	err := h.Projects.RemoveRepository(r.Context(), p.OrgID, chi.URLParam(r, "projectID"), chi.URLParam(r, "repoID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, models.Message{Message: "repository removed"})
}

type addMemberRequest struct {
	UserID string            `json:"user_id"`
	Email  string            `json:"email"`
	Role   models.MemberRole `json:"role"`
}

func (h *handlers) listMembers(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	members, err := h.Projects.ListMembers(r.Context(), p.OrgID, chi.URLParam(r, "projectID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	if members == nil {
		members = []models.Member{}
	}
	respond(w, http.StatusOK, members)
}

func (h *handlers) addMember(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	var req addMemberRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if req.UserID == "" {
		h.respondError(w, kerr.New(kerr.CodeValidationRequired, "api: user_id is required"))
		return
	}

	member := &models.Member{
		UserID:    req.UserID,
		Email:     req.Email,
		Role:      req.Role,
		InvitedAt: time.Now().UTC(),
	}
	if err := h.Projects.AddMember(r.Context(), p.OrgID, chi.URLParam(r, "projectID"), member); err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, member)
}

func (h *handlers) removeMember(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	err := h.Projects.RemoveMember(r.Context(), p.OrgID, chi.URLParam(r, "projectID"), chi.URLParam(r, "userID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, models.Message{Message: "member removed"})
}

type bulkInviteRequest struct {
	Members []addMemberRequest `json:"members"`
}

type bulkInviteResponse struct {
	Invited int      `json:"invited"`
	Failed  []string `json:"failed,omitempty"`
}

// bulkInvite adds several members in one call. Individual failures are
// reported back instead of aborting the batch.
func (h *handlers) bulkInvite(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	projectID := chi.URLParam(r, "projectID")

	var req bulkInviteRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if len(req.Members) == 0 {
		h.respondError(w, kerr.New(kerr.CodeValidationRequired, "api: members are required"))
		return
	}

	resp := bulkInviteResponse{}
	now := time.Now().UTC()
	for _, m := range req.Members {
		member := &models.Member{UserID: m.UserID, Email: m.Email, Role: m.Role, InvitedAt: now}
		if err := h.Projects.AddMember(r.Context(), p.OrgID, projectID, member); err != nil {
			resp.Failed = append(resp.Failed, m.UserID)
			continue
		}
		resp.Invited++
	}
	respond(w, http.StatusOK, resp)
}

func (h *handlers) ingestionProgress(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	progress, err := h.Projects.IngestionProgress(r.Context(), p.OrgID, chi.URLParam(r, "projectID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, progress)
}

func (h *handlers) listFiles(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	page, err := h.Projects.ListFiles(r.Context(), p.OrgID, chi.URLParam(r, "projectID"), parsePage(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, page)
}
