package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kijko-dev/kijko-api/internal/queue"
	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
	"github.com/kijko-dev/kijko-api/pkg/models"
)

type reflexRequest struct {
	SkillID    string         `json:"skill_id"`
	Name       string         `json:"name"`
	EventType  string         `json:"event_type"`
	Conditions map[string]any `json:"conditions"`
}

func (h *handlers) listReflexes(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	page, err := h.Reflexes.List(r.Context(), p.OrgID, parsePage(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (h *handlers) createReflex(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	var req reflexRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}

	if _, err := h.Skills.Get(r.Context(), p.OrgID, req.SkillID); err != nil {
		h.respondError(w, err)
		return
	}

	reflex, err := models.NewReflex(p.OrgID, p.ID, req.SkillID, req.Name, req.EventType, req.Conditions)
	if err != nil {
		h.respondError(w, kerr.Wrap(err, kerr.CodeValidation, "api: invalid reflex"))
		return
	}
	if err := h.Reflexes.Create(r.Context(), reflex); err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, reflex)
}

func (h *handlers) getReflex(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	reflex, err := h.Reflexes.Get(r.Context(), p.OrgID, chi.URLParam(r, "reflexID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, reflex)
}

func (h *handlers) updateReflex(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	current, err := h.Reflexes.Get(r.Context(), p.OrgID, chi.URLParam(r, "reflexID"))
	if err != nil {
		h.respondError(w, err)
		return
	}

	var req reflexRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if req.Name != "" {
		current.Name = req.Name
	}
	if req.EventType != "" {
		current.EventType = req.EventType
	}
	if req.Conditions != nil {
		current.Conditions = req.Conditions
	}

	updated, err := h.Reflexes.Update(r.Context(), p.OrgID, current)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, updated)
}

func (h *handlers) deleteReflex(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	if err := h.Reflexes.Delete(r.Context(), p.OrgID, chi.URLParam(r, "reflexID")); err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, models.Message{Message: "reflex deleted"})
}

func (h *handlers) toggleReflex(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	var req toggleRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	reflex, err := h.Reflexes.Toggle(r.Context(), p.OrgID, chi.URLParam(r, "reflexID"), req.Enabled)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, reflex)
}

type testReflexRequest struct {
	Event map[string]any `json:"event"`
}

type testReflexResponse struct {
	Matches bool `json:"matches"`
}

// testReflex dry-runs the condition match against a sample event without
// firing anything.
func (h *handlers) testReflex(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	reflex, err := h.Reflexes.Get(r.Context(), p.OrgID, chi.URLParam(r, "reflexID"))
	if err != nil {
		h.respondError(w, err)
		return
	}

	var req testReflexRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, testReflexResponse{Matches: reflex.Matches(req.Event)})
}

type webhookInfoResponse struct {
	URL       string `json:"url"`
	EventType string `json:"event_type"`
}

// webhookInfo returns the delivery URL callers configure in the event
// source. The token inside it is the sole credential.
func (h *handlers) webhookInfo(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	reflex, err := h.Reflexes.Get(r.Context(), p.OrgID, chi.URLParam(r, "reflexID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, webhookInfoResponse{
		URL:       strings.TrimRight(h.PublicBaseURL, "/") + "/api/v1/webhooks/" + reflex.WebhookToken,
		EventType: reflex.EventType,
	})
}

func (h *handlers) reflexStats(w http.ResponseWriter, r *http.Request) {
	p := profile(r)
	stats, err := h.Reflexes.Stats(r.Context(), p.OrgID, chi.URLParam(r, "reflexID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, stats)
}

// maxWebhookBody caps webhook delivery bodies at 1 MiB.
const maxWebhookBody = 1 << 20

// receiveWebhook accepts an event delivery and queues the reflex firing.
// Unknown tokens get 404 with no further detail; condition evaluation
// happens in the worker. Event sources retry deliveries, so a repeat of
// an already accepted body is answered with the original task instead of
// firing the reflex again.
func (h *handlers) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	reflex, err := h.Reflexes.SystemGetByWebhookToken(r.Context(), token)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !reflex.Enabled {
		h.respondError(w, kerr.New(kerr.CodeValidation, "api: reflex is disabled"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.respondError(w, kerr.Wrap(err, kerr.CodeValidationFormat, "api: unreadable request body"))
		return
	}
	var event map[string]any
	if err := json.Unmarshal(body, &event); err != nil {
		h.respondError(w, kerr.Wrap(err, kerr.CodeValidationFormat, "api: invalid JSON body"))
		return
	}

	if h.Deduper != nil {
		if taskID, seen := h.Deduper.Seen(r.Context(), token, body); seen {
			respond(w, http.StatusAccepted, executeSkillResponse{TaskID: taskID, Status: "duplicate"})
			return
		}
	}

	taskID, err := h.Queue.EnqueueReflexTrigger(r.Context(), queue.ReflexProcessPayload{
		ReflexID: reflex.ID,
		Event:    event,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	if h.Deduper != nil {
		h.Deduper.Mark(r.Context(), token, body, taskID)
	}
	respond(w, http.StatusAccepted, executeSkillResponse{TaskID: taskID, Status: "queued"})
}
