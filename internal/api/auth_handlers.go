package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kijko-dev/kijko-api/pkg/auth"
	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
	"github.com/kijko-dev/kijko-api/pkg/models"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *handlers) signup(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	tokens, err := h.Auth.RegisterUser(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, tokens)
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		h.respondError(w, kerr.New(kerr.CodeValidationRequired, "api: email and password are required"))
		return
	}
	if h.Limiter != nil {
		if err := h.Limiter.Allow(r.Context(), req.Email); err != nil {
			h.respondError(w, err)
			return
		}
	}
	tokens, err := h.Auth.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if h.Limiter != nil {
		h.Limiter.Reset(r.Context(), req.Email)
	}
	respond(w, http.StatusOK, tokens)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if req.RefreshToken == "" {
		h.respondError(w, kerr.New(kerr.CodeValidationRequired, "api: refresh_token is required"))
		return
	}
	tokens, err := h.Auth.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, tokens)
}

// logout revokes the session best-effort; the response is always a
// success so clients can drop tokens unconditionally.
func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if req.RefreshToken != "" {
		h.Auth.Logout(r.Context(), req.RefreshToken)
	}
	respond(w, http.StatusOK, models.Message{Message: "logged out"})
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, profile(r))
}

type oauthRedirectResponse struct {
	URL string `json:"url"`
}

func (h *handlers) oauthRedirect(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	redirectURI := r.URL.Query().Get("redirect_uri")
	state := r.URL.Query().Get("state")
	if redirectURI == "" {
		h.respondError(w, kerr.New(kerr.CodeValidationRequired, "api: redirect_uri is required"))
		return
	}
	respond(w, http.StatusOK, oauthRedirectResponse{
		URL: h.Auth.OAuthRedirectURL(provider, redirectURI, state),
	})
}

type oauthCallbackRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

func (h *handlers) oauthCallback(w http.ResponseWriter, r *http.Request) {
	var req oauthCallbackRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if req.Code == "" || req.RedirectURI == "" {
		h.respondError(w, kerr.New(kerr.CodeValidationRequired, "api: code and redirect_uri are required"))
		return
	}
	tokens, err := h.Auth.ExchangeCode(r.Context(), req.Code, req.RedirectURI)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond(w, http.StatusOK, tokens)
}
