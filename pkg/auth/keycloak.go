package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
)

// ---------------------------------------------------------------------------
// Token endpoint — grants
// ---------------------------------------------------------------------------

// TokenResponse is the token endpoint's response to a successful grant.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in,omitempty"`
}

// Authenticate performs a resource-owner password grant for the given user
// credentials. Invalid credentials return [kerr.CodeAuthentication]; an
// unreachable provider returns [kerr.CodeUnavailableDependency].
func (s *Service) Authenticate(ctx context.Context, username, password string) (*TokenResponse, error) {
	ctx, span := startSpan(ctx, s.tracer, "auth.Authenticate")
	defer span.End()

	form := url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
	}
	tok, err := s.tokenGrant(ctx, form)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	return tok, nil
}

// RefreshToken exchanges a refresh token for a fresh token pair. An
// expired or revoked refresh token returns [kerr.CodeAuthentication].
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	ctx, span := startSpan(ctx, s.tracer, "auth.RefreshToken")
	defer span.End()

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	tok, err := s.tokenGrant(ctx, form)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	return tok, nil
}

// ExchangeCode exchanges an OAuth authorization code for tokens. Used by
// the identity-brokering callback after the user returns from an external
// provider.
func (s *Service) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	ctx, span := startSpan(ctx, s.tracer, "auth.ExchangeCode")
	defer span.End()

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}
	tok, err := s.tokenGrant(ctx, form)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	return tok, nil
}

// clientCredentialsToken obtains a service-account access token for the
// configured client. Used for admin API calls.
func (s *Service) clientCredentialsToken(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type": {"client_credentials"},
	}
	tok, err := s.tokenGrant(ctx, form)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// tokenGrant posts a form to the token endpoint with client credentials
// attached and decodes the response. 4xx responses map to
// [kerr.CodeAuthentication]; transport and 5xx failures map to
// [kerr.CodeUnavailableDependency].
func (s *Service) tokenGrant(ctx context.Context, form url.Values) (*TokenResponse, error) {
	form.Set("client_id", s.config.ClientID)
	if secret := s.config.ClientSecret.Value(); secret != "" {
		form.Set("client_secret", secret)
	}

	endpoint := s.Endpoints().Token
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeInternal, "auth: failed to create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeUnavailableDependency, "auth: token endpoint unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeUnavailableDependency, "auth: failed to read token response")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The provider's error detail (invalid_grant etc.) is not exposed
		// to callers.
		return nil, kerr.New(kerr.CodeAuthentication, "auth: authentication failed")
	default:
		return nil, kerr.Newf(kerr.CodeUnavailableDependency, "auth: token endpoint returned status %d", resp.StatusCode)
	}

	var tok TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, kerr.Wrap(err, kerr.CodeUnavailableDependency, "auth: failed to parse token response")
	}
	if tok.AccessToken == "" {
		return nil, kerr.New(kerr.CodeUnavailableDependency, "auth: token response missing access token")
	}
	return &tok, nil
}

// ---------------------------------------------------------------------------
// Logout
// ---------------------------------------------------------------------------

// Logout revokes the given refresh token at the provider's logout endpoint.
// Revocation is best-effort: failures are logged and swallowed, since the
// client discards its tokens regardless and access tokens age out on their
// own.
func (s *Service) Logout(ctx context.Context, refreshToken string) {
	ctx, span := startSpan(ctx, s.tracer, "auth.Logout")
	defer span.End()

	form := url.Values{
		"client_id":     {s.config.ClientID},
		"refresh_token": {refreshToken},
	}
	if secret := s.config.ClientSecret.Value(); secret != "" {
		form.Set("client_secret", secret)
	}

	endpoint := s.Endpoints().EndSession
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		finishSpan(span, err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		finishSpan(span, err)
		s.logger.Warn("logout revocation failed", "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		s.logger.Warn("logout revocation rejected", "status", resp.StatusCode)
	}
}

// ---------------------------------------------------------------------------
// User registration — admin API
// ---------------------------------------------------------------------------

// RegisterRequest holds the fields for creating a realm user.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Validate checks the registration fields.
func (r *RegisterRequest) Validate() *kerr.Error {
	if r.Email == "" {
		return kerr.New(kerr.CodeValidationRequired, "auth: email is required")
	}
	if len(r.Password) < 8 {
		return kerr.New(kerr.CodeValidation, "auth: password must be at least 8 characters")
	}
	return nil
}

// RegisterUser creates a realm user through the admin API using the
// service account's client-credentials token, then logs the new user in
// and returns their first token pair. A duplicate email returns
// [kerr.CodeConflictAlreadyExists].
func (s *Service) RegisterUser(ctx context.Context, reg RegisterRequest) (*TokenResponse, error) {
	ctx, span := startSpan(ctx, s.tracer, "auth.RegisterUser")
	defer span.End()

	if err := reg.Validate(); err != nil {
		finishSpan(span, err)
		return nil, err
	}

	adminToken, err := s.clientCredentialsToken(ctx)
	if err != nil {
		wrapped := kerr.Wrap(err, kerr.CodeUnavailableDependency, "auth: failed to obtain admin token")
		finishSpan(span, wrapped)
		return nil, wrapped
	}

	// Keycloak admin user representation. Email doubles as the username
	// and the account is enabled immediately.
	payload := map[string]any{
		"username":      reg.Email,
		"email":         reg.Email,
		"firstName":     reg.FirstName,
		"lastName":      reg.LastName,
		"enabled":       true,
		"emailVerified": false,
		"credentials": []map[string]any{{
			"type":      "password",
			"value":     reg.Password,
			"temporary": false,
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		wrapped := kerr.Wrap(err, kerr.CodeInternal, "auth: failed to encode user representation")
		finishSpan(span, wrapped)
		return nil, wrapped
	}

	usersURL := s.Endpoints().Admin + "/users"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, usersURL, bytes.NewReader(body))
	if err != nil {
		wrapped := kerr.Wrap(err, kerr.CodeInternal, "auth: failed to create admin request")
		finishSpan(span, wrapped)
		return nil, wrapped
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)

	resp, err := s.client.Do(req)
	if err != nil {
		wrapped := kerr.Wrap(err, kerr.CodeUnavailableDependency, "auth: admin API unreachable")
		finishSpan(span, wrapped)
		return nil, wrapped
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
	case http.StatusConflict:
		err := kerr.New(kerr.CodeConflictAlreadyExists, "auth: a user with this email already exists")
		finishSpan(span, err)
		return nil, err
	default:
		err := kerr.Newf(kerr.CodeUnavailableDependency, "auth: admin API returned status %d", resp.StatusCode)
		finishSpan(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Bool("auth.user_created", true))

	// Log the new user in so registration returns a usable session.
	return s.Authenticate(ctx, reg.Email, reg.Password)
}

// ---------------------------------------------------------------------------
// OAuth identity brokering
// ---------------------------------------------------------------------------

// OAuthRedirectURL builds the authorization URL that sends a browser
// through Keycloak to the named external identity provider (e.g., "google",
// "github"). The kc_idp_hint parameter makes Keycloak skip its own login
// form and forward straight to the broker. Pure URL construction; no
// network access.
func (s *Service) OAuthRedirectURL(provider, redirectURI, state string) string {
	q := url.Values{
		"client_id":     {s.config.ClientID},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"redirect_uri":  {redirectURI},
		"kc_idp_hint":   {provider},
	}
	if state != "" {
		q.Set("state", state)
	}
	return s.Endpoints().Authorization + "?" + q.Encode()
}
