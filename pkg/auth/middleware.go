package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
)

// HeaderAuthorization is the standard HTTP Authorization header name.
const HeaderAuthorization = "Authorization"

// ExtractBearerToken extracts the token from an "Authorization: Bearer ..."
// header value. Returns an empty string if the header is missing, has a
// different scheme, or carries no token.
func ExtractBearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// RequireAuth returns an HTTP middleware that validates the bearer token
// on every request and stores the resulting [UserProfile] in the request
// context.
//
// A missing header or failed validation responds with the validation
// error's HTTP status (401 for the uniform unauthorized error, 503 when
// key material is unavailable). Users without an organization assignment
// are rejected with 403; the token itself is valid, but every data-access
// path requires an organization scope.
func RequireAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			if token == "" {
				writeAuthError(w, kerr.New(kerr.CodeAuthentication, "auth: missing bearer token"))
				return
			}

			profile, err := validator.Validate(r.Context(), token)
			if err != nil {
				writeAuthError(w, err)
				return
			}

			if profile.OrgID == "" {
				writeAuthError(w, kerr.New(kerr.CodeAuthorization, "auth: no organization assigned"))
				return
			}

			ctx := ContextWithProfile(r.Context(), profile)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth returns an HTTP middleware that attaches a [UserProfile] to
// the context when a valid bearer token is present and passes the request
// through unauthenticated otherwise. Handlers decide per-route what an
// absent profile means.
func OptionalAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			if token != "" {
				if profile, err := validator.Validate(r.Context(), token); err == nil {
					r = r.WithContext(ContextWithProfile(r.Context(), profile))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole returns an HTTP middleware that rejects requests whose
// profile carries none of the given roles. Must be mounted downstream of
// [RequireAuth].
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			profile, ok := ProfileFromContext(r.Context())
			if !ok {
				writeAuthError(w, kerr.New(kerr.CodeAuthentication, "auth: missing bearer token"))
				return
			}
			if !profile.HasAnyRole(roles...) {
				writeAuthError(w, kerr.New(kerr.CodeAuthorizationDenied, "auth: insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeAuthError writes a JSON error response using the error's code and
// HTTP status mapping. Non-coded errors fall back to 401.
func writeAuthError(w http.ResponseWriter, err error) {
	code := kerr.GetCode(err)
	status := http.StatusUnauthorized
	message := err.Error()
	if ke, ok := kerr.AsError(err); ok {
		status = ke.HTTPStatus()
		message = ke.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    string(code),
			"message": message,
		},
	})
}
