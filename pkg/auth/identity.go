// Package auth provides Keycloak OIDC authentication for the Kijko platform:
// token validation with JWKS key-rotation resilience, claim normalization
// into a canonical user profile, HTTP middleware that gates data-access
// requests, and clients for the Keycloak token and admin endpoints.
//
// Token Validation:
//
// Access tokens are RS256 JWTs issued by a Keycloak realm. The [Service]
// verifies signature, issuer, audience, and expiry against a cached JWKS.
// Keys are cached with a TTL and force-refreshed once when verification
// fails, so tokens signed with a freshly rotated key keep validating without
// a network round-trip on every request. All verification failures surface
// as one uniform unauthorized error; callers cannot distinguish an expired
// token from a forged one.
//
// Claim Normalization:
//
// Keycloak scatters identity data across top-level claims, realm_access,
// and resource_access. [NormalizeClaims] folds these into a [UserProfile]
// with a deduplicated role set and Keycloak's internal bookkeeping roles
// filtered out.
package auth

import (
	"context"
	"slices"
)

// UserProfile is the canonical identity derived from a validated access
// token. It is computed fresh on every validation call and never cached
// or persisted.
//
// ID is always non-empty when validation succeeds. OrgID may be empty for
// users without an organization assignment; rejecting such users is the
// responsibility of [RequireAuth], not the validator.
type UserProfile struct {
	// ID is the user's unique identifier (the token's "sub" claim).
	ID string `json:"id"`

	// Email is the user's email address, or empty if not present.
	Email string `json:"email"`

	// EmailVerified reports whether Keycloak has verified the email.
	EmailVerified bool `json:"email_verified"`

	// FirstName is the user's given name ("given_name" claim).
	FirstName string `json:"first_name"`

	// LastName is the user's family name ("family_name" claim).
	LastName string `json:"last_name"`

	// PreferredUsername is the Keycloak login name.
	PreferredUsername string `json:"preferred_username"`

	// OrgID is the user's organization identifier, read from the "org_id"
	// claim with a fallback to the legacy "organization_id" claim. Empty
	// when neither claim is present.
	OrgID string `json:"org_id"`

	// Roles is the deduplicated union of realm-wide roles and client-scoped
	// roles, with Keycloak bookkeeping roles removed.
	Roles []string `json:"roles"`
}

// HasRole reports whether the profile carries the given role.
func (p *UserProfile) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// HasAnyRole reports whether the profile carries at least one of the
// given roles. Returns false when roles is empty.
func (p *UserProfile) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}

// TokenValidator validates bearer tokens and returns the canonical identity
// they represent. [Service] is the production implementation; tests provide
// fakes.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type TokenValidator interface {
	// Validate verifies the given access token and returns the UserProfile
	// it represents. All verification failures are reported uniformly with
	// error code AUTH_001; the only other failure mode is UNAVAIL_002 when
	// no key material can be obtained at all.
	Validate(ctx context.Context, token string) (*UserProfile, error)
}
