package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"

	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
)

// maxTokenSize is the maximum accepted size for a JWT token string (8 KB).
// Tokens larger than this are rejected to prevent resource exhaustion.
const maxTokenSize = 8192

// errUnauthorized builds the single unauthorized error every verification
// failure collapses into. Callers cannot distinguish an expired token from
// a forged one, an unknown kid, or a wrong audience; the specific cause is
// recorded on the trace span only.
func errUnauthorized() *kerr.Error {
	return kerr.New(kerr.CodeAuthentication, "auth: invalid or expired token")
}

// Validate verifies the given access token and returns the [UserProfile]
// it represents.
//
// Verification requires an RS256 signature by one of the realm's published
// keys, issuer equal to the realm URL, an audience containing the client
// ID, and valid exp/iat within the configured clock skew. Verification is
// attempted with the cached key set first; on any failure the keys are
// force-refreshed and verification retried exactly once, so a token signed
// with a freshly rotated key validates without callers ever seeing the
// rotation.
//
// All verification failures return a *[kerr.Error] with code
// [kerr.CodeAuthentication] and an identical message. The only other
// failure mode is [kerr.CodeUnavailableDependency] when no key material
// can be obtained at all. A missing organization claim is not a failure;
// gating on OrgID belongs to [RequireOrg].
func (s *Service) Validate(ctx context.Context, tokenStr string) (*UserProfile, error) {
	ctx, span := startSpan(ctx, s.tracer, "auth.Validate")
	defer span.End()

	if tokenStr == "" || len(tokenStr) > maxTokenSize {
		err := errUnauthorized()
		finishSpan(span, err)
		return nil, err
	}

	profile, err := s.verify(ctx, tokenStr, false)
	if err != nil {
		// Any failure may be a key rotation race; refresh once and retry.
		span.SetAttributes(attribute.Bool("auth.key_refresh_retry", true))
		profile, err = s.verify(ctx, tokenStr, true)
	}
	if err != nil {
		finishSpan(span, err)
		if kerr.HasCode(err, kerr.CodeUnavailableDependency) {
			return nil, err
		}
		return nil, errUnauthorized()
	}

	span.SetAttributes(attribute.String("auth.user_id", profile.ID))
	return profile, nil
}

// verify runs one verification attempt against the current key set.
func (s *Service) verify(ctx context.Context, tokenStr string, forceRefresh bool) (*UserProfile, error) {
	keys, err := s.keys.Keys(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("auth: token header missing kid")
		}
		key, exists := keys[kid]
		if !exists {
			return nil, fmt.Errorf("auth: key ID %q not found in key set", kid)
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(s.config.RealmURL()),
		jwt.WithAudience(s.config.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.config.ClockSkew),
	)
	if err != nil {
		return nil, err
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: unable to extract token claims")
	}

	profile := NormalizeClaims(mapClaimsToMap(mc), s.config.ClientID)
	if profile.ID == "" {
		return nil, fmt.Errorf("auth: token missing sub claim")
	}
	return profile, nil
}

// mapClaimsToMap converts jwt.MapClaims to a plain map[string]any so the
// claims can be passed on without carrying the jwt.MapClaims type.
func mapClaimsToMap(mc jwt.MapClaims) map[string]any {
	result := make(map[string]any, len(mc))
	for k, v := range mc {
		result[k] = v
	}
	return result
}
