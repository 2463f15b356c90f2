package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// contextKey is an unexported type used for context keys in this package.
// Using a distinct type prevents collisions with keys from other packages.
type contextKey int

const (
	// profileKey stores the authenticated UserProfile in the context.
	profileKey contextKey = iota
)

// ContextWithProfile returns a new context with the given UserProfile
// attached. The profile can later be retrieved with [ProfileFromContext].
//
// This is typically called by [RequireAuth] after successfully validating
// a bearer token.
func ContextWithProfile(ctx context.Context, profile *UserProfile) context.Context {
	return context.WithValue(ctx, profileKey, profile)
}

// ProfileFromContext retrieves the UserProfile from the context.
// Returns the profile and true if present, or nil and false if no profile
// has been set. This function never returns a non-nil profile with false.
func ProfileFromContext(ctx context.Context) (*UserProfile, bool) {
	profile, ok := ctx.Value(profileKey).(*UserProfile)
	return profile, ok
}

// MustProfileFromContext retrieves the UserProfile from the context,
// panicking if no profile is present. This should only be used in code
// paths downstream of [RequireAuth], where a profile is guaranteed.
func MustProfileFromContext(ctx context.Context) *UserProfile {
	profile, ok := ProfileFromContext(ctx)
	if !ok {
		panic("auth: no profile in context; ensure authentication middleware is configured")
	}
	return profile
}

// TraceIDFromContext extracts the OpenTelemetry trace ID from the context.
// Returns the trace ID as a hex string and true if a valid trace is active,
// or an empty string and false if no trace is present.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}
