package auth

import (
	"net/http"
	"strings"
	"time"

	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
)

// ---------------------------------------------------------------------------
// Secret type — prevents accidental logging of sensitive values
// ---------------------------------------------------------------------------

// Secret is a string type that redacts its value in String(), GoString(),
// and MarshalText() to prevent accidental exposure in logs, JSON output, or
// fmt.Printf. The actual value is only accessible via the [Secret.Value]
// method, which should be called only where the raw value is truly needed
// (e.g., posting the client secret to the token endpoint).
type Secret string

// secretRedacted is the placeholder text shown instead of the actual secret
// value when the secret is printed, formatted, or serialized.
const secretRedacted = "[REDACTED]"

// String returns the redacted placeholder, preventing the secret from being
// printed via fmt.Println, log.Printf, or similar functions.
func (s Secret) String() string { return secretRedacted }

// GoString returns the redacted placeholder, preventing the secret from
// being printed via fmt.Printf("%#v", secret).
func (s Secret) GoString() string { return secretRedacted }

// Value returns the actual secret string.
func (s Secret) Value() string { return string(s) }

// MarshalText implements [encoding.TextMarshaler], returning the redacted
// placeholder. This prevents the secret from leaking into JSON, YAML, or
// any other text-based serialization format.
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }

// ---------------------------------------------------------------------------
// HTTPClient interface
// ---------------------------------------------------------------------------

// HTTPClient abstracts the HTTP client used for all outbound Keycloak calls
// (discovery, JWKS, token grants, admin API). This allows callers to provide
// custom clients with specific timeouts, transports, or middleware.
//
// The standard [http.Client] satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

// Config holds the Keycloak connection settings for [Service].
type Config struct {
	// BaseURL is the Keycloak server base URL, without a trailing slash
	// (e.g., "https://auth.kijko.nl").
	BaseURL string `json:"base_url" env:"KEYCLOAK_URL" envDefault:"http://keycloak.auth.svc.cluster.local:8080" yaml:"base_url"`

	// Realm is the Keycloak realm holding Kijko users, clients, and keys.
	Realm string `json:"realm" env:"KEYCLOAK_REALM" envDefault:"kijko" yaml:"realm"`

	// ClientID is the OIDC client identifier. Tokens must carry it in
	// their audience, and client-scoped roles are read from
	// resource_access[ClientID].
	ClientID string `json:"client_id" env:"KEYCLOAK_CLIENT_ID" envDefault:"kijko-api" yaml:"client_id"`

	// ClientSecret is the confidential client secret used for the password,
	// refresh, and client-credentials grants. The Secret type prevents
	// accidental logging of the value.
	ClientSecret Secret `json:"-" env:"KEYCLOAK_CLIENT_SECRET" yaml:"-"`

	// JWKSCacheTTL is the time a fetched key set is cached before being
	// refreshed from the provider. Must be non-negative. Defaults to 1 hour;
	// key rotation races within the TTL are handled by the validator's
	// forced-refresh retry, not by shortening this value.
	JWKSCacheTTL time.Duration `json:"jwks_cache_ttl" env:"AUTH_JWKS_CACHE_TTL" envDefault:"1h" yaml:"jwks_cache_ttl"`

	// ClockSkew is the maximum allowed clock difference between this
	// service and Keycloak when checking exp/iat. Must be non-negative.
	ClockSkew time.Duration `json:"clock_skew" env:"AUTH_CLOCK_SKEW" envDefault:"30s" yaml:"clock_skew"`

	// HTTPClient is used for all outbound Keycloak calls. If nil, a default
	// [http.Client] with a 10-second timeout is used; no Keycloak call may
	// block indefinitely.
	HTTPClient HTTPClient `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with defaults for an in-cluster Keycloak
// deployment. The client secret must be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "http://keycloak.auth.svc.cluster.local:8080",
		Realm:        "kijko",
		ClientID:     "kijko-api",
		JWKSCacheTTL: time.Hour,
		ClockSkew:    30 * time.Second,
	}
}

// Validate checks the configuration and returns a *[kerr.Error] with code
// [kerr.CodeValidation] if any field is invalid.
func (c *Config) Validate() *kerr.Error {
	if c.BaseURL == "" {
		return kerr.New(kerr.CodeValidation, "auth: Keycloak base URL must not be empty")
	}
	if c.Realm == "" {
		return kerr.New(kerr.CodeValidation, "auth: Keycloak realm must not be empty")
	}
	if c.ClientID == "" {
		return kerr.New(kerr.CodeValidation, "auth: client ID must not be empty")
	}
	if c.JWKSCacheTTL < 0 {
		return kerr.New(kerr.CodeValidation, "auth: JWKS cache TTL must be non-negative")
	}
	if c.ClockSkew < 0 {
		return kerr.New(kerr.CodeValidation, "auth: clock skew must be non-negative")
	}
	return nil
}

// RealmURL returns the realm base URL, which is also the expected token
// issuer (e.g., "https://auth.kijko.nl/realms/kijko").
func (c *Config) RealmURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/realms/" + c.Realm
}
