package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the OpenTelemetry instrumentation scope name for auth spans.
const tracerName = "github.com/kijko-dev/kijko-api/pkg/auth"

// ---------------------------------------------------------------------------
// ProviderEndpoints — resolved Keycloak endpoint URLs
// ---------------------------------------------------------------------------

// ProviderEndpoints holds the resolved Keycloak endpoint URLs for a realm.
// A complete set is always derivable from the realm URL alone, so the
// zero-dependency construction in [defaultEndpoints] works without any
// network access; [Service.Discover] upgrades it with the provider's
// published values when the discovery document is reachable.
type ProviderEndpoints struct {
	// Authorization is the OAuth authorization endpoint, used to build
	// browser redirect URLs for identity brokering.
	Authorization string `json:"authorization_endpoint"`

	// Token is the token endpoint handling all grant types.
	Token string `json:"token_endpoint"`

	// Userinfo is the OIDC userinfo endpoint.
	Userinfo string `json:"userinfo_endpoint"`

	// EndSession is the logout endpoint.
	EndSession string `json:"end_session_endpoint"`

	// JWKS is the JSON Web Key Set endpoint holding the realm's public
	// signing keys.
	JWKS string `json:"jwks_uri"`

	// Admin is the realm admin API base URL. Not part of OIDC discovery;
	// always derived from configuration.
	Admin string `json:"-"`
}

// defaultEndpoints derives the standard Keycloak endpoint layout from the
// realm URL. These are correct for any stock Keycloak deployment.
func defaultEndpoints(cfg *Config) ProviderEndpoints {
	realm := cfg.RealmURL()
	oidc := realm + "/protocol/openid-connect"
	return ProviderEndpoints{
		Authorization: oidc + "/auth",
		Token:         oidc + "/token",
		Userinfo:      oidc + "/userinfo",
		EndSession:    oidc + "/logout",
		JWKS:          oidc + "/certs",
		Admin:         strings.TrimRight(cfg.BaseURL, "/") + "/admin/realms/" + cfg.Realm,
	}
}

// ---------------------------------------------------------------------------
// Service — the Keycloak auth service
// ---------------------------------------------------------------------------

// Service is the Keycloak-backed authentication service. It validates
// access tokens against the realm's JWKS, performs token grants on behalf
// of users, and talks to the admin API for registration.
//
// Construct with [NewService]; the zero value is not usable. Service holds
// no global state, so multiple instances with different configurations can
// coexist (e.g., in tests). Service is safe for concurrent use by multiple
// goroutines.
type Service struct {
	config Config
	tracer trace.Tracer
	logger *slog.Logger
	client HTTPClient
	keys   *keyCache

	// endpoints starts as the derived defaults and is replaced wholesale
	// by Discover on a successful discovery fetch. Guarded by endpointsMu;
	// never partially written.
	endpointsMu sync.RWMutex
	endpoints   ProviderEndpoints
	discovered  bool
}

// Compile-time assertion that Service implements TokenValidator.
var _ TokenValidator = (*Service)(nil)

// NewService creates a Service with the given configuration. The
// configuration is validated before use; an error is returned if it is
// invalid.
//
// If cfg.HTTPClient is nil, a default [http.Client] with a 10-second
// timeout is used. If logger is nil, [slog.Default] is used. No network
// calls are made here; call [Service.Discover] during startup to refresh
// the endpoint set from the provider.
func NewService(cfg Config, logger *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		config:    cfg,
		tracer:    otel.Tracer(tracerName),
		logger:    logger,
		client:    cfg.HTTPClient,
		endpoints: defaultEndpoints(&cfg),
	}
	s.keys = newKeyCache(cfg.JWKSCacheTTL, cfg.HTTPClient, s.jwksURL)
	return s, nil
}

// Endpoints returns the current endpoint set. The returned value is a copy.
func (s *Service) Endpoints() ProviderEndpoints {
	s.endpointsMu.RLock()
	defer s.endpointsMu.RUnlock()
	return s.endpoints
}

// jwksURL returns the current JWKS endpoint. Passed to the key cache so
// that a later successful discovery is picked up by subsequent fetches.
func (s *Service) jwksURL() string {
	s.endpointsMu.RLock()
	defer s.endpointsMu.RUnlock()
	return s.endpoints.JWKS
}

// Discover fetches the realm's .well-known/openid-configuration document
// and replaces the derived endpoint defaults with the provider's published
// values. Discovery is best-effort: on failure the current endpoints are
// kept unchanged, a warning is logged, and no error is returned so startup
// can proceed. A successful discovery is memoized; later calls return
// immediately.
//
// The endpoint set is only ever replaced as a whole. A malformed or partial
// discovery document never leaves the service with a mix of discovered and
// default URLs.
func (s *Service) Discover(ctx context.Context) {
	s.endpointsMu.RLock()
	done := s.discovered
	s.endpointsMu.RUnlock()
	if done {
		return
	}

	ctx, span := startSpan(ctx, s.tracer, "auth.Discover")
	defer span.End()
	span.SetAttributes(attribute.String("auth.realm", s.config.Realm))

	discovered, err := fetchOIDCDiscovery(ctx, s.config.RealmURL(), s.client)
	if err != nil {
		finishSpan(span, err)
		s.logger.Warn("OIDC discovery failed, using derived endpoint defaults",
			"realm", s.config.Realm,
			"error", err)
		return
	}

	eps := ProviderEndpoints{
		Authorization: discovered.AuthorizationEndpoint,
		Token:         discovered.TokenEndpoint,
		Userinfo:      discovered.UserinfoEndpoint,
		EndSession:    discovered.EndSessionEndpoint,
		JWKS:          discovered.JWKSURI,
		Admin:         strings.TrimRight(s.config.BaseURL, "/") + "/admin/realms/" + s.config.Realm,
	}
	// Fill any field the provider omitted from the derived defaults so the
	// set stays complete.
	defaults := defaultEndpoints(&s.config)
	if eps.Authorization == "" {
		eps.Authorization = defaults.Authorization
	}
	if eps.Token == "" {
		eps.Token = defaults.Token
	}
	if eps.Userinfo == "" {
		eps.Userinfo = defaults.Userinfo
	}
	if eps.EndSession == "" {
		eps.EndSession = defaults.EndSession
	}
	if eps.JWKS == "" {
		eps.JWKS = defaults.JWKS
	}

	s.endpointsMu.Lock()
	s.endpoints = eps
	s.discovered = true
	s.endpointsMu.Unlock()

	s.logger.Info("OIDC discovery complete", "realm", s.config.Realm)
}

// oidcDiscoveryResponse represents the relevant fields from a realm's
// .well-known/openid-configuration document.
type oidcDiscoveryResponse struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// fetchOIDCDiscovery fetches the OIDC discovery document from the realm's
// .well-known/openid-configuration endpoint and returns the parsed response.
//
// The response body is limited to 1 MB to prevent resource exhaustion.
func fetchOIDCDiscovery(ctx context.Context, realmURL string, client HTTPClient) (*oidcDiscoveryResponse, error) {
	discoveryURL := strings.TrimRight(realmURL, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to create OIDC discovery request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: OIDC discovery request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: OIDC discovery endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("auth: failed to read OIDC discovery response: %w", err)
	}

	var discovery oidcDiscoveryResponse
	if err := json.Unmarshal(body, &discovery); err != nil {
		return nil, fmt.Errorf("auth: failed to parse OIDC discovery JSON: %w", err)
	}

	if discovery.JWKSURI == "" {
		return nil, fmt.Errorf("auth: OIDC discovery document missing jwks_uri")
	}

	return &discovery, nil
}

// startSpan creates a new OpenTelemetry span with the given name. Returns
// the updated context and span.
func startSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// finishSpan records an error on the span if err is non-nil and sets the
// span status to Error.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}
