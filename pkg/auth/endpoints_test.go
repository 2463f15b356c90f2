package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEndpointsDerivedFromRealm(t *testing.T) {
	t.Parallel()

	cfg := Config{
		BaseURL:      "https://auth.kijko.nl/",
		Realm:        "kijko",
		ClientID:     "kijko-api",
		JWKSCacheTTL: time.Hour,
	}
	eps := defaultEndpoints(&cfg)

	assert.Equal(t, "https://auth.kijko.nl/realms/kijko/protocol/openid-connect/token", eps.Token)
	assert.Equal(t, "https://auth.kijko.nl/realms/kijko/protocol/openid-connect/certs", eps.JWKS)
	assert.Equal(t, "https://auth.kijko.nl/realms/kijko/protocol/openid-connect/auth", eps.Authorization)
	assert.Equal(t, "https://auth.kijko.nl/realms/kijko/protocol/openid-connect/logout", eps.EndSession)
	assert.Equal(t, "https://auth.kijko.nl/admin/realms/kijko", eps.Admin)
}

// newDiscoveryService builds a Service pointed at an httptest server that
// handles the discovery path itself.
func newDiscoveryService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := Config{
		BaseURL:      server.URL,
		Realm:        "kijko",
		ClientID:     "kijko-api",
		JWKSCacheTTL: time.Hour,
		HTTPClient:   http.DefaultClient,
	}
	svc, err := NewService(cfg, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	require.NoError(t, err)
	return svc
}

func TestDiscoverReplacesEndpointsOnSuccess(t *testing.T) {
	t.Parallel()

	svc := newDiscoveryService(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/.well-known/openid-configuration") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"token_endpoint":         "https://discovered/token",
			"authorization_endpoint": "https://discovered/auth",
			"userinfo_endpoint":      "https://discovered/userinfo",
			"end_session_endpoint":   "https://discovered/logout",
			"jwks_uri":               "https://discovered/certs",
		})
	})

	svc.Discover(context.Background())

	eps := svc.Endpoints()
	assert.Equal(t, "https://discovered/token", eps.Token)
	assert.Equal(t, "https://discovered/certs", eps.JWKS)
	assert.Equal(t, "https://discovered/logout", eps.EndSession)
}

func TestDiscoverKeepsDefaultsOnFailure(t *testing.T) {
	t.Parallel()

	svc := newDiscoveryService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	before := svc.Endpoints()

	svc.Discover(context.Background())

	assert.Equal(t, before, svc.Endpoints(), "failed discovery must leave endpoints untouched")
}

func TestDiscoverMemoizedAfterSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	svc := newDiscoveryService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"token_endpoint": "https://discovered/token",
			"jwks_uri":       "https://discovered/certs",
		})
	})

	svc.Discover(context.Background())
	svc.Discover(context.Background())
	svc.Discover(context.Background())

	assert.Equal(t, int64(1), calls.Load(), "successful discovery must be memoized")
}

func TestDiscoverRetriesAfterFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	var failing atomic.Bool
	failing.Store(true)
	svc := newDiscoveryService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"token_endpoint": "https://discovered/token",
			"jwks_uri":       "https://discovered/certs",
		})
	})

	svc.Discover(context.Background())
	assert.Equal(t, int64(1), calls.Load())

	failing.Store(false)
	svc.Discover(context.Background())
	assert.Equal(t, int64(2), calls.Load(), "failure must not be memoized")
	assert.Equal(t, "https://discovered/token", svc.Endpoints().Token)
}

func TestDiscoverFillsOmittedFieldsFromDefaults(t *testing.T) {
	t.Parallel()

	svc := newDiscoveryService(t, func(w http.ResponseWriter, r *http.Request) {
		// A minimal document: only the JWKS URI is published.
		_ = json.NewEncoder(w).Encode(map[string]string{
			"jwks_uri": "https://discovered/certs",
		})
	})
	defaults := svc.Endpoints()

	svc.Discover(context.Background())

	eps := svc.Endpoints()
	assert.Equal(t, "https://discovered/certs", eps.JWKS)
	assert.Equal(t, defaults.Token, eps.Token, "omitted fields keep their derived defaults")
	assert.Equal(t, defaults.Authorization, eps.Authorization)
}
