package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
)

// ---------------------------------------------------------------------------
// keyCache — caches the realm's JWKS public keys
// ---------------------------------------------------------------------------

// keyCache caches the realm's public signing keys fetched from the JWKS
// endpoint. A fetched set is served for the configured TTL; a failed
// refresh keeps the previous set so transient provider outages do not take
// down token validation. Only when the cache has never been populated and
// the endpoint is unreachable does Keys return an error.
//
// The mutex guards only the cached entry, never a network fetch. Concurrent
// refreshes are allowed and harmless: each successful fetch replaces the
// set wholesale.
type keyCache struct {
	mu        sync.RWMutex
	keys      map[string]any // kid -> *rsa.PublicKey or *ecdsa.PublicKey
	fetchedAt time.Time

	ttl    time.Duration
	client HTTPClient

	// jwksURL returns the current JWKS endpoint, so the cache follows a
	// late-succeeding discovery without holding a reference to the Service.
	jwksURL func() string
}

// newKeyCache creates a key cache with the given TTL, HTTP client, and
// JWKS URL source.
func newKeyCache(ttl time.Duration, client HTTPClient, jwksURL func() string) *keyCache {
	return &keyCache{
		ttl:     ttl,
		client:  client,
		jwksURL: jwksURL,
	}
}

// Keys returns the current key set, keyed by kid. A cached set within its
// TTL is returned without network access unless forceRefresh is true. On a
// failed fetch the stale set is returned when one exists; with no set at
// all a *[kerr.Error] with code [kerr.CodeUnavailableDependency] is
// returned.
//
// The returned map must not be mutated by callers.
func (c *keyCache) Keys(ctx context.Context, forceRefresh bool) (map[string]any, error) {
	c.mu.RLock()
	cached := c.keys
	fresh := cached != nil && time.Since(c.fetchedAt) < c.ttl
	c.mu.RUnlock()

	if fresh && !forceRefresh {
		return cached, nil
	}

	fetched, err := c.fetch(ctx)
	if err != nil {
		if cached != nil {
			// Serve the stale set; rotation races are handled by the
			// validator's forced-refresh retry.
			return cached, nil
		}
		return nil, kerr.Wrap(err, kerr.CodeUnavailableDependency, "auth: signing keys unavailable")
	}

	c.mu.Lock()
	c.keys = fetched
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return fetched, nil
}

// jwksResponse represents the JSON structure of a JWKS endpoint response.
type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

// jwkKey represents a single key in a JWKS response. Only the fields
// needed for RSA and EC key reconstruction are included.
type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	// RSA fields
	N string `json:"n"`
	E string `json:"e"`
	// EC fields
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// fetch makes an HTTP GET request to the JWKS endpoint, parses the
// response, and constructs a map of key ID to public key. Supports RSA and
// ECDSA (P-256, P-384, P-521) key types.
//
// The response body is limited to 1 MB to prevent resource exhaustion.
func (c *keyCache) fetch(ctx context.Context) (map[string]any, error) {
	url := c.jwksURL()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to create JWKS request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: JWKS request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("auth: failed to read JWKS response: %w", err)
	}

	var jwks jwksResponse
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, fmt.Errorf("auth: failed to parse JWKS JSON: %w", err)
	}

	keys := make(map[string]any, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kid == "" {
			continue
		}
		switch k.Kty {
		case "RSA":
			pubKey, err := parseRSAPublicKey(k.N, k.E)
			if err != nil {
				continue // Skip malformed keys.
			}
			keys[k.Kid] = pubKey
		case "EC":
			pubKey, err := parseECPublicKey(k.Crv, k.X, k.Y)
			if err != nil {
				continue // Skip malformed keys.
			}
			keys[k.Kid] = pubKey
		}
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("auth: JWKS response from %s contained no usable keys", url)
	}
	return keys, nil
}

// parseRSAPublicKey constructs an *rsa.PublicKey from base64url-encoded
// modulus (n) and exponent (e) values.
func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	// Converting the exponent to int would silently truncate oversized
	// values into a wrong key; treat anything that does not fit in 31
	// bits as malformed.
	if e.Sign() <= 0 || e.BitLen() > 31 {
		return nil, fmt.Errorf("auth: RSA exponent out of range")
	}

	return &rsa.PublicKey{
		N: n,
		E: int(e.Int64()),
	}, nil
}

// parseECPublicKey constructs an *ecdsa.PublicKey from a curve name and
// base64url-encoded x and y coordinates.
func parseECPublicKey(crv, xBase64, yBase64 string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("auth: unsupported EC curve %q", crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(xBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode EC x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode EC y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
