// Package guard implements Redis-backed request guards: a fixed-window
// rate limiter for login attempts and deduplication of webhook
// deliveries. Both guards fail open when Redis is unreachable, so a
// cache outage can never lock users out or drop webhook events.
package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
)

// Cache is the Redis surface the guards use. Satisfied by
// *redis.Client from pkg/clients/redis.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
}

const (
	// DefaultLoginAttempts is how many login attempts a single account
	// gets per window before further attempts are rejected.
	DefaultLoginAttempts = 10

	// DefaultLoginWindow is the fixed window the attempt counter lives for.
	DefaultLoginWindow = 15 * time.Minute

	// DefaultDedupWindow is how long an accepted webhook delivery is
	// remembered for duplicate suppression.
	DefaultDedupWindow = 5 * time.Minute
)

// LoginLimiter throttles login attempts per account using a fixed-window
// counter in Redis. A successful login resets the window so legitimate
// users are never held back by their own typos.
type LoginLimiter struct {
	cache  Cache
	max    int64
	window time.Duration
	logger *slog.Logger
}

// NewLoginLimiter builds a limiter. Non-positive maxAttempts or window
// fall back to the defaults.
func NewLoginLimiter(cache Cache, maxAttempts int, window time.Duration, logger *slog.Logger) *LoginLimiter {
	if maxAttempts <= 0 {
		maxAttempts = DefaultLoginAttempts
	}
	if window <= 0 {
		window = DefaultLoginWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginLimiter{cache: cache, max: int64(maxAttempts), window: window, logger: logger}
}

// Allow counts one attempt for the account and returns a coded error
// once the window's budget is spent. Cache failures are logged and the
// attempt is allowed.
func (l *LoginLimiter) Allow(ctx context.Context, email string) error {
	key := loginKey(email)
	count, err := l.cache.Incr(ctx, key)
	if err != nil {
		l.logger.Warn("login limiter unavailable, allowing attempt",
			slog.String("error", err.Error()))
		return nil
	}
	if count == 1 {
		if _, err := l.cache.Expire(ctx, key, l.window); err != nil {
			l.logger.Warn("login limiter window not set",
				slog.String("error", err.Error()))
		}
	}
	if count <= l.max {
		return nil
	}

	retry := l.window
	if ttl, err := l.cache.TTL(ctx, key); err == nil && ttl > 0 {
		retry = ttl
	}
	return kerr.Newf(kerr.CodeUnavailableOverloaded,
		"guard: too many login attempts, retry in %s", retry.Round(time.Second))
}

// Reset clears the account's attempt counter after a successful login.
func (l *LoginLimiter) Reset(ctx context.Context, email string) {
	if _, err := l.cache.Del(ctx, loginKey(email)); err != nil {
		l.logger.Warn("login limiter reset failed",
			slog.String("error", err.Error()))
	}
}

func loginKey(email string) string {
	return "guard:login:" + strings.ToLower(strings.TrimSpace(email))
}

// WebhookDeduper suppresses duplicate webhook deliveries. Event sources
// retry on slow responses, so an identical body arriving on the same
// token within the window is answered with the originally queued task
// instead of firing the reflex again.
type WebhookDeduper struct {
	cache  Cache
	window time.Duration
	logger *slog.Logger
}

// NewWebhookDeduper builds a deduper. A non-positive window falls back
// to [DefaultDedupWindow].
func NewWebhookDeduper(cache Cache, window time.Duration, logger *slog.Logger) *WebhookDeduper {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookDeduper{cache: cache, window: window, logger: logger}
}

// Seen reports whether an identical delivery was already accepted within
// the window, returning the task ID recorded for it. Cache failures are
// logged and the delivery is treated as new.
func (d *WebhookDeduper) Seen(ctx context.Context, token string, body []byte) (string, bool) {
	taskID, err := d.cache.Get(ctx, deliveryKey(token, body))
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			d.logger.Warn("webhook dedup unavailable, accepting delivery",
				slog.String("error", err.Error()))
		}
		return "", false
	}
	return taskID, true
}

// Mark records an accepted delivery and the task it queued, so repeats
// within the window replay the same task ID.
func (d *WebhookDeduper) Mark(ctx context.Context, token string, body []byte, taskID string) {
	if err := d.cache.Set(ctx, deliveryKey(token, body), taskID, d.window); err != nil {
		d.logger.Warn("webhook delivery not recorded for dedup",
			slog.String("error", err.Error()))
	}
}

func deliveryKey(token string, body []byte) string {
	sum := sha256.Sum256(body)
	return "guard:webhook:" + token + ":" + hex.EncodeToString(sum[:16])
}
