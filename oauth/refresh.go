// Package oauth keeps the bot's chat credentials alive: a background
// refresher watches the persisted token row and exchanges the refresh token
// before expiry. Checks are jittered so multiple instances sharing one
// database do not stampede the identity provider.
package oauth

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/onnwee/chat-warden/db"
)

// RefreshFunc performs the provider-specific exchange and returns
// (access, refresh, expiry, scope).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// TokenStore reads and writes one token row per provider. DBStore is the
// production implementation; tests use an in-memory one.
type TokenStore interface {
	Get(ctx context.Context, provider string) (access, refresh string, expiry time.Time, scope string, err error)
	Put(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error
}

// DBStore persists tokens through the db package, which encrypts them when
// ENCRYPTION_KEY is configured.
type DBStore struct {
	DB *sql.DB
}

func (s *DBStore) Get(ctx context.Context, provider string) (string, string, time.Time, string, error) {
	return db.GetOAuthToken(ctx, s.DB, provider)
}

func (s *DBStore) Put(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error {
	return db.UpsertOAuthToken(ctx, s.DB, provider, access, refresh, expiry, scope)
}

// StartRefresher launches a goroutine that periodically checks the provider's
// token row and refreshes it when remaining lifetime falls within window.
func StartRefresher(ctx context.Context, store TokenStore, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter of about 20% keeps instances out of sync.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			runOnce(ctx, store, provider, window, fn)
		}
	}()
}

func runOnce(ctx context.Context, store TokenStore, provider string, window time.Duration, fn RefreshFunc) {
	_, rt, exp, scope, err := store.Get(ctx, provider)
	if err != nil {
		slog.Warn("token read failed", slog.String("provider", provider), slog.Any("err", err))
		return
	}
	if rt == "" {
		return
	}
	if time.Until(exp) > window {
		return
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, newScope, err := fn(ctx2, rt)
	cancel()
	if err != nil {
		slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err))
		return
	}
	if newRT == "" {
		newRT = rt
	}
	if newScope == "" {
		newScope = scope
	}
	if err := store.Put(ctx, provider, newAT, newRT, newExp, strings.TrimSpace(newScope)); err != nil {
		slog.Warn("token persist failed", slog.String("provider", provider), slog.Any("err", err))
		return
	}
	slog.Info("token refreshed", slog.String("provider", provider))
}
