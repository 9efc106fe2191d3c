// Package profile looks up counterpart display profiles used to enrich the
// conversation list.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lostfound/messaging/internal/cache"
	"github.com/lostfound/messaging/internal/model"
	"github.com/lostfound/messaging/pkg/logger"
)

// ErrNotFound is returned when no profile exists for a user.
var ErrNotFound = errors.New("profile: not found")

// Provider fetches a user's display profile.
type Provider interface {
	FetchProfile(ctx context.Context, userID string) (*model.Profile, error)
}

// PostgresProvider reads the user_profiles table.
type PostgresProvider struct {
	pool *pgxpool.Pool
}

// NewPostgresProvider creates a provider backed by pool.
func NewPostgresProvider(pool *pgxpool.Pool) *PostgresProvider {
	return &PostgresProvider{pool: pool}
}

func (p *PostgresProvider) FetchProfile(ctx context.Context, userID string) (*model.Profile, error) {
	prof := model.Profile{ID: userID}
	var email, fullName, avatarURL *string
	err := p.pool.QueryRow(ctx, `
		SELECT email, full_name, avatar_url
		FROM user_profiles
		WHERE id = $1
	`, userID).Scan(&email, &fullName, &avatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if email != nil {
		prof.Email = *email
	}
	if fullName != nil {
		prof.FullName = *fullName
	}
	if avatarURL != nil {
		prof.AvatarURL = *avatarURL
	}
	return &prof, nil
}

// StaticProvider serves profiles from memory.
type StaticProvider struct {
	mu       sync.RWMutex
	profiles map[string]model.Profile
}

// NewStaticProvider creates a provider holding the given profiles.
func NewStaticProvider(profiles ...model.Profile) *StaticProvider {
	p := &StaticProvider{profiles: make(map[string]model.Profile, len(profiles))}
	for _, prof := range profiles {
		p.profiles[prof.ID] = prof
	}
	return p
}

// Put adds or replaces a profile.
func (p *StaticProvider) Put(prof model.Profile) {
	p.mu.Lock()
	p.profiles[prof.ID] = prof
	p.mu.Unlock()
}

func (p *StaticProvider) FetchProfile(ctx context.Context, userID string) (*model.Profile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	prof, ok := p.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &prof, nil
}

// Cached is a read-through cache in front of another provider. Cache
// failures are logged and fall through to the inner provider.
type Cached struct {
	inner  Provider
	cache  cache.Cache
	ttl    time.Duration
	logger *logger.Logger
}

// NewCached wraps inner with a cache.
func NewCached(inner Provider, c cache.Cache, ttl time.Duration, log *logger.Logger) *Cached {
	return &Cached{inner: inner, cache: c, ttl: ttl, logger: log}
}

func cacheKey(userID string) string {
	return "profile:" + userID
}

func (c *Cached) FetchProfile(ctx context.Context, userID string) (*model.Profile, error) {
	raw, err := c.cache.Get(ctx, cacheKey(userID))
	switch {
	case err == nil:
		var prof model.Profile
		if jerr := json.Unmarshal([]byte(raw), &prof); jerr == nil {
			return &prof, nil
		}
		c.logger.Warn("discarding undecodable cached profile", zap.String("user_id", userID))
	case !errors.Is(err, cache.ErrMiss):
		c.logger.Warn("profile cache read failed", zap.String("user_id", userID), zap.Error(err))
	}

	prof, err := c.inner.FetchProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(prof); err == nil {
		if err := c.cache.Set(ctx, cacheKey(userID), string(data), c.ttl); err != nil {
			c.logger.Warn("profile cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return prof, nil
}

// Invalidate drops a cached profile.
func (c *Cached) Invalidate(ctx context.Context, userID string) error {
	_, err := c.cache.Del(ctx, cacheKey(userID))
	return err
}
