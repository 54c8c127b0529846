package credentials

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keysSet    = "api_keys"
	metaPrefix = "api_key_meta:"

	secondsPerDay = 86400
)

// Validator is the credential check consumed by the HTTP layer.
type Validator interface {
	Validate(ctx context.Context, key string) (bool, error)
}

// Meta describes a stored API key.
type Meta struct {
	Owner      string
	CreatedAt  time.Time
	TTLDays    int
	Revoked    bool
	LastUsed   time.Time
	UsageCount int64
}

// Store keeps merchant API keys in Redis: a set of active keys plus a
// metadata hash per key.
type Store struct {
	rdb    redis.UniversalClient
	logger zerolog.Logger
	now    func() time.Time
}

// NewStore constructs a Store.
func NewStore(rdb redis.UniversalClient, logger zerolog.Logger) *Store {
	return &Store{
		rdb:    rdb,
		logger: logger.With().Str("component", "credentials").Logger(),
		now:    time.Now,
	}
}

// Issue mints a new API key for owner, valid for ttlDays.
func (s *Store) Issue(ctx context.Context, owner string, ttlDays int) (string, error) {
	if owner == "" {
		return "", fmt.Errorf("credentials: owner is required")
	}
	if ttlDays <= 0 {
		ttlDays = 365
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("credentials: generate key: %w", err)
	}
	key := base64.RawURLEncoding.EncodeToString(raw)

	now := s.now().Unix()
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, keysSet, key)
		pipe.HSet(ctx, metaPrefix+key, map[string]interface{}{
			"owner":       owner,
			"created_at":  now,
			"ttl_days":    ttlDays,
			"revoked":     "0",
			"last_used":   "0",
			"usage_count": "0",
		})
		pipe.Expire(ctx, metaPrefix+key, time.Duration(ttlDays)*secondsPerDay*time.Second)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("credentials: store key: %w", err)
	}

	s.logger.Info().Str("owner", owner).Int("ttl_days", ttlDays).Msg("issued api key")
	return key, nil
}

// Revoke disables a key immediately.
func (s *Store) Revoke(ctx context.Context, key string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, metaPrefix+key, "revoked", "1")
		pipe.SRem(ctx, keysSet, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("credentials: revoke key: %w", err)
	}

	s.logger.Info().Msg("revoked api key")
	return nil
}

// Validate checks presence, revocation, and lifetime, and records usage.
func (s *Store) Validate(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}

	meta, err := s.rdb.HGetAll(ctx, metaPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("credentials: load key meta: %w", err)
	}
	if len(meta) == 0 {
		return false, nil
	}

	if meta["revoked"] != "0" {
		return false, nil
	}

	created, _ := strconv.ParseInt(meta["created_at"], 10, 64)
	ttlDays, _ := strconv.Atoi(meta["ttl_days"])
	expiresAt := created + int64(ttlDays)*secondsPerDay
	if s.now().Unix() > expiresAt {
		return false, nil
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, metaPrefix+key, "last_used", s.now().Unix())
		pipe.HIncrBy(ctx, metaPrefix+key, "usage_count", 1)
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to record key usage")
	}

	return true, nil
}

// Lookup returns the stored metadata for a key.
func (s *Store) Lookup(ctx context.Context, key string) (Meta, bool, error) {
	raw, err := s.rdb.HGetAll(ctx, metaPrefix+key).Result()
	if err != nil {
		return Meta{}, false, fmt.Errorf("credentials: load key meta: %w", err)
	}
	if len(raw) == 0 {
		return Meta{}, false, nil
	}

	created, _ := strconv.ParseInt(raw["created_at"], 10, 64)
	lastUsed, _ := strconv.ParseInt(raw["last_used"], 10, 64)
	ttlDays, _ := strconv.Atoi(raw["ttl_days"])
	usage, _ := strconv.ParseInt(raw["usage_count"], 10, 64)

	return Meta{
		Owner:      raw["owner"],
		CreatedAt:  time.Unix(created, 0),
		TTLDays:    ttlDays,
		Revoked:    raw["revoked"] != "0",
		LastUsed:   time.Unix(lastUsed, 0),
		UsageCount: usage,
	}, true, nil
}

var _ Validator = (*Store)(nil)
