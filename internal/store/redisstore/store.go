package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/voice-tutor/internal/auth"
)

const (
	identityPrefix = "vt:identity:"
	loginPrefix    = "vt:login:"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) GetIdentity(ctx context.Context, tokenHash string) (*auth.Identity, error) {
	raw, err := s.rdb.Get(ctx, identityPrefix+tokenHash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var id auth.Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		// a mangled entry is a miss
		_ = s.rdb.Del(ctx, identityPrefix+tokenHash).Err()
		return nil, nil
	}
	return &id, nil
}

func (s *Store) SetIdentity(ctx context.Context, tokenHash string, id auth.Identity, ttl time.Duration) error {
	b, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, identityPrefix+tokenHash, b, ttl).Err()
}

func (s *Store) DeleteIdentity(ctx context.Context, tokenHashes ...string) error {
	if len(tokenHashes) == 0 {
		return nil
	}
	keys := make([]string, len(tokenHashes))
	for i, h := range tokenHashes {
		keys[i] = identityPrefix + h
	}
	return s.rdb.Del(ctx, keys...).Err()
}

// IncrWithExpire bumps a counter and rearms its expiry window.
func (s *Store) IncrWithExpire(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// LoginAttempt counts one login attempt from ip inside the window.
func (s *Store) LoginAttempt(ctx context.Context, ip string, window time.Duration) (int64, error) {
	return s.IncrWithExpire(ctx, loginPrefix+ip, window)
}

// ResetLoginAttempts clears the counter after a successful login.
func (s *Store) ResetLoginAttempts(ctx context.Context, ip string) error {
	return s.rdb.Del(ctx, loginPrefix+ip).Err()
}

var _ auth.IdentityCache = (*Store)(nil)
