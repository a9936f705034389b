// Package sessionstore provides the external-cache Store implementation
// (§6.4: "pluggable between in-memory (dev) and external cache (prod)").
// It is kept separate from package session so that the core data model has
// no dependency on a concrete cache client.
package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/screenverify/engine/internal/session"
)

// RedisStore backs session.Store with an external cache, using native key
// TTL for the 24h eviction horizon (§6.4).
type RedisStore struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisStore connects to the cache at url (a redis:// URL) and returns a
// session.Store backed by it.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return &RedisStore{client: client, ctx: context.Background()}, nil
}

func key(token string) string { return "screenverify:session:" + token }

func (s *RedisStore) Get(token string) (*session.State, bool, error) {
	data, err := s.client.Get(s.ctx, key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sessionstore: get %s: %w", token, err)
	}
	state, err := session.Unmarshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("sessionstore: decode %s: %w", token, err)
	}
	return state, true, nil
}

func (s *RedisStore) Set(token string, state *session.State, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = session.DefaultTTL
	}
	data, err := session.Marshal(state)
	if err != nil {
		return fmt.Errorf("sessionstore: encode %s: %w", token, err)
	}
	if err := s.client.Set(s.ctx, key(token), data, ttl).Err(); err != nil {
		return fmt.Errorf("sessionstore: set %s: %w", token, err)
	}
	return nil
}

func (s *RedisStore) Delete(token string) error {
	if err := s.client.Del(s.ctx, key(token)).Err(); err != nil {
		return fmt.Errorf("sessionstore: delete %s: %w", token, err)
	}
	return nil
}

func (s *RedisStore) Quit() error { return s.client.Close() }
