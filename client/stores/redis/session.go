// Package redis provides a Redis backed SessionStore, for front-end servers that
// keep one session per browser.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix is prepended to the session id to form the hash key
const KeyPrefix = "realty:session:"

// RedisSessionStore keeps one session record in a Redis hash
type RedisSessionStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	ctx    context.Context
}

// NewRedisSessionStore creates a store for the session with the given id. A
// positive ttl expires the record if it is not saved again within that time.
func NewRedisSessionStore(client *redis.Client, sessionID string, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{
		client: client,
		key:    KeyPrefix + sessionID,
		ttl:    ttl,
		ctx:    context.Background(),
	}
}

// WithContext returns a copy of the store with the given context
func (s *RedisSessionStore) WithContext(ctx context.Context) *RedisSessionStore {
	out := *s
	out.ctx = ctx
	return &out
}

// Key returns the Redis key holding the session
func (s *RedisSessionStore) Key() string {
	return s.key
}

func (s *RedisSessionStore) Get(key string) (string, bool, error) {
	v, err := s.client.HGet(s.ctx, s.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis hget %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisSessionStore) Set(key, value string) error {
	if err := s.client.HSet(s.ctx, s.key, key, value).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", key, err)
	}
	return nil
}

func (s *RedisSessionStore) Remove(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.HDel(s.ctx, s.key, keys...).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

// Save refreshes the expiry. Writes themselves are applied immediately.
func (s *RedisSessionStore) Save() error {
	if s.ttl <= 0 {
		return nil
	}
	if err := s.client.Expire(s.ctx, s.key, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis expire: %w", err)
	}
	return nil
}

// Destroy removes the whole session record
func (s *RedisSessionStore) Destroy() error {
	return s.client.Del(s.ctx, s.key).Err()
}
