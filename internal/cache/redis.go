package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/photoshare/backend/internal/assets"
)

// RedisStore keeps each user's cache document under a single key.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore builds a Redis-backed cache.
func NewRedisStore(addr, password, prefix string) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	}), prefix)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string) *RedisStore {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "photoshare:cache"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + ":" + userID
}

// Get returns the cached records for userID in display order.
func (s *RedisStore) Get(ctx context.Context, userID string) ([]assets.Record, error) {
	data, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis cache: get %s: %w", userID, err)
	}
	return decode(data)
}

// Put replaces the cached records for userID.
func (s *RedisStore) Put(ctx context.Context, userID string, records []assets.Record) error {
	data, err := encode(records)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(userID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis cache: set %s: %w", userID, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
