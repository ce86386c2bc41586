package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitrise-io/go-multipart/upload"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces the state keys.
const DefaultRedisPrefix = "multipart:state:"

// RedisStore keeps states as JSON strings in Redis. Keys expire after the TTL,
// which should not outlive the provider's cleanup of incomplete uploads.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration // zero means no expiry
}

// NewRedisStore creates a store on client. An empty prefix defaults to DefaultRedisPrefix.
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Save stores the state under key, replacing any previous one and resetting its expiry.
func (s *RedisStore) Save(ctx context.Context, key string, state *upload.State) error {
	data, err := state.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Load reads the state stored under key, or returns ErrNotFound.
func (s *RedisStore) Load(ctx context.Context, key string) (*upload.State, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decode(data)
}

// Delete removes the state stored under key. Deleting a missing state is not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
