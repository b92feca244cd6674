package credstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix is the key prefix used when none is configured.
const DefaultKeyPrefix = "authstress"

// RedisStore is a Store backed by one Redis hash per run, so that several
// load generator processes can share a credential pool.
type RedisStore struct {
	client    redis.UniversalClient
	key       string
	ownClient bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithOwnedClient makes Close also close the Redis client.
func WithOwnedClient() RedisOption {
	return func(s *RedisStore) {
		s.ownClient = true
	}
}

// NewRedisStore creates a RedisStore writing to the hash <prefix>:creds:<runID>.
func NewRedisStore(client redis.UniversalClient, prefix, runID string, opts ...RedisOption) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	s := &RedisStore{
		client: client,
		key:    prefix + ":creds:" + runID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the Redis hash key holding the credentials.
func (s *RedisStore) Key() string {
	return s.key
}

// Put inserts the credential with HSETNX.
func (s *RedisStore) Put(ctx context.Context, username, password string) error {
	inserted, err := s.client.HSetNX(ctx, s.key, username, password).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !inserted {
		return ErrDuplicate
	}
	return nil
}

// Get returns the password stored for username.
func (s *RedisStore) Get(ctx context.Context, username string) (string, bool, error) {
	password, err := s.client.HGet(ctx, s.key, username).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return password, true, nil
}

// Len returns the number of stored credentials.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

// Close releases the client when the store owns it. The hash is left in
// place so that other processes sharing the run can finish.
func (s *RedisStore) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}
