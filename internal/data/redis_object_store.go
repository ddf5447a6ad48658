package data

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quarrylabs/quarry/internal/core"
)

// RedisObjectStore implements the ObjectStore port on Redis. Log batches
// are written under "bucket:path" keys with an optional retention TTL.
type RedisObjectStore struct {
	client    redis.UniversalClient
	retention time.Duration
}

var _ core.ObjectStore = (*RedisObjectStore)(nil)

// NewRedisObjectStore creates a RedisObjectStore. A zero retention keeps
// uploads forever.
func NewRedisObjectStore(client redis.UniversalClient, retention time.Duration) *RedisObjectStore {
	return &RedisObjectStore{client: client, retention: retention}
}

// Upload stores one batch. Callers treat failures as best-effort.
func (s *RedisObjectStore) Upload(ctx context.Context, bucket, path string, data []byte) error {
	key, err := objectKey(bucket, path)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, data, s.retention).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Download retrieves a stored batch, or nil when the key does not exist.
func (s *RedisObjectStore) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	key, err := objectKey(bucket, path)
	if err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func objectKey(bucket, path string) (string, error) {
	if strings.TrimSpace(bucket) == "" {
		return "", errors.New("bucket cannot be empty")
	}
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path cannot be empty")
	}
	return bucket + ":" + path, nil
}
