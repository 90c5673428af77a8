package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/resilink/internal/infra/storage"
)

// QueueStore implements storage.Store as one Redis hash per namespace.
type QueueStore struct {
	rdb       *redis.Client
	namespace string
}

// NewQueueStore creates a Redis-backed store for the request queue.
func NewQueueStore(client *Client, namespace string) *QueueStore {
	return &QueueStore{
		rdb:       client.rdb,
		namespace: namespace,
	}
}

func (s *QueueStore) hashKey() string {
	return fmt.Sprintf("resilink:queue:%s", s.namespace)
}

func (s *QueueStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.HGet(ctx, s.hashKey(), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hget failed: %w", err)
	}
	return data, nil
}

func (s *QueueStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.HSet(ctx, s.hashKey(), key, value).Err(); err != nil {
		return fmt.Errorf("hset failed: %w", err)
	}
	return nil
}

func (s *QueueStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.HDel(ctx, s.hashKey(), key).Err(); err != nil {
		return fmt.Errorf("hdel failed: %w", err)
	}
	return nil
}

func (s *QueueStore) List(ctx context.Context) (map[string][]byte, error) {
	all, err := s.rdb.HGetAll(ctx, s.hashKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall failed: %w", err)
	}
	out := make(map[string][]byte, len(all))
	for k, v := range all {
		out[k] = []byte(v)
	}
	return out, nil
}

// Clear drops the whole hash with a single DEL.
func (s *QueueStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.hashKey()).Err(); err != nil {
		return fmt.Errorf("del failed: %w", err)
	}
	return nil
}

var (
	_ storage.Store   = (*QueueStore)(nil)
	_ storage.Clearer = (*QueueStore)(nil)
)
