package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the whole per-tenant preference record as one JSON value.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(tenantKey string) string {
	return "voxbridge:prefs:" + tenantKey
}

func (s *RedisStore) Load(ctx context.Context, tenantKey string) (map[string]string, error) {
	data, err := s.client.Get(ctx, redisKey(tenantKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant record: %w", err)
	}

	prefs := make(map[string]string)
	if err := json.Unmarshal(data, &prefs); err != nil {
		return nil, fmt.Errorf("decode tenant record: %w", err)
	}
	return prefs, nil
}

func (s *RedisStore) Store(ctx context.Context, tenantKey string, prefs map[string]string) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode tenant record: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(tenantKey), data, 0).Err(); err != nil {
		return fmt.Errorf("store tenant record: %w", err)
	}
	return nil
}
