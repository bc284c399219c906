package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis_v9 "github.com/redis/go-redis/v9"
)

// RedisRepo caches effective permission sets per user. The cache is an
// optimization only: a miss or a Redis outage falls through to Mongo and
// never changes a decision.
type RedisRepo struct {
	client *redis_v9.Client
	ttl    time.Duration
}

func NewRedisRepo(client *redis_v9.Client, ttl time.Duration) *RedisRepo {
	return &RedisRepo{
		client: client,
		ttl:    ttl,
	}
}

func permissionCacheKey(userID string) string {
	return "access:permissions:" + userID
}

func (r *RedisRepo) GetPermissions(ctx context.Context, userID string) ([]string, bool) {
	if r == nil || r.client == nil {
		return nil, false
	}

	encoded, err := r.client.Get(ctx, permissionCacheKey(userID)).Bytes()
	if err != nil {
		return nil, false
	}

	var permissions []string
	if err := json.Unmarshal(encoded, &permissions); err != nil {
		return nil, false
	}
	return permissions, true
}

func (r *RedisRepo) SetPermissions(ctx context.Context, userID string, permissions []string) error {
	if r == nil || r.client == nil {
		return nil
	}

	encoded, err := json.Marshal(permissions)
	if err != nil {
		return fmt.Errorf("error encoding permission set: %w", err)
	}
	return r.client.Set(ctx, permissionCacheKey(userID), encoded, r.ttl).Err()
}

// InvalidatePermissions drops the cached set after a role mutation.
func (r *RedisRepo) InvalidatePermissions(ctx context.Context, userID string) error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Del(ctx, permissionCacheKey(userID)).Err()
}
