package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taxigate/internal/config"
	"taxigate/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "taxigate:page:"

func pageKey(view models.View, page, limit int) string {
	return fmt.Sprintf("%s%s:%d:%d", keyPrefix, view, page, limit)
}

// RedisPageCache keeps backend pages in Redis so a restarted process can
// serve its first reads without waiting on the backend.
type RedisPageCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient builds a Redis client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisPageCache(client *redis.Client, ttl time.Duration) *RedisPageCache {
	return &RedisPageCache{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisPageCache) GetPage(ctx context.Context, view models.View, page, limit int) (*models.Page, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, pageKey(view, page, limit)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page from redis: %w", err)
	}

	var p models.Page
	if err := json.Unmarshal(val, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal page: %w", err)
	}
	return &p, nil
}

func (r *RedisPageCache) SetPage(ctx context.Context, view models.View, page, limit int, p *models.Page) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal page: %w", err)
	}
	if err := r.client.Set(ctx, pageKey(view, page, limit), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set page in redis: %w", err)
	}
	return nil
}

// InvalidateView deletes every cached page of view.
func (r *RedisPageCache) InvalidateView(ctx context.Context, view models.View) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	iter := r.client.Scan(ctx, 0, keyPrefix+string(view)+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan pages: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete pages from redis: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis client; nil is allowed.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
