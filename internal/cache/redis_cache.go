package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/charlzpiarro/update/internal/domain"
)

const generationKey = "inventory:generation"

type RedisInventoryCache struct {
	client *redis.Client
}

func NewRedisInventoryCache(addr string, password string, db int) *RedisInventoryCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisInventoryCache{client: client}
}

func (c *RedisInventoryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisInventoryCache) Close() error {
	return c.client.Close()
}

func (c *RedisInventoryCache) Get(ctx context.Context, key string) (*domain.InventorySummary, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var summary domain.InventorySummary
	if err := json.Unmarshal(val, &summary); err != nil {
		return nil, false, err
	}
	return &summary, true, nil
}

func (c *RedisInventoryCache) Set(ctx context.Context, key string, value *domain.InventorySummary, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisInventoryCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisInventoryCache) BumpGeneration(ctx context.Context) error {
	return c.client.Incr(ctx, generationKey).Err()
}
