package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-journal-bot/internal/infra/metrics"
)

// RedisCache реализует domain.Cache через Redis.
// Once используется реконсайлером, чтобы суточный сброс выполнялся
// ровно один раз на дату независимо от числа процессов.
type RedisCache struct {
	client *redis.Client
}

// NewRedis создаёт кэш.
func NewRedis(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Once выполняет функцию, если ключ ещё не задан.
// При ошибке fn ключ снимается, чтобы следующий вызов повторил попытку.
func (c *RedisCache) Once(key string, ttl time.Duration, fn func() error) error {
	ctx := context.Background()
	start := time.Now()
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	metrics.ObserveNetworkRequest("redis", "setnx", key, start, err)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := fn(); err != nil {
		_ = c.client.Del(ctx, key).Err()
		return err
	}
	return nil
}

// Set задаёт значение.
func (c *RedisCache) Set(key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.client.Set(context.Background(), key, value, ttl).Err()
	metrics.ObserveNetworkRequest("redis", "set", key, start, err)
	return err
}

// Get возвращает значение.
func (c *RedisCache) Get(key string) ([]byte, error) {
	start := time.Now()
	data, err := c.client.Get(context.Background(), key).Bytes()
	metrics.ObserveNetworkRequest("redis", "get", key, start, err)
	return data, err
}
