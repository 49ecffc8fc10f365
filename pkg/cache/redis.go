// Пакет cache: кэш поверх Redis для списка opportunities
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss возвращается, когда ключа нет в кэше
var ErrCacheMiss = errors.New("cache miss")

// RedisClient оборачивает *redis.Client и добавляет ко всем ключам префикс namespace
type RedisClient struct {
	client    *redis.Client
	namespace string
}

// NewRedisClient создаёт кэш поверх готового клиента. namespace может быть пустым
func NewRedisClient(client *redis.Client, namespace string) *RedisClient {
	return &RedisClient{client: client, namespace: namespace}
}

func (r *RedisClient) key(k string) string {
	if r.namespace == "" {
		return k
	}
	return r.namespace + ":" + k
}

// Set сохраняет значение с временем жизни expiration
func (r *RedisClient) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, expiration).Err()
}

// Get возвращает значение или ErrCacheMiss, если ключа нет
func (r *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Invalidate удаляет ключ
func (r *RedisClient) Invalidate(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// Ping проверяет доступность Redis (используется в /readyz)
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
