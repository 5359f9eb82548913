package keyforge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix namespaces the keys written by RedisTokenStore.
const RedisKeyPrefix = "keyforge:token:"

// RedisTokenStore keeps tokens in Redis under RedisKeyPrefix + key.
type RedisTokenStore struct {
	client redis.UniversalClient
}

// NewRedisTokenStore creates a Redis-based token store
func NewRedisTokenStore(client redis.UniversalClient) (*RedisTokenStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisTokenStore{client: client}, nil
}

func (r *RedisTokenStore) Load(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key cannot be empty")
	}

	token, err := r.client.Get(ctx, RedisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis error: %w", err)
	}
	return token, nil
}

// Save stores the token without expiry: an expired token is still needed to
// recover through a refresh.
func (r *RedisTokenStore) Save(ctx context.Context, key, token string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	if err := r.client.Set(ctx, RedisKeyPrefix+key, token, 0).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RedisTokenStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, RedisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

// Keys lists the store keys currently held in Redis.
func (r *RedisTokenStore) Keys(ctx context.Context) ([]string, error) {
	var cursor uint64
	const batchSize = 100

	var keys []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context canceled: %w", err)
		}

		batch, next, err := r.client.Scan(ctx, cursor, RedisKeyPrefix+"*", batchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan error: %w", err)
		}
		for _, k := range batch {
			keys = append(keys, k[len(RedisKeyPrefix):])
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
