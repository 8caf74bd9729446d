package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const tagPrefix = "tag:"

// RedisStore keeps values as plain keys and each tag as a set of keys.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to url (redis://...) and pings it.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...Tag) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, value, ttl)
		for _, tag := range tags {
			pipe.SAdd(ctx, tagPrefix+string(tag), key)
			if ttl > 0 {
				pipe.Expire(ctx, tagPrefix+string(tag), 2*ttl)
			}
		}
		return nil
	})
	return err
}

func (r *RedisStore) InvalidateTags(ctx context.Context, tags ...Tag) error {
	for _, tag := range tags {
		setKey := tagPrefix + string(tag)
		keys, err := r.client.SMembers(ctx, setKey).Result()
		if err != nil {
			return fmt.Errorf("read tag %s: %w", tag, err)
		}
		keys = append(keys, setKey)
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("drop tag %s: %w", tag, err)
		}
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
