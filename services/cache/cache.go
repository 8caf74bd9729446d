// Package cache stores JSON read models under invalidation tags.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"fanrealms-backend/utils"
)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...Tag) error
	InvalidateTags(ctx context.Context, tags ...Tag) error
}

var (
	mu         sync.RWMutex
	store      Store = NewMemoryStore()
	defaultTTL       = 5 * time.Minute
)

// Use installs the process-wide store.
func Use(s Store, ttl time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	store = s
	if ttl > 0 {
		defaultTTL = ttl
	}
}

func current() Store {
	mu.RLock()
	defer mu.RUnlock()
	return store
}

func ttl() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return defaultTTL
}

var logError = utils.LogError

// Remember returns the cached value under key or computes, stores and returns
// it. Cache errors fall back to load.
func Remember[T any](ctx context.Context, key string, tags []Tag, load func() (T, error)) (T, error) {
	s := current()
	if raw, ok, err := s.Get(ctx, key); err != nil {
		logError(err, "cache read failed for "+key)
	} else if ok {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	value, err := load()
	if err != nil {
		return value, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		logError(err, "cache encode failed for "+key)
		return value, nil
	}
	if err := s.Set(ctx, key, raw, ttl(), tags...); err != nil {
		logError(err, "cache write failed for "+key)
	}
	return value, nil
}
