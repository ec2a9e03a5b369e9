package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cloudautopkg/runner/pkg/metadata"
)

// RedisClient is the subset of redis commands RedisStore needs.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Close() error
}

// RedisStore keeps one hash field per recipe under a single key. HSET on a
// single field is atomic, so concurrent saves for different recipes never
// clobber each other.
type RedisStore struct {
	client RedisClient
	key    string
}

// RedisStoreConfig holds configuration for RedisStore.
type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// NewRedisStore connects to redis.
func NewRedisStore(cfg RedisStoreConfig) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreWithClient(rdb, cfg.Key)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client RedisClient, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Name() string { return "redis" }

// Save implements CacheStore.
func (s *RedisStore) Save(ctx context.Context, recipeName string, rc metadata.RecipeCache) error {
	data, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("failed to encode recipe cache: %w", err)
	}
	if err := s.client.HSet(ctx, s.key, recipeName, string(data)).Err(); err != nil {
		return fmt.Errorf("redis: failed to save %s: %w", recipeName, err)
	}
	return nil
}

// Get implements CacheStore.
func (s *RedisStore) Get(ctx context.Context, recipeName string) (metadata.RecipeCache, bool, error) {
	val, err := s.client.HGet(ctx, s.key, recipeName).Result()
	if errors.Is(err, redis.Nil) {
		return metadata.RecipeCache{}, false, nil
	}
	if err != nil {
		return metadata.RecipeCache{}, false, fmt.Errorf("redis: failed to get %s: %w", recipeName, err)
	}

	var rc metadata.RecipeCache
	if err := json.Unmarshal([]byte(val), &rc); err != nil {
		return metadata.RecipeCache{}, false, fmt.Errorf("redis: invalid entry for %s: %w", recipeName, err)
	}
	return rc, true, nil
}

// Load implements CacheStore.
func (s *RedisStore) Load(ctx context.Context) (metadata.MetadataCache, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to load metadata cache: %w", err)
	}

	cache := make(metadata.MetadataCache, len(fields))
	for name, val := range fields {
		var rc metadata.RecipeCache
		if err := json.Unmarshal([]byte(val), &rc); err != nil {
			return nil, fmt.Errorf("redis: invalid entry for %s: %w", name, err)
		}
		cache[name] = rc
	}
	return cache, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
