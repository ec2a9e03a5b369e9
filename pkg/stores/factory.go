package stores

import (
	"context"
	"fmt"

	"github.com/cloudautopkg/runner/pkg/settings"
)

// NewCacheStore opens the backend selected by cfg.Cache.Backend. Local
// backends use cfg.CacheFile as their path; remote ones store under
// cfg.CacheKey().
func NewCacheStore(ctx context.Context, cfg settings.Settings) (CacheStore, error) {
	key := cfg.CacheKey()

	switch cfg.Cache.Backend {
	case settings.CacheBackendJSON, "":
		return NewJSONFileStore(cfg.CacheFile), nil
	case settings.CacheBackendSQLite:
		return OpenSQLiteStore(ctx, Config{Path: cfg.CacheFile})
	case settings.CacheBackendS3:
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.Cache.Bucket,
			Key:      key,
			Region:   cfg.Cache.Region,
			Endpoint: cfg.Cache.Endpoint,
		})
	case settings.CacheBackendGCS:
		return newGCSCacheStore(ctx, cfg.Cache.Bucket, key)
	case settings.CacheBackendRedis:
		return NewRedisStore(RedisStoreConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			Key:      key,
		}), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Cache.Backend)
	}
}
