package stores

import (
	"context"

	"github.com/cloudautopkg/runner/pkg/metadata"
)

// CacheStore persists metadata cache entries keyed by recipe name.
type CacheStore interface {
	// Load returns the whole cache. A store that has never been written
	// returns an empty cache.
	Load(ctx context.Context) (metadata.MetadataCache, error)

	// Get returns the entry for one recipe and whether it exists.
	Get(ctx context.Context, recipeName string) (metadata.RecipeCache, bool, error)

	// Save replaces the entry for recipeName.
	Save(ctx context.Context, recipeName string, rc metadata.RecipeCache) error

	// Name identifies the backend in logs and metrics.
	Name() string

	Close() error
}
