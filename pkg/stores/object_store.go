package stores

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudautopkg/runner/pkg/metadata"
)

// blobBackend reads and writes the whole cache document as one object.
type blobBackend interface {
	// read returns found=false when the object does not exist yet.
	read(ctx context.Context) (data []byte, found bool, err error)
	write(ctx context.Context, data []byte) error
	name() string
	close() error
}

// objectStore implements CacheStore on top of a blobBackend with
// read-modify-write under a process-wide lock.
type objectStore struct {
	backend blobBackend
	mu      sync.Mutex
}

func (s *objectStore) Name() string { return s.backend.name() }

func (s *objectStore) Load(ctx context.Context) (metadata.MetadataCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *objectStore) Get(ctx context.Context, recipeName string) (metadata.RecipeCache, bool, error) {
	cache, err := s.Load(ctx)
	if err != nil {
		return metadata.RecipeCache{}, false, err
	}
	rc, ok := cache[recipeName]
	return rc, ok, nil
}

func (s *objectStore) Save(ctx context.Context, recipeName string, rc metadata.RecipeCache) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cache, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	cache[recipeName] = rc

	data, err := encodeCache(cache)
	if err != nil {
		return fmt.Errorf("failed to encode metadata cache: %w", err)
	}
	if err := s.backend.write(ctx, data); err != nil {
		return fmt.Errorf("%s: failed to write metadata cache: %w", s.backend.name(), err)
	}
	return nil
}

func (s *objectStore) Close() error { return s.backend.close() }

func (s *objectStore) loadLocked(ctx context.Context) (metadata.MetadataCache, error) {
	data, found, err := s.backend.read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read metadata cache: %w", s.backend.name(), err)
	}
	if !found {
		return metadata.MetadataCache{}, nil
	}
	cache, err := decodeCache(data)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse metadata cache: %w", s.backend.name(), err)
	}
	return cache, nil
}
