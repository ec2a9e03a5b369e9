package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cloudautopkg/runner/pkg/metadata"
)

// JSONFileStore keeps the cache as one JSON document on disk. The file is
// read lazily on first use and rewritten atomically on every Save.
type JSONFileStore struct {
	path string

	mu     sync.Mutex
	cache  metadata.MetadataCache
	loaded bool
}

// NewJSONFileStore returns a store backed by path.
func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{path: path}
}

func (s *JSONFileStore) Name() string { return "json" }

// Load implements CacheStore. A missing file is created containing "{}".
func (s *JSONFileStore) Load(ctx context.Context) (metadata.MetadataCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	return copyCache(s.cache), nil
}

// Get implements CacheStore.
func (s *JSONFileStore) Get(ctx context.Context, recipeName string) (metadata.RecipeCache, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return metadata.RecipeCache{}, false, err
	}
	rc, ok := s.cache[recipeName]
	return rc, ok, nil
}

// Save implements CacheStore.
func (s *JSONFileStore) Save(ctx context.Context, recipeName string, rc metadata.RecipeCache) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	s.cache[recipeName] = rc

	return writeJSONAtomic(s.path, s.cache)
}

func (s *JSONFileStore) Close() error { return nil }

func (s *JSONFileStore) loadLocked() error {
	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.cache = metadata.MetadataCache{}
		if err := writeJSONAtomic(s.path, s.cache); err != nil {
			return err
		}
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read metadata cache %s: %w", s.path, err)
	}

	cache, err := decodeCache(data)
	if err != nil {
		return fmt.Errorf("failed to parse metadata cache %s: %w", s.path, err)
	}
	s.cache = cache
	s.loaded = true
	return nil
}

// decodeCache accepts an empty document as an empty cache.
func decodeCache(data []byte) (metadata.MetadataCache, error) {
	cache := metadata.MetadataCache{}
	if len(data) == 0 {
		return cache, nil
	}
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, err
	}
	if cache == nil {
		cache = metadata.MetadataCache{}
	}
	return cache, nil
}

// encodeCache renders the cache with two-space indentation. encoding/json
// sorts map keys, so output is stable.
func encodeCache(cache metadata.MetadataCache) ([]byte, error) {
	return json.MarshalIndent(cache, "", "  ")
}

func writeJSONAtomic(path string, cache metadata.MetadataCache) error {
	data, err := encodeCache(cache)
	if err != nil {
		return fmt.Errorf("failed to encode metadata cache: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write metadata cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write metadata cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace metadata cache %s: %w", path, err)
	}
	return nil
}

func copyCache(in metadata.MetadataCache) metadata.MetadataCache {
	out := make(metadata.MetadataCache, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
