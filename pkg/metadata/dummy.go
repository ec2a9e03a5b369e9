package metadata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// CreateDummyFiles recreates placeholder downloads from cached fingerprints
// so that autopkg's check phase sees the previously fetched version. Each
// file is sparse, sized to the cached size and tagged with the cached etag
// and last-modified attributes. Only the named recipes are processed.
// Entries without a path or a positive size, and files that already exist,
// are left alone. A path cached by several recipes is created once.
func CreateDummyFiles(ctx context.Context, recipes []string, cache MetadataCache, writer AttributeWriter, logger zerolog.Logger) (int, error) {
	seen := make(map[string]bool)
	var entries []DownloadMetadata
	for _, name := range recipes {
		rc, ok := cache[name]
		if !ok {
			logger.Debug().Str("recipe", name).Msg("no cached metadata")
			continue
		}
		for _, m := range rc.Metadata {
			if m.FilePath == "" {
				logger.Warn().Str("recipe", name).Msg("skipping placeholder: missing file_path")
				continue
			}
			if m.FileSize == nil || *m.FileSize <= 0 {
				logger.Warn().Str("recipe", name).Str("path", m.FilePath).Msg("skipping placeholder: missing file_size")
				continue
			}
			if seen[m.FilePath] {
				continue
			}
			seen[m.FilePath] = true

			if _, err := os.Stat(m.FilePath); err == nil {
				logger.Debug().Str("path", m.FilePath).Msg("skipping placeholder: file exists")
				continue
			} else if !errors.Is(err, os.ErrNotExist) {
				return 0, fmt.Errorf("failed to stat %s: %w", m.FilePath, err)
			}
			entries = append(entries, m)
		}
	}

	var created atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range entries {
		g.Go(func() error {
			ok, err := createDummyFile(gctx, m, writer)
			if ok {
				created.Add(1)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	n := int(created.Load())
	logger.Info().Int("count", n).Msg("created placeholder downloads")
	return n, nil
}

// createDummyFile reports whether it created the file. A file that
// appeared since the existence check is left untouched.
func createDummyFile(ctx context.Context, m DownloadMetadata, writer AttributeWriter) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(m.FilePath), 0o755); err != nil {
		return false, fmt.Errorf("failed to create directory for %s: %w", m.FilePath, err)
	}

	f, err := os.OpenFile(m.FilePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create %s: %w", m.FilePath, err)
	}
	if err := f.Truncate(*m.FileSize); err != nil {
		f.Close()
		return false, fmt.Errorf("failed to size %s: %w", m.FilePath, err)
	}
	if err := f.Close(); err != nil {
		return false, err
	}

	if m.ETag != nil {
		if err := writer.SetAttribute(ctx, m.FilePath, AttrETag, *m.ETag); err != nil {
			return true, err
		}
	}
	if m.LastModified != nil {
		if err := writer.SetAttribute(ctx, m.FilePath, AttrLastModified, *m.LastModified); err != nil {
			return true, err
		}
	}
	return true, nil
}
