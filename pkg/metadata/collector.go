package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cloudautopkg/runner/pkg/report"
)

// Policy decides what a failed attribute fetch does to the collection.
type Policy int

const (
	// FailFast aborts the whole collection on the first fetch error.
	FailFast Policy = iota

	// BestEffort logs fetch errors and leaves the affected field empty.
	BestEffort
)

func (p Policy) String() string {
	if p == BestEffort {
		return "best-effort"
	}
	return "fail-fast"
}

// Collector gathers fingerprints for downloaded artifacts.
type Collector struct {
	Reader AttributeReader
	Policy Policy
	Logger zerolog.Logger

	// Now stamps the snapshot; defaults to time.Now.
	Now func() time.Time
}

// NewCollector returns a fail-fast collector reading real extended attributes.
func NewCollector(logger zerolog.Logger) *Collector {
	return &Collector{
		Reader: XattrAttributes{},
		Policy: FailFast,
		Logger: logger,
		Now:    time.Now,
	}
}

// ExtractDownloadPaths returns the download_path of every item that has one.
func ExtractDownloadPaths(items []report.DownloadedItem) []string {
	paths := make([]string, 0, len(items))
	for _, item := range items {
		if item.DownloadPath != "" {
			paths = append(paths, item.DownloadPath)
		}
	}
	return paths
}

// Collect fetches etag, size and last-modified for every downloaded item.
// All fetches run concurrently and Collect returns once every one finished.
func (c *Collector) Collect(ctx context.Context, items []report.DownloadedItem) (RecipeCache, error) {
	now := c.Now
	if now == nil {
		now = time.Now
	}

	paths := ExtractDownloadPaths(items)
	results := make([]DownloadMetadata, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		results[i].FilePath = path
		slot := &results[i]

		g.Go(func() error {
			v, err := c.Reader.GetAttribute(gctx, path, AttrETag)
			slot.ETag = v
			return c.handle(err, path, "etag")
		})
		g.Go(func() error {
			v, err := c.Reader.GetSize(gctx, path)
			slot.FileSize = v
			return c.handle(err, path, "size")
		})
		g.Go(func() error {
			v, err := c.Reader.GetAttribute(gctx, path, AttrLastModified)
			slot.LastModified = v
			return c.handle(err, path, "last_modified")
		})
	}

	if err := g.Wait(); err != nil {
		return RecipeCache{}, err
	}

	return RecipeCache{
		Timestamp: FormatTimestamp(now()),
		Metadata:  results,
	}, nil
}

func (c *Collector) handle(err error, path, field string) error {
	if err == nil {
		return nil
	}
	if c.Policy == BestEffort {
		c.Logger.Warn().Err(err).Str("path", path).Str("field", field).Msg("metadata fetch failed, leaving field empty")
		return nil
	}
	return fmt.Errorf("failed to collect %s for %s: %w", field, path, err)
}
