package metadata

import (
	"sort"
	"time"
)

// TimestampLayout is the format of RecipeCache.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05.000000-07:00"

// DownloadMetadata is the fingerprint of one downloaded artifact. Every
// field except FilePath may be absent.
type DownloadMetadata struct {
	ETag         *string `json:"etag"`
	FilePath     string  `json:"file_path"`
	FileSize     *int64  `json:"file_size"`
	LastModified *string `json:"last_modified"`
}

// RecipeCache is the snapshot produced by one run that found new downloads.
type RecipeCache struct {
	Timestamp string             `json:"timestamp"`
	Metadata  []DownloadMetadata `json:"metadata"`
}

// MetadataCache maps recipe names to their most recent snapshot.
type MetadataCache map[string]RecipeCache

// RecipeNames returns the cached recipe names in sorted order.
func (c MetadataCache) RecipeNames() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// Int64Ptr returns a pointer to n.
func Int64Ptr(n int64) *int64 { return &n }
