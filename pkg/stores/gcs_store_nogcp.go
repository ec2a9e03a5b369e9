//go:build !gcp

package stores

import (
	"context"
	"fmt"
)

func newGCSCacheStore(_ context.Context, _, _ string) (CacheStore, error) {
	return nil, fmt.Errorf("GCS cache backend is not enabled in this build (use -tags gcp)")
}
