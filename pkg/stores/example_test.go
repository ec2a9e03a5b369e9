package stores_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cloudautopkg/runner/pkg/metadata"
	"github.com/cloudautopkg/runner/pkg/stores"
)

func ExampleJSONFileStore() {
	dir, _ := os.MkdirTemp("", "cache")
	defer os.RemoveAll(dir)

	store := stores.NewJSONFileStore(filepath.Join(dir, "metadata_cache.json"))
	ctx := context.Background()

	_ = store.Save(ctx, "Firefox.pkg.recipe", metadata.RecipeCache{
		Timestamp: "2024-05-01 10:00:00.000000+00:00",
		Metadata: []metadata.DownloadMetadata{{
			FilePath: "/cache/Firefox.dmg",
			FileSize: metadata.Int64Ptr(2048),
		}},
	})

	rc, ok, _ := store.Get(ctx, "Firefox.pkg.recipe")
	fmt.Println(ok, rc.Metadata[0].FilePath, *rc.Metadata[0].FileSize)
	// Output: true /cache/Firefox.dmg 2048
}
