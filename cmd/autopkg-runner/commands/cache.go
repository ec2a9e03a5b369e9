package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudautopkg/runner/pkg/metadata"
)

func newCacheCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and use the download metadata cache",
	}
	cmd.AddCommand(newCacheShowCommand(opts))
	cmd.AddCommand(newCacheDummyFilesCommand(opts))
	return cmd
}

func newCacheShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [recipe]",
		Short: "Print the whole cache, or one recipe's entry, as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := opts.loadSettings(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, opts, cfg, true)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if len(args) == 1 {
				rc, ok, err := a.store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no cached metadata for %s", args[0])
				}
				return writeJSON(cmd.OutOrStdout(), rc)
			}

			cache, err := a.store.Load(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), cache)
		},
	}
}

func newCacheDummyFilesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dummy-files [recipes...]",
		Short: "Recreate placeholder downloads from cached fingerprints",
		Long: `Create an empty, correctly sized file for every cached download that is
missing on disk and tag it with the cached etag and last-modified extended
attributes, so that the next check phase sees the previously fetched
version. Without arguments every cached recipe is processed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := opts.loadSettings(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, opts, cfg, true)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			cache, err := a.store.Load(ctx)
			if err != nil {
				return err
			}

			names := args
			if len(names) == 0 {
				names = cache.RecipeNames()
			}

			n, err := metadata.CreateDummyFiles(ctx, names, cache, metadata.XattrAttributes{}, a.logger)
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]int{"created": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %d placeholder files\n", n)
			return nil
		},
	}
}
