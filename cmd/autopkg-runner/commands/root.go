package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudautopkg/runner/pkg/autopkg"
)

// ErrRecipesFailed is returned when at least one recipe of a command errored
// or failed. The per-recipe details have already been printed.
var ErrRecipesFailed = errors.New("one or more recipes failed")

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath     string
	prefsPath      string
	verbosity      int
	logFile        string
	jsonOutput     bool
	cacheFile      string
	reportDir      string
	maxConcurrency int
	autopkgPath    string

	version string

	// runner executes autopkg; nil means os/exec.
	runner autopkg.CommandRunner
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(&rootOptions{version: version}, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(opts *rootOptions, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "autopkg-runner",
		Short: "Run AutoPkg recipes concurrently with a persistent download cache",
		Long: `autopkg-runner drives AutoPkg recipes through a check phase and, when new
downloads are detected, records their fingerprints in a metadata cache and
runs the full recipe.

Features:
  - Bounded concurrent recipe batches
  - Metadata cache backends: JSON file, SQLite, S3, GCS, Redis
  - Trust info verification and update
  - Rego policy gate over recipe contents
  - Prometheus metrics and OpenTelemetry traces`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", opts.version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "settings file (YAML)")
	flags.StringVar(&opts.prefsPath, "prefs", "", "AutoPkg preferences plist")
	flags.CountVarP(&opts.verbosity, "verbose", "v", "increase verbosity (repeatable)")
	flags.StringVar(&opts.logFile, "log-file", "", "also write JSON logs to this file")
	flags.BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")
	flags.StringVar(&opts.cacheFile, "cache-file", "", "metadata cache file")
	flags.StringVar(&opts.reportDir, "report-dir", "", "directory for recipe report plists")
	flags.IntVar(&opts.maxConcurrency, "max-concurrency", 0, "maximum recipes processed at once")
	flags.StringVar(&opts.autopkgPath, "autopkg-path", "", "autopkg executable")

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newVerifyTrustCommand(opts))
	rootCmd.AddCommand(newUpdateTrustCommand(opts))
	rootCmd.AddCommand(newRecipeCommand(opts))
	rootCmd.AddCommand(newCacheCommand(opts))
	rootCmd.AddCommand(newPolicyCommand(opts))

	return rootCmd
}
