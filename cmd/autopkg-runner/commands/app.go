package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cloudautopkg/runner/pkg/autopkg"
	"github.com/cloudautopkg/runner/pkg/metadata"
	"github.com/cloudautopkg/runner/pkg/recipe"
	"github.com/cloudautopkg/runner/pkg/settings"
	"github.com/cloudautopkg/runner/pkg/stores"
	"github.com/cloudautopkg/runner/pkg/telemetry"
)

// app is the process-wide wiring built once per command invocation.
type app struct {
	settings  settings.Settings
	prefs     *autopkg.Prefs
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
	store     stores.CacheStore
	env       *recipe.Env
}

// loadSettings layers the config file, the flags the user set and any
// command-specific overrides over the defaults, then validates the result.
func (o *rootOptions) loadSettings(cmd *cobra.Command, overrides ...func(*settings.Settings)) (settings.Settings, error) {
	cfg := settings.Default()
	if o.configPath != "" {
		loaded, err := settings.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("verbose") {
		cfg.VerbosityLevel = o.verbosity
	}
	if flags.Changed("log-file") {
		cfg.LogFile = o.logFile
	}
	if flags.Changed("cache-file") {
		cfg.CacheFile = o.cacheFile
	}
	if flags.Changed("report-dir") {
		cfg.ReportDir = o.reportDir
	}
	if flags.Changed("max-concurrency") {
		cfg.MaxConcurrency = o.maxConcurrency
	}
	if flags.Changed("autopkg-path") {
		cfg.AutoPkgPath = o.autopkgPath
	}
	if flags.Changed("prefs") {
		cfg.PrefsFile = o.prefsPath
	}

	if flags.Changed("verbose") || cfg.VerbosityLevel > 0 {
		cfg.Telemetry.Logging.Level = telemetry.LevelForVerbosity(cfg.VerbosityLevel)
	}
	if cfg.LogFile != "" {
		cfg.Telemetry.Logging.File = cfg.LogFile
	}
	if o.version != "" {
		cfg.Telemetry.ServiceVersion = o.version
	}
	for _, override := range overrides {
		override(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// newApp builds telemetry, preferences, the cache store and the shared
// recipe environment. withStore is false for commands that never touch the
// metadata cache.
func newApp(ctx context.Context, opts *rootOptions, cfg settings.Settings, withStore bool) (*app, error) {
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()

	prefs, err := autopkg.LoadPrefs(cfg.PrefsFile)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	a := &app{
		settings:  cfg,
		prefs:     prefs,
		telemetry: tel,
		logger:    logger,
	}

	tool := autopkg.NewTool(cfg.AutoPkgPath)
	if opts.runner != nil {
		tool.Runner = opts.runner
	}

	a.env = &recipe.Env{
		Settings:  cfg,
		Locator:   recipe.NewLocator(prefs),
		Tool:      tool,
		Collector: metadata.NewCollector(logger.With().Str("component", "metadata").Logger()),
		Logger:    logger.With().Str("component", "recipe").Logger(),
		Metrics:   tel.Metrics,
		Tracer:    tel.Tracer,
	}

	if withStore {
		store, err := stores.NewCacheStore(ctx, cfg)
		if err != nil {
			_ = tel.Shutdown(ctx)
			return nil, fmt.Errorf("failed to open %s cache: %w", cfg.Cache.Backend, err)
		}
		a.store = store
		a.env.Store = store
	}

	tel.Events.Subscribe(func(e telemetry.Event) {
		logger.Debug().
			Str("event", e.Type).
			Str("batch_id", e.BatchID).
			Str("recipe", e.Recipe).
			Msg(e.Message)
	}, nil)

	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close cache store")
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

// recipeNames merges positional names, a YAML recipe list and $RECIPE,
// keeping the first occurrence of each name.
func recipeNames(args []string, listFile string) ([]string, error) {
	names := append([]string(nil), args...)

	if listFile != "" {
		data, err := os.ReadFile(listFile) // #nosec G304 -- operator supplied recipe list
		if err != nil {
			return nil, fmt.Errorf("failed to read recipe list: %w", err)
		}
		var listed []string
		if err := yaml.Unmarshal(data, &listed); err != nil {
			return nil, fmt.Errorf("failed to parse recipe list %s: %w", listFile, err)
		}
		names = append(names, listed...)
	}

	if len(names) == 0 {
		names = strings.Split(os.Getenv("RECIPE"), ",")
	}

	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no recipes given: pass names, --recipe-list or set RECIPE")
	}
	return out, nil
}
