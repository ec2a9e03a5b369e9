package recipe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudautopkg/runner/pkg/autopkg"
	"github.com/cloudautopkg/runner/pkg/metadata"
	"github.com/cloudautopkg/runner/pkg/report"
	"github.com/cloudautopkg/runner/pkg/settings"
	"github.com/cloudautopkg/runner/pkg/telemetry"
)

// reportTimeLayout renders %y%m%d_%H%M.
const reportTimeLayout = "060102_1504"

// CacheStore persists one RecipeCache per recipe name.
type CacheStore interface {
	Save(ctx context.Context, recipeName string, rc metadata.RecipeCache) error
	Name() string
}

// Env carries the collaborators shared by every recipe of a run.
type Env struct {
	Settings  settings.Settings
	Locator   *Locator
	Tool      *autopkg.Tool
	Store     CacheStore
	Collector *metadata.Collector
	Logger    zerolog.Logger
	Metrics   *telemetry.Metrics
	Tracer    *telemetry.Tracer

	// Now defaults to time.Now.
	Now func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Recipe is one located and parsed recipe bound to its own report file.
type Recipe struct {
	env      *Env
	logger   zerolog.Logger
	path     string
	format   Format
	contents Contents
	trust    TrustState
	report   *report.Report
}

// New locates and parses name and reserves a report path in reportDir. An
// empty reportDir means the configured report directory.
func New(name, reportDir string, env *Env) (*Recipe, error) {
	r, err := Load(name, env)
	if err != nil {
		return nil, err
	}
	if err := r.ReserveReport(reportDir); err != nil {
		return nil, err
	}
	return r, nil
}

// Load locates and parses name without reserving a report path. The
// recipe can be inspected and trust-checked, but ReserveReport must be
// called before it runs.
func Load(name string, env *Env) (*Recipe, error) {
	path, err := env.Locator.Find(name)
	if err != nil {
		env.Logger.Error().Err(err).Str("recipe", name).Msg("Failed to find recipe")
		return nil, err
	}

	contents, format, err := Parse(path)
	if err != nil {
		return nil, err
	}

	r := &Recipe{
		env:      env,
		path:     path,
		format:   format,
		contents: contents,
		trust:    TrustUntested,
	}
	r.logger = env.Logger.With().Str("recipe", r.Name()).Logger()
	return r, nil
}

// ReserveReport binds the recipe to a new report file in reportDir, or in
// the configured report directory when reportDir is empty. It is a no-op
// once a report is bound.
func (r *Recipe) ReserveReport(reportDir string) error {
	if r.report != nil {
		return nil
	}
	if reportDir == "" {
		reportDir = r.env.Settings.ReportDir
	}
	reportPath, err := ReserveReportPath(reportDir, r.Name(), r.env.now())
	if err != nil {
		return err
	}
	r.report = report.New(reportPath)
	return nil
}

// ReserveReportPath creates an empty file named
// report_<yymmdd_HHMM>_<fileName>.plist in dir and returns its path. When
// that name is taken, _1, _2, ... is appended to the stem until an unused
// name is created.
func ReserveReportPath(dir, fileName string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	stem := fmt.Sprintf("report_%s_%s", now.UTC().Format(reportTimeLayout), fileName)
	candidate := stem

	for counter := 1; ; counter++ {
		path := filepath.Join(dir, candidate+".plist")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if err := f.Close(); err != nil {
				return "", fmt.Errorf("failed to reserve report %s: %w", path, err)
			}
			return path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to reserve report %s: %w", path, err)
		}
		candidate = stem + "_" + strconv.Itoa(counter)
	}
}

// Name returns the recipe's file name, which is also its cache key.
func (r *Recipe) Name() string { return filepath.Base(r.path) }

// Path returns the resolved recipe file.
func (r *Recipe) Path() string { return r.path }

// Format returns the detected document format.
func (r *Recipe) Format() Format { return r.format }

// Contents returns the parsed document.
func (r *Recipe) Contents() Contents { return r.contents }

func (r *Recipe) Description() string    { return r.contents.Description }
func (r *Recipe) Identifier() string     { return r.contents.Identifier }
func (r *Recipe) MinimumVersion() string { return r.contents.MinimumVersion }
func (r *Recipe) ParentRecipe() string   { return r.contents.ParentRecipe }

// Input returns the recipe's input variables.
func (r *Recipe) Input() map[string]interface{} { return r.contents.Input }

// Process returns the processing steps.
func (r *Recipe) Process() []map[string]interface{} { return r.contents.Process }

// InputName returns Input["NAME"]. It fails with *InputError when the key is
// missing.
func (r *Recipe) InputName() (string, error) {
	v, ok := r.contents.Input["NAME"]
	if !ok {
		return "", &InputError{Path: r.path, Key: "NAME"}
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

// ReportPath returns the reserved report file, or "" before ReserveReport.
func (r *Recipe) ReportPath() string {
	if r.report == nil {
		return ""
	}
	return r.report.FilePath()
}

// CompileReport re-reads the report file and consolidates it.
func (r *Recipe) CompileReport() (report.ConsolidatedReport, error) {
	if r.report == nil {
		return report.ConsolidatedReport{}, ErrNoReport
	}
	if err := r.report.Refresh(); err != nil {
		return report.ConsolidatedReport{}, err
	}
	return r.report.Consolidate(), nil
}

// overrideDir is the directory autopkg treats as the override context for
// trust operations.
func (r *Recipe) overrideDir() string {
	return filepath.Dir(r.path)
}

func stderrOrUnknown(stderr string) string {
	if s := strings.TrimSpace(stderr); s != "" {
		return s
	}
	return "<Unknown Error>"
}
