package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudautopkg/runner/pkg/autopkg"
	"github.com/cloudautopkg/runner/pkg/autopkg/autopkgtest"
	"github.com/cloudautopkg/runner/pkg/metadata"
	"github.com/cloudautopkg/runner/pkg/policy"
	"github.com/cloudautopkg/runner/pkg/recipe"
	"github.com/cloudautopkg/runner/pkg/report"
	"github.com/cloudautopkg/runner/pkg/settings"
	"github.com/cloudautopkg/runner/pkg/telemetry"
)

const goodRecipe = `Description: Downloads Good.
Identifier: com.example.download.Good
MinimumVersion: "2.3"
Input:
  NAME: Good
Process:
  - Processor: URLDownloader
`

const newerRecipe = `Identifier: com.example.download.Newer
MinimumVersion: "3.0"
Input:
  NAME: Newer
Process:
  - Processor: URLDownloader
`

const badIdentifierRecipe = `Identifier: not a reverse domain
MinimumVersion: "2.0"
Input:
  NAME: Bad
Process:
  - Processor: URLDownloader
`

const brokenRecipe = `Identifier: [unterminated
`

const downloadReport = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>failures</key>
	<array/>
	<key>summary_results</key>
	<dict>
		<key>url_downloader_summary_result</key>
		<dict>
			<key>data_rows</key>
			<array>
				<dict>
					<key>download_path</key>
					<string>/tmp/Good.dmg</string>
				</dict>
			</array>
		</dict>
	</dict>
</dict>
</plist>
`

const failureReport = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>failures</key>
	<array>
		<dict>
			<key>message</key>
			<string>Download failed</string>
			<key>recipe</key>
			<string>Good</string>
		</dict>
	</array>
	<key>summary_results</key>
	<dict/>
</dict>
</plist>
`

type memStore struct {
	mu    sync.Mutex
	saves map[string]metadata.RecipeCache
}

func (s *memStore) Save(_ context.Context, name string, rc metadata.RecipeCache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saves == nil {
		s.saves = map[string]metadata.RecipeCache{}
	}
	s.saves[name] = rc
	return nil
}

func (s *memStore) Name() string { return "memory" }

type fixedAttrs struct{}

func (fixedAttrs) GetAttribute(_ context.Context, _, _ string) (*string, error) {
	return metadata.StringPtr("value"), nil
}

func (fixedAttrs) GetSize(_ context.Context, _ string) (*int64, error) {
	return metadata.Int64Ptr(1024), nil
}

type fixture struct {
	env    *recipe.Env
	runner *autopkgtest.Runner
	store  *memStore
	events *telemetry.EventPublisher

	mu       sync.Mutex
	received []telemetry.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	recipes := filepath.Join(dir, "recipes")
	require.NoError(t, os.MkdirAll(recipes, 0o755))
	for name, body := range map[string]string{
		"Good.recipe.yaml":   goodRecipe,
		"Newer.recipe.yaml":  newerRecipe,
		"Bad.recipe.yaml":    badIdentifierRecipe,
		"Broken.recipe.yaml": brokenRecipe,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(recipes, name), []byte(body), 0o644))
	}

	cfg := settings.Default()
	cfg.ReportDir = filepath.Join(dir, "reports")

	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 16})
	require.NoError(t, err)

	f := &fixture{
		runner: &autopkgtest.Runner{},
		store:  &memStore{},
		events: events,
	}
	events.Subscribe(func(e telemetry.Event) {
		f.mu.Lock()
		f.received = append(f.received, e)
		f.mu.Unlock()
	}, nil)

	f.env = &recipe.Env{
		Settings:  cfg,
		Locator:   &recipe.Locator{SearchDirs: []string{recipes}},
		Tool:      &autopkg.Tool{Path: "/usr/local/bin/autopkg", Runner: f.runner},
		Store:     f.store,
		Collector: &metadata.Collector{Reader: fixedAttrs{}, Logger: zerolog.Nop()},
		Logger:    zerolog.Nop(),
	}
	return f
}

// script answers "version" with version and writes body for every "run".
func (f *fixture) script(version, body string) {
	f.runner.Handler = func(call autopkgtest.Call) (*autopkg.Result, error) {
		switch call.Subcommand() {
		case "version":
			return &autopkg.Result{Stdout: version + "\n"}, nil
		case "run":
			if err := os.WriteFile(call.ArgValue("--report-plist"), []byte(body), 0o644); err != nil {
				return nil, err
			}
		}
		return &autopkg.Result{}, nil
	}
}

func (f *fixture) newRunner(t *testing.T) *Runner {
	t.Helper()
	r := NewRunner(f.env, zerolog.Nop())
	r.Events = f.events
	return r
}

func (f *fixture) eventTypes(recipeName string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.received {
		if e.Recipe == recipeName {
			out = append(out, e.Type)
		}
	}
	return out
}

func TestRunSucceedsAndSavesMetadata(t *testing.T) {
	f := newFixture(t)
	f.script("2.7.2", downloadReport)

	results := f.newRunner(t).Run(context.Background(), []string{"Good"})
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, StatusSucceeded, res.Status, res.Reason)
	assert.Equal(t, "Good", res.Recipe)
	assert.NotEmpty(t, res.BatchID)
	assert.Len(t, res.Report.DownloadedItems, 1)
	assert.Equal(t, "untested", res.Trust)
	assert.FileExists(t, res.ReportPath)
	assert.Contains(t, f.store.saves, "Good.recipe.yaml")

	assert.Equal(t, []string{telemetry.EventTypeRecipeStarted, telemetry.EventTypeRecipeCompleted}, f.eventTypes("Good"))
}

func TestRunReportsAutopkgFailures(t *testing.T) {
	f := newFixture(t)
	f.script("2.7.2", failureReport)

	results := f.newRunner(t).Run(context.Background(), []string{"Good"})
	require.Len(t, results, 1)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Equal(t, "Download failed", results[0].Reason)
	assert.Empty(t, f.store.saves)
}

func TestRunIsolatesBadRecipes(t *testing.T) {
	f := newFixture(t)
	f.script("2.7.2", downloadReport)

	names := []string{"Missing", "Broken", "Good"}
	results := f.newRunner(t).Run(context.Background(), names)
	require.Len(t, results, 3)

	for i, name := range names {
		assert.Equal(t, name, results[i].Recipe)
	}

	var lookupErr *recipe.LookupError
	assert.Equal(t, StatusError, results[0].Status)
	assert.True(t, errors.As(results[0].Err, &lookupErr))

	assert.Equal(t, StatusError, results[1].Status)
	assert.ErrorIs(t, results[1].Err, recipe.ErrInvalidYAMLContents)

	assert.Equal(t, StatusSucceeded, results[2].Status)

	summary := Summary(results)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 2, summary.Errored)
	assert.Equal(t, []string{"Missing", "Broken"}, summary.ErroredRecipes)
	assert.True(t, summary.HasErrors())
}

func TestPolicyGateBlocksViolations(t *testing.T) {
	f := newFixture(t)
	f.script("2.7.2", downloadReport)

	engine, err := policy.NewEngine(zerolog.Nop())
	require.NoError(t, err)

	r := f.newRunner(t)
	r.Policy = engine

	results := r.Run(context.Background(), []string{"Bad", "Good"})
	require.Len(t, results, 2)

	assert.Equal(t, StatusSkipped, results[0].Status)
	assert.Equal(t, GatePolicy, results[0].Gate)
	require.NotEmpty(t, results[0].Violations)
	assert.Equal(t, "identifier-format", results[0].Violations[0].Policy)
	assert.Contains(t, f.eventTypes("Bad"), telemetry.EventTypePolicyViolation)
	assert.Contains(t, f.eventTypes("Bad"), telemetry.EventTypeRecipeSkipped)

	assert.Equal(t, StatusSucceeded, results[1].Status)

	// Only the allowed recipe reached autopkg run.
	assert.Len(t, f.runner.CallsTo("run"), 2)
}

type failingPolicy struct{}

func (failingPolicy) EvaluateRecipe(context.Context, *policy.RecipeInput, *policy.PolicyContext) (*policy.PolicyResult, error) {
	return nil, errors.New("engine unavailable")
}

func TestPolicyEvaluationErrorIsRecipeError(t *testing.T) {
	f := newFixture(t)
	f.script("2.7.2", downloadReport)

	r := f.newRunner(t)
	r.Policy = failingPolicy{}

	results := r.Run(context.Background(), []string{"Good"})
	assert.Equal(t, StatusError, results[0].Status)
	assert.Contains(t, results[0].Reason, "engine unavailable")
	assert.Empty(t, f.runner.CallsTo("run"))
}

func TestMinimumVersionGate(t *testing.T) {
	f := newFixture(t)
	f.script("2.7.2", downloadReport)

	results := f.newRunner(t).Run(context.Background(), []string{"Newer", "Good"})
	require.Len(t, results, 2)

	assert.Equal(t, StatusSkipped, results[0].Status)
	assert.Equal(t, GateMinimumVersion, results[0].Gate)
	assert.Contains(t, results[0].Reason, "requires autopkg 3.0.0")
	assert.Equal(t, StatusSucceeded, results[1].Status)

	// autopkg version is queried once per batch.
	assert.Len(t, f.runner.CallsTo("version"), 1)
}

func TestMinimumVersionGateUsesConfiguredVersion(t *testing.T) {
	f := newFixture(t)
	f.script("1.0", downloadReport)

	r := f.newRunner(t)
	r.AutoPkgVersion = semver.MustParse("3.1.0")

	results := r.Run(context.Background(), []string{"Newer"})
	assert.Equal(t, StatusSucceeded, results[0].Status)
	assert.Empty(t, f.runner.CallsTo("version"))
}

func TestMinimumVersionGateDisabledWithoutVersion(t *testing.T) {
	f := newFixture(t)
	f.runner.Handler = func(call autopkgtest.Call) (*autopkg.Result, error) {
		switch call.Subcommand() {
		case "version":
			return autopkgtest.Exit(1, "boom"), nil
		case "run":
			return &autopkg.Result{}, os.WriteFile(call.ArgValue("--report-plist"), []byte(downloadReport), 0o644)
		}
		return &autopkg.Result{}, nil
	}

	results := f.newRunner(t).Run(context.Background(), []string{"Newer"})
	assert.Equal(t, StatusSucceeded, results[0].Status)
}

func TestTrustGate(t *testing.T) {
	f := newFixture(t)
	f.runner.Handler = func(call autopkgtest.Call) (*autopkg.Result, error) {
		switch call.Subcommand() {
		case "version":
			return &autopkg.Result{Stdout: "2.7.2"}, nil
		case "verify-trust-info":
			if filepath.Base(call.Args[1]) == "Good.recipe.yaml" {
				return &autopkg.Result{}, nil
			}
			return autopkgtest.Exit(1, "trust mismatch"), nil
		case "run":
			return &autopkg.Result{}, os.WriteFile(call.ArgValue("--report-plist"), []byte(downloadReport), 0o644)
		}
		return &autopkg.Result{}, nil
	}

	r := f.newRunner(t)
	r.VerifyTrust = true

	results := r.Run(context.Background(), []string{"Newer", "Good"})
	require.Len(t, results, 2)

	// Newer is blocked by the version gate before trust is checked.
	assert.Equal(t, GateMinimumVersion, results[0].Gate)

	assert.Equal(t, StatusSucceeded, results[1].Status)
	assert.Equal(t, "trusted", results[1].Trust)
	assert.Len(t, f.runner.CallsTo("verify-trust-info"), 1)
}

func TestTrustGateBlocksUntrusted(t *testing.T) {
	f := newFixture(t)
	f.runner.Handler = func(call autopkgtest.Call) (*autopkg.Result, error) {
		if call.Subcommand() == "verify-trust-info" {
			return autopkgtest.Exit(1, ""), nil
		}
		return &autopkg.Result{Stdout: "2.7.2"}, nil
	}

	r := f.newRunner(t)
	r.VerifyTrust = true

	results := r.Run(context.Background(), []string{"Good"})
	assert.Equal(t, StatusSkipped, results[0].Status)
	assert.Equal(t, GateTrust, results[0].Gate)
	assert.Equal(t, "failed", results[0].Trust)
	assert.Empty(t, f.runner.CallsTo("run"))
}

func TestSkippedRecipesLeaveNoReports(t *testing.T) {
	f := newFixture(t)
	f.script("2.7.2", downloadReport)

	engine, err := policy.NewEngine(zerolog.Nop())
	require.NoError(t, err)

	r := f.newRunner(t)
	r.Policy = engine

	results := r.Run(context.Background(), []string{"Bad", "Newer", "Good"})
	require.Len(t, results, 3)
	assert.Equal(t, GatePolicy, results[0].Gate)
	assert.Equal(t, GateMinimumVersion, results[1].Gate)
	assert.Empty(t, results[0].ReportPath)
	assert.Empty(t, results[1].ReportPath)
	require.Equal(t, StatusSucceeded, results[2].Status)

	entries, err := os.ReadDir(f.env.Settings.ReportDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(results[2].ReportPath), entries[0].Name())
}

func TestRunBoundsConcurrency(t *testing.T) {
	f := newFixture(t)

	var active, peak int32
	f.runner.Handler = func(call autopkgtest.Call) (*autopkg.Result, error) {
		if call.Subcommand() != "run" {
			return &autopkg.Result{Stdout: "2.7.2"}, nil
		}
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return &autopkg.Result{}, os.WriteFile(call.ArgValue("--report-plist"), []byte(failureReport), 0o644)
	}

	r := f.newRunner(t)
	r.MaxConcurrency = 2

	names := []string{"Good", "Good", "Good", "Good", "Good", "Good"}
	results := r.Run(context.Background(), names)
	require.Len(t, results, len(names))

	paths := map[string]bool{}
	for _, res := range results {
		assert.Equal(t, StatusFailed, res.Status)
		paths[res.ReportPath] = true
	}
	assert.Len(t, paths, len(names), "every recipe instance owns its report path")
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRunCancelledContext(t *testing.T) {
	f := newFixture(t)
	f.script("2.7.2", downloadReport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := f.newRunner(t).Run(ctx, []string{"Good", "Good"})
	for _, res := range results {
		assert.Equal(t, StatusError, res.Status)
		assert.ErrorIs(t, res.Err, context.Canceled)
	}
	assert.Empty(t, f.runner.CallsTo("run"))
}

func TestRunEmpty(t *testing.T) {
	f := newFixture(t)
	assert.Empty(t, f.newRunner(t).Run(context.Background(), nil))
	assert.Empty(t, f.runner.Calls())
}

func TestSummary(t *testing.T) {
	results := []Result{
		{Recipe: "A", Status: StatusSucceeded, Duration: time.Second, Report: report.ConsolidatedReport{
			DownloadedItems: []report.DownloadedItem{{DownloadPath: "/a"}},
			PkgBuiltItems:   []report.PkgBuiltItem{{PkgPath: "/a.pkg"}},
		}},
		{Recipe: "B", Status: StatusFailed, Duration: time.Second},
		{Recipe: "C", Status: StatusSkipped, Gate: GateTrust},
	}

	s := Summary(results)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 0, s.Errored)
	assert.Equal(t, 1, s.Downloads)
	assert.Equal(t, 1, s.PackagesBuilt)
	assert.Equal(t, 2*time.Second, s.TotalDuration)
	assert.Equal(t, []string{"B"}, s.FailedRecipes)
	assert.Equal(t, []string{"C"}, s.SkippedRecipes)
	assert.True(t, s.HasErrors())

	assert.False(t, Summary(results[2:]).HasErrors())
}
