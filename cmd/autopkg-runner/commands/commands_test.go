package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudautopkg/runner/pkg/autopkg"
	"github.com/cloudautopkg/runner/pkg/autopkg/autopkgtest"
	"github.com/cloudautopkg/runner/pkg/batch"
	"github.com/cloudautopkg/runner/pkg/settings"
)

const fooRecipe = `Description: Downloads Foo.
Identifier: com.example.download.Foo
MinimumVersion: "2.3"
Input:
  NAME: Foo
Process:
  - Processor: URLDownloader
  - Processor: EndOfCheckPhase
`

const badRecipe = `Identifier: bad identifier
Input:
  NAME: Bad
`

const prefsTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>RECIPE_SEARCH_DIRS</key>
	<array>
		<string>%s</string>
	</array>
	<key>RECIPE_OVERRIDE_DIRS</key>
	<array>
		<string>%s</string>
	</array>
</dict>
</plist>
`

const reportTemplate = `<?xml version="1.0" encoding="UTF-8"?>
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
					<string>%s</string>
				</dict>
			</array>
		</dict>
	</dict>
</dict>
</plist>
`

type workspace struct {
	dir       string
	cacheFile string
	reportDir string
	download  string
	runner    *autopkgtest.Runner
	baseArgs  []string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	t.Setenv("RECIPE", "")

	dir := t.TempDir()
	recipes := filepath.Join(dir, "recipes")
	overrides := filepath.Join(dir, "overrides")
	require.NoError(t, os.MkdirAll(recipes, 0o755))
	require.NoError(t, os.MkdirAll(overrides, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(recipes, "Foo.recipe.yaml"), []byte(fooRecipe), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(recipes, "Bad.recipe.yaml"), []byte(badRecipe), 0o644))

	prefs := filepath.Join(dir, "prefs.plist")
	require.NoError(t, os.WriteFile(prefs, []byte(fmt.Sprintf(prefsTemplate, recipes, overrides)), 0o644))

	download := filepath.Join(dir, "downloads", "Foo.dmg")
	require.NoError(t, os.MkdirAll(filepath.Dir(download), 0o755))
	require.NoError(t, os.WriteFile(download, make([]byte, 2048), 0o644))

	w := &workspace{
		dir:       dir,
		cacheFile: filepath.Join(dir, "metadata_cache.json"),
		reportDir: filepath.Join(dir, "reports"),
		download:  download,
		runner:    &autopkgtest.Runner{},
	}
	w.baseArgs = []string{
		"--prefs", prefs,
		"--cache-file", w.cacheFile,
		"--report-dir", w.reportDir,
	}

	report := fmt.Sprintf(reportTemplate, download)
	w.runner.Handler = func(call autopkgtest.Call) (*autopkg.Result, error) {
		switch call.Subcommand() {
		case "version":
			return &autopkg.Result{Stdout: "2.7.2\n"}, nil
		case "run":
			return &autopkg.Result{}, os.WriteFile(call.ArgValue("--report-plist"), []byte(report), 0o644)
		}
		return &autopkg.Result{}, nil
	}
	return w
}

func (w *workspace) execute(args ...string) (string, error) {
	cmd := newRootCommand(&rootOptions{version: "test", runner: w.runner}, "abc123", "today")
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append(append([]string(nil), args...), w.baseArgs...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

type runOutput struct {
	Results []batch.Result     `json:"results"`
	Summary batch.BatchSummary `json:"summary"`
}

func TestRunCommand(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.execute("run", "Foo", "--json")
	require.NoError(t, err, out)

	var got runOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Results, 1)
	assert.Equal(t, batch.StatusSucceeded, got.Results[0].Status)
	assert.Equal(t, 1, got.Summary.Succeeded)
	assert.Equal(t, 1, got.Summary.Downloads)

	data, err := os.ReadFile(w.cacheFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Foo.recipe.yaml"`)
	assert.Contains(t, string(data), w.download)

	runs := w.runner.CallsTo("run")
	require.Len(t, runs, 2)
	assert.True(t, runs[0].HasArg("--check"))
	assert.False(t, runs[1].HasArg("--check"))
}

func TestRunCommandVerbosity(t *testing.T) {
	w := newWorkspace(t)

	_, err := w.execute("run", "Foo", "-vv", "--json")
	require.NoError(t, err)

	runs := w.runner.CallsTo("run")
	require.NotEmpty(t, runs)
	assert.True(t, runs[0].HasArg("-v"), "autopkg runs one level quieter than the runner")
}

func TestRunCommandRecipeSources(t *testing.T) {
	w := newWorkspace(t)

	_, err := w.execute("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recipes given")

	t.Setenv("RECIPE", "Foo")
	out, err := w.execute("run", "--json")
	require.NoError(t, err, out)

	list := filepath.Join(w.dir, "list.yaml")
	require.NoError(t, os.WriteFile(list, []byte("- Foo\n- Foo\n"), 0o644))
	out, err = w.execute("run", "--recipe-list", list, "--json")
	require.NoError(t, err, out)

	var got runOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Len(t, got.Results, 1, "duplicate names run once")
}

func TestRunCommandReportsFailures(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.execute("run", "Missing", "Bad", "Foo")
	require.ErrorIs(t, err, ErrRecipesFailed)
	assert.Contains(t, out, "Missing")
	assert.Contains(t, out, "error")
	assert.Contains(t, out, "policy: identifier-format")
	assert.Contains(t, out, "3 recipes: 1 succeeded, 0 failed, 1 skipped, 1 errored")
}

func TestRunCommandSkipPolicy(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.execute("run", "Bad", "--skip-policy", "--json")
	require.NoError(t, err, out)

	var got runOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, batch.StatusSucceeded, got.Results[0].Status)
}

func TestRunCommandInvalidSettings(t *testing.T) {
	w := newWorkspace(t)

	_, err := w.execute("run", "Foo", "--max-concurrency", "0")
	var verr *settings.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "max_concurrency", verr.Field)
	assert.Empty(t, w.runner.Calls())
}

func TestRunCommandValidatesMetricsAddr(t *testing.T) {
	w := newWorkspace(t)

	_, err := w.execute("run", "Foo", "--metrics-addr", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics listen address is required")
	assert.Empty(t, w.runner.Calls())
}

func TestVerifyTrustCommand(t *testing.T) {
	w := newWorkspace(t)
	w.runner.Handler = func(call autopkgtest.Call) (*autopkg.Result, error) {
		return autopkgtest.Exit(1, "mismatch"), nil
	}

	out, err := w.execute("verify-trust", "Foo", "--json")
	require.ErrorIs(t, err, ErrRecipesFailed)

	var got []trustResult
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "failed", got[0].State)
	assert.False(t, got[0].OK)

	calls := w.runner.CallsTo("verify-trust-info")
	require.Len(t, calls, 1)
	assert.Equal(t, filepath.Join(w.dir, "recipes"), calls[0].ArgValue("--override-dir"))
}

func TestUpdateTrustCommand(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.execute("update-trust", "Foo")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Foo")
	assert.Contains(t, out, "untested")
	assert.Len(t, w.runner.CallsTo("update-trust-info"), 1)
}

func TestRecipeInfoCommand(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.execute("recipe", "info", "Foo", "--json")
	require.NoError(t, err, out)

	var got recipeInfo
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "com.example.download.Foo", got.Identifier)
	assert.Equal(t, "yaml", got.Format)
	assert.Equal(t, []string{"URLDownloader", "EndOfCheckPhase"}, got.Processors)

	out, err = w.execute("recipe", "info", "Foo")
	require.NoError(t, err)
	assert.Contains(t, out, "Input NAME:")

	_, err = w.execute("recipe", "info", "Nope")
	require.Error(t, err)
}

func TestCacheCommands(t *testing.T) {
	w := newWorkspace(t)

	_, err := w.execute("run", "Foo", "--json")
	require.NoError(t, err)

	out, err := w.execute("cache", "show", "Foo.recipe.yaml")
	require.NoError(t, err, out)
	assert.Contains(t, out, w.download)

	_, err = w.execute("cache", "show", "Other.recipe")
	require.Error(t, err)

	// The download still exists, so nothing is recreated.
	out, err = w.execute("cache", "dummy-files", "--json")
	require.NoError(t, err, out)
	assert.JSONEq(t, `{"created": 0}`, out)
}

func TestPolicyCommands(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.execute("policy", "check", "Foo", "Bad")
	require.ErrorIs(t, err, ErrRecipesFailed)
	assert.Contains(t, out, "denied")
	assert.Contains(t, out, "identifier-format")

	out, err = w.execute("policy", "check", "Foo", "--json")
	require.NoError(t, err, out)

	out, err = w.execute("policy", "list")
	require.NoError(t, err)
	for _, name := range []string{"identifier-format", "process-or-parent", "minimum-version", "input-name"} {
		assert.Contains(t, out, name)
	}
	assert.Empty(t, w.runner.CallsTo("run"))
}

func TestRecipeNames(t *testing.T) {
	t.Setenv("RECIPE", "Env1, Env2")

	names, err := recipeNames(nil, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Env1", "Env2"}, names)

	list := filepath.Join(t.TempDir(), "list.json")
	require.NoError(t, os.WriteFile(list, []byte(`["B", "A", "B"]`), 0o644))
	names, err = recipeNames([]string{"A"}, list)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, names)

	_, err = recipeNames(nil, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
