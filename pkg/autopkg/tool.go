package autopkg

import (
	"context"
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// Tool builds and runs autopkg invocations.
type Tool struct {
	// Path is the autopkg executable.
	Path   string
	Runner CommandRunner
}

// NewTool returns a Tool running path through os/exec.
func NewTool(path string) *Tool {
	return &Tool{Path: path, Runner: ExecRunner{}}
}

// RunArgs returns the arguments of "autopkg run". verbosity is a flag such
// as "-vv" and is omitted when empty.
func RunArgs(name, reportPath, verbosity string, check bool) []string {
	args := []string{"run", name, "--report-plist=" + reportPath}
	if verbosity != "" {
		args = append(args, verbosity)
	}
	if check {
		args = append(args, "--check")
	}
	return args
}

// VerifyTrustArgs returns the arguments of "autopkg verify-trust-info".
func VerifyTrustArgs(name, overrideDir, verbosity string) []string {
	args := []string{"verify-trust-info", name, "--override-dir=" + overrideDir}
	if verbosity != "" {
		args = append(args, verbosity)
	}
	return args
}

// UpdateTrustArgs returns the arguments of "autopkg update-trust-info".
func UpdateTrustArgs(name, overrideDir string) []string {
	return []string{"update-trust-info", name, "--override-dir=" + overrideDir}
}

// Run executes "autopkg run" for one recipe.
func (t *Tool) Run(ctx context.Context, name, reportPath, verbosity string, check bool) (*Result, error) {
	return t.exec(ctx, RunArgs(name, reportPath, verbosity, check))
}

// VerifyTrustInfo executes "autopkg verify-trust-info".
func (t *Tool) VerifyTrustInfo(ctx context.Context, name, overrideDir, verbosity string) (*Result, error) {
	return t.exec(ctx, VerifyTrustArgs(name, overrideDir, verbosity))
}

// UpdateTrustInfo executes "autopkg update-trust-info".
func (t *Tool) UpdateTrustInfo(ctx context.Context, name, overrideDir string) (*Result, error) {
	return t.exec(ctx, UpdateTrustArgs(name, overrideDir))
}

var versionPattern = regexp.MustCompile(`\d+(\.\d+){0,2}(-[0-9A-Za-z.-]+)?`)

// Version runs "autopkg version" and parses its output.
func (t *Tool) Version(ctx context.Context) (*semver.Version, error) {
	res, err := t.exec(ctx, []string{"version"})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("autopkg version exited with status %d: %s", res.ExitCode, res.Stderr)
	}
	return ParseVersion(res.Stdout)
}

// ParseVersion extracts the first version number in s.
func ParseVersion(s string) (*semver.Version, error) {
	match := versionPattern.FindString(s)
	if match == "" {
		return nil, fmt.Errorf("no version found in %q", s)
	}
	v, err := semver.NewVersion(match)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", match, err)
	}
	return v, nil
}

func (t *Tool) exec(ctx context.Context, args []string) (*Result, error) {
	runner := t.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	return runner.Run(ctx, t.Path, args...)
}
