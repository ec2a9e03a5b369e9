package batch

import (
	"errors"
	"time"

	"github.com/cloudautopkg/runner/pkg/policy"
	"github.com/cloudautopkg/runner/pkg/recipe"
	"github.com/cloudautopkg/runner/pkg/report"
)

// Status is the outcome of one recipe within a batch.
type Status string

const (
	// StatusSucceeded means the pipeline ran and autopkg reported no failures.
	StatusSucceeded Status = "succeeded"

	// StatusFailed means the pipeline ran but the report lists failures.
	StatusFailed Status = "failed"

	// StatusSkipped means a gate blocked the recipe before the pipeline.
	StatusSkipped Status = "skipped"

	// StatusError means the recipe could not be constructed or the pipeline
	// returned an error.
	StatusError Status = "error"
)

// Gate names reported in Result.Gate.
const (
	GatePolicy         = "policy"
	GateMinimumVersion = "minimum_version"
	GateTrust          = "trust"
)

// Result is the outcome of one recipe.
type Result struct {
	BatchID    string                    `json:"batch_id"`
	Recipe     string                    `json:"recipe"`
	Status     Status                    `json:"status"`
	Gate       string                    `json:"gate,omitempty"`
	Reason     string                    `json:"reason,omitempty"`
	Err        error                     `json:"-"`
	Trust      string                    `json:"trust,omitempty"`
	ReportPath string                    `json:"report_path,omitempty"`
	Report     report.ConsolidatedReport `json:"report"`
	Violations []policy.PolicyViolation  `json:"violations,omitempty"`
	Warnings   []policy.PolicyViolation  `json:"warnings,omitempty"`
	StartedAt  time.Time                 `json:"started_at"`
	Duration   time.Duration             `json:"duration"`
}

func (r *Result) skip(gate, reason string) {
	r.Status = StatusSkipped
	r.Gate = gate
	r.Reason = reason
}

func (r *Result) fail(err error) {
	r.Status = StatusError
	r.Err = err
	r.Reason = err.Error()
}

// BatchSummary aggregates the results of one batch.
type BatchSummary struct {
	Total          int           `json:"total"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	Skipped        int           `json:"skipped"`
	Errored        int           `json:"errored"`
	Downloads      int           `json:"downloads"`
	PackagesBuilt  int           `json:"packages_built"`
	MunkiImported  int           `json:"munki_imported"`
	TotalDuration  time.Duration `json:"total_duration"`
	ErroredRecipes []string      `json:"errored_recipes,omitempty"`
	FailedRecipes  []string      `json:"failed_recipes,omitempty"`
	SkippedRecipes []string      `json:"skipped_recipes,omitempty"`
}

// HasErrors reports whether any recipe errored or was reported failed by autopkg.
func (s BatchSummary) HasErrors() bool {
	return s.Errored > 0 || s.Failed > 0
}

// Summary aggregates results in input order.
func Summary(results []Result) BatchSummary {
	var s BatchSummary
	s.Total = len(results)
	for _, r := range results {
		s.TotalDuration += r.Duration
		s.Downloads += len(r.Report.DownloadedItems)
		s.PackagesBuilt += len(r.Report.PkgBuiltItems)
		s.MunkiImported += len(r.Report.MunkiImportedItems)

		switch r.Status {
		case StatusSucceeded:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
			s.FailedRecipes = append(s.FailedRecipes, r.Recipe)
		case StatusSkipped:
			s.Skipped++
			s.SkippedRecipes = append(s.SkippedRecipes, r.Recipe)
		case StatusError:
			s.Errored++
			s.ErroredRecipes = append(s.ErroredRecipes, r.Recipe)
		}
	}
	return s
}

// errorKind labels a recipe error for the errors metric.
func errorKind(err error) string {
	var (
		lookupErr   *recipe.LookupError
		formatErr   *recipe.FormatError
		contentsErr *recipe.ContentsError
		inputErr    *recipe.InputError
	)
	switch {
	case errors.As(err, &lookupErr):
		return "lookup"
	case errors.As(err, &formatErr):
		return "format"
	case errors.As(err, &contentsErr):
		return "contents"
	case errors.As(err, &inputErr):
		return "input"
	default:
		return "pipeline"
	}
}
