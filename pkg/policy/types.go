package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that block the recipe.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that block the recipe.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity stops a recipe from running.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. It must define a "deny" set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks the policies shipped with the runner.
	Builtin bool `json:"builtin,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyViolation represents a single policy violation.
type PolicyViolation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Recipe is the file name of the recipe that violated the policy.
	Recipe string `json:"recipe,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Remediation provides suggested fixes.
	Remediation string `json:"remediation,omitempty"`
}

// PolicyResult represents the result of evaluating every enabled policy
// against one recipe.
type PolicyResult struct {
	// Allowed is false when any violation blocks the recipe.
	Allowed bool `json:"allowed"`

	// Violations lists error and critical violations.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings lists info and warning violations. They never block.
	Warnings []PolicyViolation `json:"warnings,omitempty"`

	// Errors lists policies that failed to evaluate.
	Errors []string `json:"errors,omitempty"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// RecipeInput is the document policies see as input.recipe.
type RecipeInput struct {
	Name           string                   `json:"name"`
	Path           string                   `json:"path"`
	Format         string                   `json:"format"`
	Identifier     string                   `json:"identifier"`
	Description    string                   `json:"description,omitempty"`
	MinimumVersion string                   `json:"minimum_version,omitempty"`
	ParentRecipe   string                   `json:"parent_recipe,omitempty"`
	Input          map[string]interface{}   `json:"input,omitempty"`
	Process        []map[string]interface{} `json:"process,omitempty"`
}

// PolicyInput represents the input data for policy evaluation.
type PolicyInput struct {
	// Recipe is the recipe being evaluated.
	Recipe *RecipeInput `json:"recipe"`

	// Context provides additional evaluation context.
	Context *PolicyContext `json:"context"`
}

// PolicyContext provides context information for policy evaluation.
type PolicyContext struct {
	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the command being performed ("run", "verify-trust", "check").
	Operation string `json:"operation,omitempty"`

	// AutoPkgVersion is the installed autopkg version, when known.
	AutoPkgVersion string `json:"autopkg_version,omitempty"`

	// DryRun indicates if this is a dry-run evaluation.
	DryRun bool `json:"dry_run"`
}

// PolicyBundle represents a collection of related policies.
type PolicyBundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`

	// CreatedAt is when the bundle was created.
	CreatedAt time.Time `json:"created_at"`
}

// PolicySummary provides aggregate statistics for policy evaluation.
type PolicySummary struct {
	// TotalRecipes is the number of recipes evaluated.
	TotalRecipes int `json:"total_recipes"`

	// TotalViolations is the total number of blocking violations.
	TotalViolations int `json:"total_violations"`

	// ViolationsBySeverity breaks down violations and warnings by severity.
	ViolationsBySeverity map[Severity]int `json:"violations_by_severity"`

	// TotalWarnings is the total number of warnings.
	TotalWarnings int `json:"total_warnings"`

	// AllowedRecipes is the number of recipes allowed to run.
	AllowedRecipes int `json:"allowed_recipes"`

	// BlockedRecipes is the number of blocked recipes.
	BlockedRecipes int `json:"blocked_recipes"`

	// EvaluationDuration is the total evaluation time.
	EvaluationDuration time.Duration `json:"evaluation_duration"`
}

// Summarize aggregates per-recipe results.
func Summarize(results []*PolicyResult) *PolicySummary {
	s := &PolicySummary{
		TotalRecipes:         len(results),
		ViolationsBySeverity: make(map[Severity]int),
	}
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Allowed {
			s.AllowedRecipes++
		} else {
			s.BlockedRecipes++
		}
		s.TotalViolations += len(r.Violations)
		s.TotalWarnings += len(r.Warnings)
		for _, v := range r.Violations {
			s.ViolationsBySeverity[v.Severity]++
		}
		for _, v := range r.Warnings {
			s.ViolationsBySeverity[v.Severity]++
		}
		s.EvaluationDuration += r.Duration
	}
	return s
}
