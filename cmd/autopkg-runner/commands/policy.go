package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudautopkg/runner/pkg/policy"
	"github.com/cloudautopkg/runner/pkg/recipe"
	"github.com/cloudautopkg/runner/pkg/telemetry"
)

func newPolicyCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Evaluate recipe policies",
	}
	cmd.AddCommand(newPolicyCheckCommand(opts))
	cmd.AddCommand(newPolicyListCommand(opts))
	return cmd
}

type policyCheckResult struct {
	Recipe string               `json:"recipe"`
	Error  string               `json:"error,omitempty"`
	Result *policy.PolicyResult `json:"result,omitempty"`
}

func newPolicyCheckCommand(opts *rootOptions) *cobra.Command {
	var (
		recipeList  string
		policyPaths []string
	)

	cmd := &cobra.Command{
		Use:   "check [recipes...]",
		Short: "Evaluate built-in and user policies against recipes without running them",
		Example: `  autopkg-runner policy check Firefox.download
  autopkg-runner policy check --recipe-list recipes.yaml --policy ./policies --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			names, err := recipeNames(args, recipeList)
			if err != nil {
				return err
			}
			cfg, err := opts.loadSettings(cmd)
			if err != nil {
				return err
			}
			cfg.PolicyPaths = append(cfg.PolicyPaths, policyPaths...)

			a, err := newApp(ctx, opts, cfg, false)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			engine, err := policy.NewEngine(a.logger)
			if err != nil {
				return err
			}
			if len(cfg.PolicyPaths) > 0 {
				if err := engine.LoadPolicies(ctx, cfg.PolicyPaths); err != nil {
					return err
				}
			}

			checks := make([]policyCheckResult, 0, len(names))
			var evaluated []*policy.PolicyResult
			failed := false
			for _, name := range names {
				check := policyCheckResult{Recipe: name}

				r, err := recipe.Load(name, a.env)
				if err != nil {
					check.Error = err.Error()
					failed = true
					checks = append(checks, check)
					continue
				}

				result, err := engine.EvaluateRecipe(ctx, policy.NewRecipeInput(r), &policy.PolicyContext{
					Timestamp: time.Now(),
					Operation: "check",
					DryRun:    true,
				})
				if err != nil {
					check.Error = err.Error()
					failed = true
				} else {
					check.Result = result
					evaluated = append(evaluated, result)
					if !result.Allowed {
						failed = true
					}
				}
				checks = append(checks, check)
			}

			summary := policy.Summarize(evaluated)
			if opts.jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), struct {
					Checks  []policyCheckResult   `json:"checks"`
					Summary *policy.PolicySummary `json:"summary"`
				}{checks, summary}); err != nil {
					return err
				}
			} else {
				printPolicyChecks(cmd, checks)
			}

			if failed {
				return ErrRecipesFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&recipeList, "recipe-list", "", "file with a YAML or JSON list of recipe names")
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "extra .rego/.json policy files or directories")
	return cmd
}

func printPolicyChecks(cmd *cobra.Command, checks []policyCheckResult) {
	tw := newTable(cmd)
	fmt.Fprintln(tw, "RECIPE\tRESULT\tPOLICY\tSEVERITY\tMESSAGE")
	for _, c := range checks {
		switch {
		case c.Error != "":
			fmt.Fprintf(tw, "%s\terror\t\t\t%s\n", c.Recipe, oneLine(c.Error))
		case c.Result.Allowed && len(c.Result.Warnings) == 0:
			fmt.Fprintf(tw, "%s\tallowed\t\t\t\n", c.Recipe)
		default:
			verdict := "allowed"
			if !c.Result.Allowed {
				verdict = "denied"
			}
			for _, v := range append(append([]policy.PolicyViolation(nil), c.Result.Violations...), c.Result.Warnings...) {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.Recipe, verdict, v.Policy, v.Severity, oneLine(v.Message))
			}
		}
	}
	_ = tw.Flush()
}

func newPolicyListCommand(opts *rootOptions) *cobra.Command {
	var policyPaths []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List built-in and user policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := opts.loadSettings(cmd)
			if err != nil {
				return err
			}
			paths := append(cfg.PolicyPaths, policyPaths...)

			logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
			if err != nil {
				return err
			}
			defer logger.Close()

			engine, err := policy.NewEngine(logger.Zerolog())
			if err != nil {
				return err
			}
			if len(paths) > 0 {
				if err := engine.LoadPolicies(ctx, paths); err != nil {
					return err
				}
			}

			policies := engine.ListPolicies()
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), policies)
			}

			tw := newTable(cmd)
			fmt.Fprintln(tw, "NAME\tSEVERITY\tENABLED\tBUILTIN\tDESCRIPTION")
			for _, p := range policies {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\n", p.Name, p.Severity, p.Enabled, p.Builtin, oneLine(p.Description))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "extra .rego/.json policy files or directories")
	return cmd
}
