package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudautopkg/runner/pkg/batch"
	"github.com/cloudautopkg/runner/pkg/policy"
	"github.com/cloudautopkg/runner/pkg/settings"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	var (
		recipeList    string
		verifyTrust   bool
		policyPaths   []string
		watchPolicies bool
		skipPolicy    bool
		metricsAddr   string
	)

	cmd := &cobra.Command{
		Use:   "run [recipes...]",
		Short: "Run recipes through check, metadata capture and full phases",
		Long: `Run every recipe through its gates and execution pipeline.

For each recipe the check phase runs first. When it reports new downloads,
their etag, size and last-modified fingerprints are saved in the metadata
cache and the full recipe runs. One failing recipe never stops the batch.

Recipes are taken from the arguments, from --recipe-list (a YAML or JSON
list) or, when neither is given, from the comma separated RECIPE variable.`,
		Example: `  # Run two recipes
  autopkg-runner run Firefox.download Chrome.pkg

  # Run a list with four workers, verifying trust info first
  autopkg-runner run --recipe-list recipes.yaml --max-concurrency 4 --verify-trust

  # Enforce extra policies and expose Prometheus metrics
  autopkg-runner run Firefox.munki --policy ./policies --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			names, err := recipeNames(args, recipeList)
			if err != nil {
				return err
			}

			cfg, err := opts.loadSettings(cmd, func(cfg *settings.Settings) {
				if verifyTrust {
					cfg.VerifyTrust = true
				}
				cfg.PolicyPaths = append(cfg.PolicyPaths, policyPaths...)
				if cmd.Flags().Changed("metrics-addr") {
					cfg.Telemetry.Metrics.Enabled = true
					cfg.Telemetry.Metrics.ListenAddress = metricsAddr
				}
			})
			if err != nil {
				return err
			}

			a, err := newApp(ctx, opts, cfg, true)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if err := a.telemetry.Metrics.StartMetricsServer(ctx, a.telemetry.Logger); err != nil {
				return fmt.Errorf("failed to start metrics server: %w", err)
			}

			runner := batch.NewRunner(a.env, a.logger)
			runner.Events = a.telemetry.Events
			runner.VerifyTrust = cfg.VerifyTrust || a.prefs.FailRecipesWithoutTrustInfo()

			if !skipPolicy {
				engine, err := policy.NewEngine(a.logger)
				if err != nil {
					return err
				}
				if len(cfg.PolicyPaths) > 0 {
					if err := engine.LoadPolicies(ctx, cfg.PolicyPaths); err != nil {
						return err
					}
					if watchPolicies {
						if err := engine.Watch(ctx, cfg.PolicyPaths); err != nil {
							return err
						}
					}
				}
				runner.Policy = engine
			}

			a.logger.Info().
				Int("recipes", len(names)).
				Int("max_concurrency", cfg.MaxConcurrency).
				Str("cache_backend", a.store.Name()).
				Msg("Running recipes")

			results := runner.Run(ctx, names)
			summary := batch.Summary(results)

			if opts.jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), struct {
					Results []batch.Result     `json:"results"`
					Summary batch.BatchSummary `json:"summary"`
				}{results, summary}); err != nil {
					return err
				}
			} else {
				printResults(cmd, results, summary)
			}

			if summary.HasErrors() {
				return ErrRecipesFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&recipeList, "recipe-list", "", "file with a YAML or JSON list of recipe names")
	cmd.Flags().BoolVar(&verifyTrust, "verify-trust", false, "skip recipes whose trust info does not verify")
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "extra .rego/.json policy files or directories")
	cmd.Flags().BoolVar(&watchPolicies, "watch-policies", false, "reload --policy paths when they change")
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "disable the policy gate")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}
