package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudautopkg/runner/pkg/recipe"
)

type trustResult struct {
	Recipe string `json:"recipe"`
	Path   string `json:"path,omitempty"`
	State  string `json:"state,omitempty"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

func newVerifyTrustCommand(opts *rootOptions) *cobra.Command {
	var recipeList string

	cmd := &cobra.Command{
		Use:   "verify-trust [recipes...]",
		Short: "Verify the trust info of recipe overrides",
		Example: `  autopkg-runner verify-trust Firefox.munki
  autopkg-runner verify-trust --recipe-list recipes.yaml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrustCommand(cmd, opts, args, recipeList, func(cmd *cobra.Command, r *recipe.Recipe) trustResult {
				state := r.VerifyTrustInfo(cmd.Context())
				return trustResult{State: state.String(), OK: state == recipe.TrustTrusted}
			})
		},
	}

	cmd.Flags().StringVar(&recipeList, "recipe-list", "", "file with a YAML or JSON list of recipe names")
	return cmd
}

func newUpdateTrustCommand(opts *rootOptions) *cobra.Command {
	var recipeList string

	cmd := &cobra.Command{
		Use:   "update-trust [recipes...]",
		Short: "Update the trust info of recipe overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrustCommand(cmd, opts, args, recipeList, func(cmd *cobra.Command, r *recipe.Recipe) trustResult {
				ok := r.UpdateTrustInfo(cmd.Context())
				return trustResult{State: r.TrustState().String(), OK: ok}
			})
		},
	}

	cmd.Flags().StringVar(&recipeList, "recipe-list", "", "file with a YAML or JSON list of recipe names")
	return cmd
}

// runTrustCommand applies fn to every named recipe sequentially. Recipes
// that cannot be loaded are reported and count as failures.
func runTrustCommand(
	cmd *cobra.Command,
	opts *rootOptions,
	args []string,
	recipeList string,
	fn func(*cobra.Command, *recipe.Recipe) trustResult,
) error {
	ctx := cmd.Context()

	names, err := recipeNames(args, recipeList)
	if err != nil {
		return err
	}
	cfg, err := opts.loadSettings(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, opts, cfg, false)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	results := make([]trustResult, 0, len(names))
	failed := false
	for _, name := range names {
		r, err := recipe.Load(name, a.env)
		if err != nil {
			results = append(results, trustResult{Recipe: name, Error: err.Error()})
			failed = true
			continue
		}
		res := fn(cmd, r)
		res.Recipe = name
		res.Path = r.Path()
		if !res.OK {
			failed = true
		}
		results = append(results, res)
	}

	if opts.jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	} else {
		tw := newTable(cmd)
		fmt.Fprintln(tw, "RECIPE\tOK\tSTATE\tDETAIL")
		for _, r := range results {
			fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", r.Recipe, r.OK, r.State, oneLine(r.Error))
		}
		_ = tw.Flush()
	}

	if failed {
		return ErrRecipesFailed
	}
	return nil
}
