package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cloudautopkg/runner/pkg/autopkg"
	"github.com/cloudautopkg/runner/pkg/recipe"
)

func newRecipeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipe",
		Short: "Inspect recipes",
	}
	cmd.AddCommand(newRecipeInfoCommand(opts))
	return cmd
}

type recipeInfo struct {
	Name           string                 `json:"name"`
	Path           string                 `json:"path"`
	Format         string                 `json:"format"`
	Identifier     string                 `json:"identifier"`
	Description    string                 `json:"description,omitempty"`
	MinimumVersion string                 `json:"minimum_version,omitempty"`
	ParentRecipe   string                 `json:"parent_recipe,omitempty"`
	Input          map[string]interface{} `json:"input,omitempty"`
	Processors     []string               `json:"processors,omitempty"`
}

func newRecipeInfoCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <recipe>",
		Short: "Locate a recipe and show its parsed contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadSettings(cmd)
			if err != nil {
				return err
			}
			prefs, err := autopkg.LoadPrefs(cfg.PrefsFile)
			if err != nil {
				return err
			}

			path, err := recipe.NewLocator(prefs).Find(args[0])
			if err != nil {
				return err
			}
			contents, format, err := recipe.Parse(path)
			if err != nil {
				return err
			}

			info := recipeInfo{
				Name:           args[0],
				Path:           path,
				Format:         format.String(),
				Identifier:     contents.Identifier,
				Description:    contents.Description,
				MinimumVersion: contents.MinimumVersion,
				ParentRecipe:   contents.ParentRecipe,
				Input:          contents.Input,
			}
			for _, step := range contents.Process {
				if p, ok := step["Processor"].(string); ok {
					info.Processors = append(info.Processors, p)
				}
			}

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), info)
			}

			tw := newTable(cmd)
			fmt.Fprintf(tw, "Path:\t%s\n", info.Path)
			fmt.Fprintf(tw, "Format:\t%s\n", info.Format)
			fmt.Fprintf(tw, "Identifier:\t%s\n", info.Identifier)
			if info.Description != "" {
				fmt.Fprintf(tw, "Description:\t%s\n", oneLine(info.Description))
			}
			if info.MinimumVersion != "" {
				fmt.Fprintf(tw, "MinimumVersion:\t%s\n", info.MinimumVersion)
			}
			if info.ParentRecipe != "" {
				fmt.Fprintf(tw, "ParentRecipe:\t%s\n", info.ParentRecipe)
			}

			keys := make([]string, 0, len(info.Input))
			for k := range info.Input {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(tw, "Input %s:\t%v\n", k, info.Input[k])
			}
			for i, p := range info.Processors {
				fmt.Fprintf(tw, "Process %d:\t%s\n", i+1, p)
			}
			return tw.Flush()
		},
	}
}
