package policy

import (
	"github.com/cloudautopkg/runner/pkg/recipe"
)

// NewRecipeInput builds the policy input document for r.
func NewRecipeInput(r *recipe.Recipe) *RecipeInput {
	c := r.Contents()
	return &RecipeInput{
		Name:           r.Name(),
		Path:           r.Path(),
		Format:         r.Format().String(),
		Identifier:     c.Identifier,
		Description:    c.Description,
		MinimumVersion: c.MinimumVersion,
		ParentRecipe:   c.ParentRecipe,
		Input:          c.Input,
		Process:        c.Process,
	}
}
