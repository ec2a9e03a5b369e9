package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		identifierFormatPolicy(),
		processOrParentPolicy(),
		minimumVersionPolicy(),
		inputNamePolicy(),
	}
}

func builtin(p Policy) Policy {
	now := time.Now()
	p.Builtin = true
	p.Enabled = true
	p.CreatedAt = now
	p.UpdatedAt = now
	return p
}

// identifierFormatPolicy requires reverse-domain identifiers.
func identifierFormatPolicy() Policy {
	return builtin(Policy{
		Name:        "identifier-format",
		Description: "Recipe identifiers must be reverse-domain style without whitespace",
		Severity:    SeverityError,
		Tags:        []string{"naming"},
		Rego: `package autopkg.policies.identifier

import rego.v1

deny contains violation if {
	id := input.recipe.identifier
	not regex.match("^[A-Za-z0-9_-]+(\\.[A-Za-z0-9_+-]+)+$", id)
	violation := {
		"message": sprintf("Identifier '%s' must be reverse-domain style, e.g. com.github.autopkg.download.Firefox", [id]),
		"severity": "error",
	}
}
`,
	})
}

// processOrParentPolicy requires something for autopkg to execute.
func processOrParentPolicy() Policy {
	return builtin(Policy{
		Name:        "process-or-parent",
		Description: "Recipes must declare Process steps or a ParentRecipe, and every step needs a Processor",
		Severity:    SeverityError,
		Tags:        []string{"structure"},
		Rego: `package autopkg.policies.process

import rego.v1

deny contains violation if {
	recipe := input.recipe
	count(object.get(recipe, "process", [])) == 0
	object.get(recipe, "parent_recipe", "") == ""
	violation := {
		"message": sprintf("Recipe %s has no Process steps and no ParentRecipe", [recipe.name]),
		"severity": "error",
	}
}

deny contains violation if {
	some i
	step := input.recipe.process[i]
	not step.Processor
	violation := {
		"message": sprintf("Process step %d of %s has no Processor", [i, input.recipe.name]),
		"severity": "error",
	}
}
`,
	})
}

// minimumVersionPolicy checks the MinimumVersion declaration.
func minimumVersionPolicy() Policy {
	return builtin(Policy{
		Name:        "minimum-version",
		Description: "Recipes should declare a dotted numeric MinimumVersion",
		Severity:    SeverityWarning,
		Tags:        []string{"versioning"},
		Rego: `package autopkg.policies.minimum_version

import rego.v1

deny contains violation if {
	not input.recipe.minimum_version
	violation := {
		"message": sprintf("Recipe %s does not declare MinimumVersion", [input.recipe.name]),
		"severity": "warning",
	}
}

deny contains violation if {
	v := input.recipe.minimum_version
	not regex.match("^[0-9]+(\\.[0-9]+){0,2}$", v)
	violation := {
		"message": sprintf("MinimumVersion '%s' of %s is not a dotted version number", [v, input.recipe.name]),
		"severity": "error",
	}
}
`,
	})
}

// inputNamePolicy notes recipes without Input.NAME.
func inputNamePolicy() Policy {
	return builtin(Policy{
		Name:        "input-name",
		Description: "Recipes usually define Input.NAME",
		Severity:    SeverityInfo,
		Tags:        []string{"input"},
		Rego: `package autopkg.policies.input_name

import rego.v1

deny contains violation if {
	not input.recipe.input.NAME
	violation := {
		"message": sprintf("Recipe %s does not define Input.NAME", [input.recipe.name]),
		"severity": "info",
	}
}
`,
	})
}
