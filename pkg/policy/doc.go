// Package policy gates recipes with Open Policy Agent (OPA) Rego policies.
//
// Every recipe is turned into a RecipeInput document (name, identifier,
// input variables, process steps and so on) and evaluated against each
// enabled policy before autopkg is invoked. A policy is a Rego module that
// defines a "deny" set; each element is either a message string or an
// object with "message", "severity" and optional "remediation" keys.
// Violations of severity error or critical block the recipe; info and
// warning violations are reported only.
//
// # Built-in Policies
//
//  1. identifier-format - Identifier must be reverse-domain style
//  2. process-or-parent - Process steps or a ParentRecipe must be declared
//  3. minimum-version - MinimumVersion should be declared and numeric
//  4. input-name - Input.NAME should be defined
//
// # Custom Policies
//
// Custom policies are loaded from .rego files (named after the file, severity
// from a "# severity:" comment) and from .json files holding one policy or a
// bundle:
//
//	# Recipes from the corporate repo must not use SparkleUpdateInfoProvider.
//	# severity: error
//	package corp.recipes
//
//	import rego.v1
//
//	deny contains msg if {
//	    startswith(input.recipe.identifier, "com.corp.")
//	    some step in input.recipe.process
//	    step.Processor == "SparkleUpdateInfoProvider"
//	    msg := "corporate recipes must pin download URLs"
//	}
//
// # Hot Reload
//
// Engine.Watch reloads user policies when files under the configured paths
// change. Built-in policies stay loaded unless a user policy of the same
// name replaces them.
package policy
