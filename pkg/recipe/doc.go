// Package recipe implements the AutoPkg recipe lifecycle.
//
// A Recipe is built from a name: the Locator resolves it to a file in the
// configured override and search directories, the parser decodes the YAML or
// property list document into Contents, and a unique report path is reserved
// in the report directory.
//
// Running a recipe is a two-phase protocol. The check phase invokes
// "autopkg run --check" and consolidates the report it writes. When that
// report lists no downloads the run ends there. Otherwise the fingerprints of
// the downloaded artifacts are collected concurrently, saved to the metadata
// cache under the recipe's file name, and the full phase runs once.
//
// Non-zero autopkg exits are logged and never returned as errors; the report
// is the record of what failed. Report parsing, metadata collection and cache
// persistence failures are returned to the caller.
//
// Each recipe also carries a trust-info state machine:
//
//	Untested --verify--> Trusted | Failed
//	any      --update--> Untested
//
// Verification runs autopkg at most once until the next update.
package recipe
