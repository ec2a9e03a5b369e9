// Package autopkg wraps the AutoPkg command-line tool: its preferences
// plist and the subcommands the runner drives (run, verify-trust-info,
// update-trust-info, version).
//
// The tool is treated as an opaque blocking process. A non-zero exit is a
// Result with a non-zero ExitCode, never an error; only a failure to start
// the process is reported as an error.
package autopkg
