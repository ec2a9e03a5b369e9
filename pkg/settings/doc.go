// Package settings holds the runner's process-wide configuration.
//
// A Settings value is built once at process start: defaults are applied,
// an optional YAML file is overlaid, command-line overrides are copied in
// and the result is validated. After validation the value is treated as
// read-only and handed explicitly to every component that needs it.
//
// Example:
//
//	cfg, err := settings.Load("runner.yaml")
//	if err != nil {
//		return err
//	}
//	cfg.MaxConcurrency = 4
//	if err := cfg.Validate(); err != nil {
//		return err
//	}
package settings
