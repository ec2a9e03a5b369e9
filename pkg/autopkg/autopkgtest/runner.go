// Package autopkgtest provides a scripted autopkg.CommandRunner for tests.
package autopkgtest

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudautopkg/runner/pkg/autopkg"
)

// Call is one recorded invocation.
type Call struct {
	Name string
	Args []string
}

// Subcommand returns the autopkg subcommand ("run", "verify-trust-info", ...).
func (c Call) Subcommand() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// HasArg reports whether arg was passed.
func (c Call) HasArg(arg string) bool {
	for _, a := range c.Args {
		if a == arg {
			return true
		}
	}
	return false
}

// ArgValue returns the value of a --flag=value argument.
func (c Call) ArgValue(flag string) string {
	prefix := flag + "="
	for _, a := range c.Args {
		if strings.HasPrefix(a, prefix) {
			return strings.TrimPrefix(a, prefix)
		}
	}
	return ""
}

// Handler decides the outcome of a call.
type Handler func(call Call) (*autopkg.Result, error)

// Runner records calls and answers them with Handler. With no Handler every
// call exits 0.
type Runner struct {
	Handler Handler

	mu    sync.Mutex
	calls []Call
}

// Run implements autopkg.CommandRunner.
func (r *Runner) Run(_ context.Context, name string, args ...string) (*autopkg.Result, error) {
	call := Call{Name: name, Args: append([]string(nil), args...)}

	r.mu.Lock()
	r.calls = append(r.calls, call)
	handler := r.Handler
	r.mu.Unlock()

	if handler == nil {
		return &autopkg.Result{}, nil
	}
	return handler(call)
}

// Calls returns a copy of every recorded call.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsTo returns the recorded calls for one subcommand.
func (r *Runner) CallsTo(subcommand string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Subcommand() == subcommand {
			out = append(out, c)
		}
	}
	return out
}

// Exit returns a Result with the given code and stderr.
func Exit(code int, stderr string) *autopkg.Result {
	return &autopkg.Result{ExitCode: code, Stderr: stderr}
}
