// Package sandbox provides the isolated execution environment for engine
// commands. The command vector is handed to process creation verbatim —
// never through a shell — so no argument is subject to shell re-parsing.
package sandbox

import (
	"context"
	"time"
)

// Sandbox executes a command vector in an isolated environment.
type Sandbox interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// ExecutionRequest defines what to run and under what constraints.
type ExecutionRequest struct {
	// Command is the program and arguments (e.g. ["fluent", "openai", "hi"]).
	// Passed directly to process creation, never shell-interpreted.
	Command []string

	// Timeout overrides the sandbox default. Zero = use default.
	Timeout time.Duration
}

// ExecutionResult captures the outcome of one sandboxed command.
// A non-zero ExitCode is a result, not an error; TimedOut marks a
// forcibly terminated run. Stderr is already redacted and truncated.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Failed reports whether the run should be surfaced as an execution failure.
func (r *ExecutionResult) Failed() bool {
	return r.TimedOut || r.ExitCode != 0
}
