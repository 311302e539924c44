package core

import "context"

// RunOptions adjusts a single run.
type RunOptions struct {
	// RunID overrides the generated run identifier so callers can Cancel a
	// run they started from another goroutine.
	RunID string
}

// Runner defines the minimal contract for executing research tasks.
//
// Semantics & Guarantees:
//   - Isolation: every Run starts with a fresh Transcript and RunState; no
//     conversational state is shared between runs.
//   - Termination: Run always returns a FinalReport once the run has started,
//     whatever the termination reason. The error return only covers failures
//     that prevent a run from starting (e.g. an empty task).
//   - Cancellation: Cancel(runID) stops the run at the next round boundary.
//     An in-flight model or tool call is allowed to finish first.
type Runner interface {
	// Run executes task to completion and returns the report.
	Run(ctx context.Context, task string, optFns ...func(o *RunOptions)) (FinalReport, error)

	// Cancel requests cooperative termination of an in-flight run. Cancelling
	// an unknown or already finished run returns an error.
	Cancel(runID string) error
}
