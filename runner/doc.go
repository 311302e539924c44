// Package runner executes research runs on top of an engine.Scheduler.
//
// A Runner adds what a single Scheduler call lacks: cancellation by run ID
// from another goroutine and bounded parallel execution of independent tasks
// (RunAll). Runs never share a transcript, so parallelism needs no
// coordination beyond the concurrency limit.
package runner
