// Package logging provides a minimal logging interface and adapters for researchmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the scheduler, agents and tools use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - StructuredLogger with run/component context and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", os.Stderr)
//	sched, err := engine.New(orchestrator, workers, invoker, func(o *engine.Options) { o.Logger = logger })
//
// Messages are dotted event names ("tool.invoke.failed") and arguments are
// alternating key/value pairs.
package logging
