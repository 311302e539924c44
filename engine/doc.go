// Package engine runs the turn-taking loop of a research run.
//
// A Scheduler owns one transcript per run. Each round it asks the
// Orchestrator (a Decider) who speaks next, dispatches that worker (an
// Actor), executes any tool request the worker makes through a
// ToolInvoker and appends every step to the transcript. Tool turns stay
// inside the round of the worker that asked for them.
//
// # Termination
//
// A run ends with exactly one status:
//
//   - completed: the Orchestrator asked to stop and an Analyst or
//     DataAnalyst has produced a substantive answer
//   - stalled: the same decision repeated StallThreshold times in a row
//     without any tool activity
//   - resource_exhausted: MaxRounds, MaxToolTurnsPerRound or MaxModelCalls
//     was reached
//   - orchestrator_unavailable / cancelled: the Orchestrator kept failing,
//     or the caller cancelled the context
//
// Failures of individual agents or tools never abort a run. They become
// notice messages in the transcript and warnings in the FinalReport, and
// the Orchestrator decides how to proceed.
//
// # Observability
//
// Callbacks observe rounds, agent turns, tool calls and warnings. Metrics
// exports Prometheus collectors and every run, decision, round, agent turn
// and tool call is wrapped in an OpenTelemetry span.
//
// Usage:
//
//	sched, err := engine.New(orchestrator, []engine.Actor{search, analyst, data}, invoker,
//	    func(o *engine.Options) {
//	        o.Config.MaxRounds = 8
//	        o.Logger = logger
//	    })
//	if err != nil {
//	    return err
//	}
//	report, err := sched.Run(ctx, "Find the population of France and plot it against Germany")
package engine
