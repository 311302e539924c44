// Package agent contains the role runtimes of the research team.
//
// A Runtime binds a Role (instructions plus tool allow-list) to a
// model.Model and maps the shared transcript to exactly one
// core.Contribution per call. Runtimes hold no conversation state; the
// scheduler owns the transcript and calls Act once per turn.
//
// Orchestrator wraps the Orchestrator role and parses its output into a
// core.Decision ({"next_speaker": ...} or {"stop": true, "reason": ...}).
// Malformed JSON is repaired where possible; a trailing TERMINATE is
// treated as a stop request.
package agent
