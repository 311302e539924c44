// Package core provides the foundational domain types shared by the
// researchmesh packages:
//
//   - AgentID and Roster (the closed team of agents)
//   - Message and Transcript (the append-only shared history of a run)
//   - ToolRequest / ToolResult and the ErrorCode taxonomy
//   - Contribution, Decision, RunState and FinalReport
//   - Content / Part (provider-neutral model content)
//   - ArtifactStore and ModelLimiter
//
// The package keeps orchestration, model and tool implementations out of
// scope so that every other package can depend on it without cycles.
package core
