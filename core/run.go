package core

// ContributionKind enumerates the shapes of an agent turn.
type ContributionKind string

const (
	// ContributionText is a natural-language contribution.
	ContributionText ContributionKind = "text"
	// ContributionToolRequest asks the tool invoker to run a tool.
	ContributionToolRequest ContributionKind = "tool_request"
	// ContributionError is a synthesized failure (e.g. a refused tool).
	ContributionError ContributionKind = "error"
)

// Contribution is an agent's output for one turn.
type Contribution struct {
	Speaker     AgentID
	Kind        ContributionKind
	Text        string
	ToolRequest *ToolRequest
	ErrorCode   ErrorCode
	ErrorDetail string
}

// TextContribution builds a text contribution.
func TextContribution(speaker AgentID, text string) Contribution {
	return Contribution{Speaker: speaker, Kind: ContributionText, Text: text}
}

// ToolContribution builds a tool request contribution.
func ToolContribution(speaker AgentID, req ToolRequest) Contribution {
	return Contribution{Speaker: speaker, Kind: ContributionToolRequest, ToolRequest: &req}
}

// ErrorContribution builds a failure contribution. req is optional and names
// the tool request that caused the failure.
func ErrorContribution(speaker AgentID, code ErrorCode, detail string, req *ToolRequest) Contribution {
	return Contribution{Speaker: speaker, Kind: ContributionError, ErrorCode: code, ErrorDetail: detail, ToolRequest: req}
}

// Decision is the Orchestrator's structured output: either the name of the
// next speaker or a stop request. NextSpeaker is kept verbatim so callers can
// validate it against their roster; it is empty when the model output could
// not be parsed at all.
type Decision struct {
	NextSpeaker string `json:"next_speaker,omitempty"`
	Stop        bool   `json:"stop,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Raw         string `json:"-"`
}

// Status is the user-visible outcome of a run.
type Status string

const (
	// StatusCompleted means the Orchestrator stopped with a deliverable present.
	StatusCompleted Status = "completed"
	// StatusStalled means orchestration repeated itself without new information.
	StatusStalled Status = "stalled"
	// StatusResourceExhausted means the round or model-call budget ran out.
	StatusResourceExhausted Status = "resource_exhausted"
	// StatusOrchestratorUnavailable means the Orchestrator failed repeatedly.
	StatusOrchestratorUnavailable Status = "orchestrator_unavailable"
	// StatusCancelled means the caller cancelled the run between rounds.
	StatusCancelled Status = "cancelled"
)

// RunState is the scheduler's per-run bookkeeping.
type RunState struct {
	RunID             string
	RoundCount        int
	MaxRounds         int
	Terminated        bool
	TerminationReason Status
	Warnings          []string
}

// Warn records a non-fatal anomaly.
func (s *RunState) Warn(msg string) { s.Warnings = append(s.Warnings, msg) }

// Terminate marks the run finished with reason.
func (s *RunState) Terminate(reason Status) {
	s.Terminated = true
	s.TerminationReason = reason
}

// FinalReport is the single output of a run.
type FinalReport struct {
	RunID         string    `json:"run_id" yaml:"run_id"`
	Status        Status    `json:"status" yaml:"status"`
	Reason        string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	SummaryText   string    `json:"summary_text" yaml:"summary_text"`
	ArtifactPaths []string  `json:"artifact_paths" yaml:"artifact_paths"`
	Rounds        int       `json:"rounds" yaml:"rounds"`
	Warnings      []string  `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Transcript    []Message `json:"transcript,omitempty" yaml:"transcript,omitempty"`
}

// Succeeded reports whether the run completed normally.
func (r FinalReport) Succeeded() bool { return r.Status == StatusCompleted }
