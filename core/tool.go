package core

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies failures that are represented as data rather than
// returned as Go errors. Codes are stable strings so they can be shown to
// models and matched by callers.
type ErrorCode string

const (
	// CodeNone marks the absence of an error.
	CodeNone ErrorCode = ""
	// CodeInvalidArguments signals a tool schema mismatch; recoverable by re-prompting.
	CodeInvalidArguments ErrorCode = "invalid_arguments"
	// CodeToolNotPermitted signals a request outside the role's allow-list.
	CodeToolNotPermitted ErrorCode = "tool_not_permitted"
	// CodeUnknownTool signals a request for a tool nobody registered.
	CodeUnknownTool ErrorCode = "unknown_tool"
	// CodeCollaboratorFailure signals a network / external API / model failure.
	CodeCollaboratorFailure ErrorCode = "collaborator_failure"
	// CodeOrchestratorUnavailable signals repeated orchestrator model failures.
	CodeOrchestratorUnavailable ErrorCode = "orchestrator_unavailable"
	// CodeStalled signals repeated orchestration decisions without new information.
	CodeStalled ErrorCode = "stalled"
	// CodeResourceExhausted signals that the round or model-call budget ran out.
	CodeResourceExhausted ErrorCode = "resource_exhausted"
)

// ToolRequest is produced by an agent turn and consumed by the tool invoker.
type ToolRequest struct {
	ID        string         `json:"id" yaml:"id"`
	ToolName  string         `json:"tool_name" yaml:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// ArgumentsJSON renders the arguments as a compact JSON object ("{}" when empty).
func (r ToolRequest) ArgumentsJSON() string {
	if len(r.Arguments) == 0 {
		return "{}"
	}
	b, err := json.Marshal(r.Arguments)
	if err != nil {
		return fmt.Sprintf("%v", r.Arguments)
	}
	return string(b)
}

// ToolResult is the outcome of exactly one ToolRequest. Failures are carried
// in ErrorCode / ErrorDetail; Payload is only meaningful when Success is true.
type ToolResult struct {
	RequestID     string    `json:"request_id" yaml:"request_id"`
	ToolName      string    `json:"tool_name" yaml:"tool_name"`
	Success       bool      `json:"success" yaml:"success"`
	Payload       any       `json:"payload,omitempty" yaml:"payload,omitempty"`
	ErrorCode     ErrorCode `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorDetail   string    `json:"error_detail,omitempty" yaml:"error_detail,omitempty"`
	ArtifactPaths []string  `json:"artifact_paths,omitempty" yaml:"artifact_paths,omitempty"`
}

// Failed constructs a failed result for req.
func Failed(req ToolRequest, code ErrorCode, detail string) ToolResult {
	return ToolResult{
		RequestID:   req.ID,
		ToolName:    req.ToolName,
		Success:     false,
		ErrorCode:   code,
		ErrorDetail: detail,
	}
}

// Succeeded constructs a successful result for req.
func Succeeded(req ToolRequest, payload any, artifacts ...string) ToolResult {
	return ToolResult{
		RequestID:     req.ID,
		ToolName:      req.ToolName,
		Success:       true,
		Payload:       payload,
		ArtifactPaths: artifacts,
	}
}

// Summary renders the result the way it is shown to models: the JSON payload
// on success, or an error object naming the code and detail.
func (r ToolResult) Summary() string {
	var v any
	if r.Success {
		v = r.Payload
	} else {
		v = map[string]any{"error": r.ErrorCode, "detail": r.ErrorDetail}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
