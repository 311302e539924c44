// Package tool implements the function / tool calling subsystem that lets
// agents invoke external capabilities (web search, plotting) with schema
// validated arguments, classified failures and consistent logging.
package tool

import (
	"context"
	"fmt"
)

// Tool defines the interface for extending agent capabilities with external functions.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define a JSON schema for parameters (validated by the Invoker before Call)
//   - Return *ToolError for failures that carry a meaningful code
//   - Be safe for concurrent use; one Invoker serves many parallel runs
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// It is shown to the model so it knows when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with already validated arguments. The context
	// carries the per-call deadline and the run identifier (core.RunIDFromContext).
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ArtifactProducer is implemented by tool payloads that reference stored
// artifacts. The Invoker copies the paths into the ToolResult.
type ArtifactProducer interface {
	Artifacts() []string
}

// Failure classes reported in ToolError.Code and ToolResult.ErrorDetail.
const (
	ClassTimeout     = "timeout"
	ClassNetwork     = "network"
	ClassEmptyResult = "empty_result"
	ClassPanic       = "panic"
	ClassError       = "error"
	// ClassInvalidArguments marks argument problems a schema cannot express
	// (e.g. mismatched lengths). The Invoker reports them as invalid_arguments.
	ClassInvalidArguments = "invalid_arguments"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Failure class
	Details any    `json:"details,omitempty"` // Additional error details
	Err     error  `json:"-"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *ToolError) Unwrap() error { return e.Err }

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
