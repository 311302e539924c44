package core

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind distinguishes plain contributions from tool traffic.
type MessageKind string

const (
	// KindText is a natural-language contribution (or a synthesized notice).
	KindText MessageKind = "text"
	// KindToolCall records a ToolRequest issued by the speaker.
	KindToolCall MessageKind = "tool_call"
	// KindToolResult records the ToolResult answering an earlier tool call.
	KindToolResult MessageKind = "tool_result"
)

// Message is one immutable entry of a Transcript.
//
// Content always holds a human/model readable rendering: the text itself,
// the JSON arguments of a tool call, or the JSON summary of a tool result.
// ToolRequest / ToolResult carry the structured form for tool traffic.
// ErrorCode is set on synthesized notices (refused tools, agent failures)
// so they can be told apart from substantive contributions.
type Message struct {
	ID          string       `json:"id" yaml:"id"`
	Speaker     AgentID      `json:"speaker" yaml:"speaker"`
	Kind        MessageKind  `json:"kind" yaml:"kind"`
	Content     string       `json:"content" yaml:"content"`
	RoundIndex  int          `json:"round_index" yaml:"round_index"`
	ToolRequest *ToolRequest `json:"tool_request,omitempty" yaml:"tool_request,omitempty"`
	ToolResult  *ToolResult  `json:"tool_result,omitempty" yaml:"tool_result,omitempty"`
	ErrorCode   ErrorCode    `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	Timestamp   time.Time    `json:"timestamp" yaml:"timestamp"`
}

// NewID generates a new unique identifier for messages, runs and requests.
func NewID() string { return uuid.NewString() }

func newMessage(speaker AgentID, kind MessageKind, content string, round int) Message {
	return Message{
		ID:         NewID(),
		Speaker:    speaker,
		Kind:       kind,
		Content:    content,
		RoundIndex: round,
		Timestamp:  time.Now().UTC(),
	}
}

// NewTextMessage creates a text contribution.
func NewTextMessage(speaker AgentID, text string, round int) Message {
	return newMessage(speaker, KindText, text, round)
}

// NewNoticeMessage creates a synthesized text message carrying an error code.
// Notices are not substantive: they never count as a deliverable.
func NewNoticeMessage(speaker AgentID, code ErrorCode, text string, round int) Message {
	m := newMessage(speaker, KindText, text, round)
	m.ErrorCode = code
	return m
}

// NewToolCallMessage records a tool request issued by speaker.
func NewToolCallMessage(speaker AgentID, req ToolRequest, round int) Message {
	m := newMessage(speaker, KindToolCall, req.ArgumentsJSON(), round)
	r := req
	m.ToolRequest = &r
	return m
}

// NewToolResultMessage records the result answering a previous tool call.
func NewToolResultMessage(speaker AgentID, res ToolResult, round int) Message {
	m := newMessage(speaker, KindToolResult, res.Summary(), round)
	r := res
	m.ToolResult = &r
	m.ErrorCode = res.ErrorCode
	return m
}

// IsSubstantive reports whether the message is a real text contribution by a
// worker agent, as opposed to tool traffic, orchestration decisions, the task
// description or synthesized notices.
func (m Message) IsSubstantive() bool {
	return m.Kind == KindText && m.ErrorCode == CodeNone && m.Speaker.IsWorker()
}
