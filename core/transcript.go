package core

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvariant is wrapped by every Transcript.Append rejection.
var ErrInvariant = errors.New("transcript invariant violated")

// Transcript is the shared, ordered conversation history of a run.
//
// Contract:
//   - Append-only during a run; Reset only at the start of a new run
//   - RoundIndex never decreases from one message to the next
//   - Every tool_result answers exactly one earlier tool_call issued by the
//     same speaker in the same round (matched by request ID)
//
// A Transcript is owned by a single run and is not safe for concurrent
// mutation; readers receive copies.
type Transcript struct {
	messages []Message
	// pending maps unanswered tool_call request IDs to their call message index.
	pending map[string]int
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{pending: map[string]int{}}
}

// Reset clears all history.
func (t *Transcript) Reset() {
	t.messages = nil
	t.pending = map[string]int{}
}

// Append adds m after validating the ordering and pairing invariants.
func (t *Transcript) Append(m Message) error {
	if t.pending == nil {
		t.pending = map[string]int{}
	}
	if n := len(t.messages); n > 0 && m.RoundIndex < t.messages[n-1].RoundIndex {
		return fmt.Errorf("%w: round index %d after %d", ErrInvariant, m.RoundIndex, t.messages[n-1].RoundIndex)
	}

	switch m.Kind {
	case KindText:
	case KindToolCall:
		if m.ToolRequest == nil || m.ToolRequest.ID == "" {
			return fmt.Errorf("%w: tool_call without request id", ErrInvariant)
		}
		if _, dup := t.pending[m.ToolRequest.ID]; dup {
			return fmt.Errorf("%w: duplicate tool_call %s", ErrInvariant, m.ToolRequest.ID)
		}
	case KindToolResult:
		if m.ToolResult == nil {
			return fmt.Errorf("%w: tool_result without result", ErrInvariant)
		}
		idx, ok := t.pending[m.ToolResult.RequestID]
		if !ok {
			return fmt.Errorf("%w: orphaned tool_result %s", ErrInvariant, m.ToolResult.RequestID)
		}
		call := t.messages[idx]
		if call.Speaker != m.Speaker || call.RoundIndex != m.RoundIndex {
			return fmt.Errorf("%w: tool_result %s does not match its call (speaker %s/%s, round %d/%d)",
				ErrInvariant, m.ToolResult.RequestID, call.Speaker, m.Speaker, call.RoundIndex, m.RoundIndex)
		}
	default:
		return fmt.Errorf("%w: unknown message kind %q", ErrInvariant, m.Kind)
	}

	t.messages = append(t.messages, m)

	switch m.Kind {
	case KindToolCall:
		t.pending[m.ToolRequest.ID] = len(t.messages) - 1
	case KindToolResult:
		delete(t.pending, m.ToolResult.RequestID)
	}
	return nil
}

// Len returns the number of messages.
func (t *Transcript) Len() int { return len(t.messages) }

// Messages returns a copy of the history.
func (t *Transcript) Messages() []Message { return slices.Clone(t.messages) }

// Last returns the most recent message.
func (t *Transcript) Last() (Message, bool) {
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// Task returns the task description (the first User message).
func (t *Transcript) Task() string {
	for _, m := range t.messages {
		if m.Speaker == User {
			return m.Content
		}
	}
	return ""
}

// LastSubstantive returns the most recent substantive message, optionally
// restricted to the given speakers.
func (t *Transcript) LastSubstantive(from ...AgentID) (Message, bool) {
	for i := len(t.messages) - 1; i >= 0; i-- {
		m := t.messages[i]
		if !m.IsSubstantive() {
			continue
		}
		if len(from) == 0 || slices.Contains(from, m.Speaker) {
			return m, true
		}
	}
	return Message{}, false
}

// HasDeliverable reports whether the most recent substantive message came
// from the Analyst or the DataAnalyst.
func (t *Transcript) HasDeliverable() bool {
	m, ok := t.LastSubstantive()
	return ok && (m.Speaker == Analyst || m.Speaker == DataAnalyst)
}

// ArtifactPaths collects the artifact paths of all successful tool results
// in transcript order.
func (t *Transcript) ArtifactPaths() []string {
	var paths []string
	for _, m := range t.messages {
		if m.Kind == KindToolResult && m.ToolResult != nil && m.ToolResult.Success {
			paths = append(paths, m.ToolResult.ArtifactPaths...)
		}
	}
	return paths
}

// PendingCalls returns the number of tool calls still awaiting a result.
func (t *Transcript) PendingCalls() int { return len(t.pending) }
