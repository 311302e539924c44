package testutil

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/researchmesh/core"
)

// TranscriptBuilder provides a fluent helper for constructing transcripts in tests.
// Example:
//
//	tr := NewTranscriptBuilder("compare populations").
//		Decide(core.Search).
//		Tool(core.Search, "web_search", map[string]any{"query": "France"}, "68 million").
//		Say(core.Search, "France has 68 million inhabitants.").
//		MustBuild(t)
//
// Each Say or Notice closes the current round; tool traffic stays in it.
type TranscriptBuilder struct {
	round int
	seq   int
	msgs  []core.Message
}

// NewTranscriptBuilder starts a transcript with the task message from User.
func NewTranscriptBuilder(task string) *TranscriptBuilder {
	return &TranscriptBuilder{
		round: 1,
		msgs:  []core.Message{core.NewTextMessage(core.User, task, 0)},
	}
}

// Decide appends an Orchestrator decision naming next (chainable).
func (b *TranscriptBuilder) Decide(next core.AgentID) *TranscriptBuilder {
	raw, _ := json.Marshal(core.Decision{NextSpeaker: string(next)})
	b.msgs = append(b.msgs, core.NewTextMessage(core.Orchestrator, string(raw), b.round))
	return b
}

// Say appends a text contribution and advances the round (chainable).
func (b *TranscriptBuilder) Say(speaker core.AgentID, text string) *TranscriptBuilder {
	b.msgs = append(b.msgs, core.NewTextMessage(speaker, text, b.round))
	b.round++
	return b
}

// Notice appends a failure notice and advances the round (chainable).
func (b *TranscriptBuilder) Notice(speaker core.AgentID, code core.ErrorCode, text string) *TranscriptBuilder {
	b.msgs = append(b.msgs, core.NewNoticeMessage(speaker, code, text, b.round))
	b.round++
	return b
}

// Tool appends a successful tool call/result pair (chainable).
func (b *TranscriptBuilder) Tool(speaker core.AgentID, name string, args map[string]any, payload any, artifacts ...string) *TranscriptBuilder {
	req := b.request(name, args)
	b.msgs = append(b.msgs,
		core.NewToolCallMessage(speaker, req, b.round),
		core.NewToolResultMessage(speaker, core.Succeeded(req, payload, artifacts...), b.round),
	)
	return b
}

// FailedTool appends a failed tool call/result pair (chainable).
func (b *TranscriptBuilder) FailedTool(speaker core.AgentID, name string, args map[string]any, code core.ErrorCode, detail string) *TranscriptBuilder {
	req := b.request(name, args)
	b.msgs = append(b.msgs,
		core.NewToolCallMessage(speaker, req, b.round),
		core.NewToolResultMessage(speaker, core.Failed(req, code, detail), b.round),
	)
	return b
}

func (b *TranscriptBuilder) request(name string, args map[string]any) core.ToolRequest {
	b.seq++
	return core.ToolRequest{ID: fmt.Sprintf("req-%d", b.seq), ToolName: name, Arguments: args}
}

// Build appends the collected messages to a fresh transcript.
func (b *TranscriptBuilder) Build() (*core.Transcript, error) {
	tr := core.NewTranscript()
	for _, m := range b.msgs {
		if err := tr.Append(m); err != nil {
			return nil, err
		}
	}
	return tr, nil
}

// MustBuild is Build for tests.
func (b *TranscriptBuilder) MustBuild(t testing.TB) *core.Transcript {
	t.Helper()
	tr, err := b.Build()
	require.NoError(t, err)
	return tr
}
