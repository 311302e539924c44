package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/model"
)

// ErrEmptyResponse is reported when a model returns neither text nor a tool call.
var ErrEmptyResponse = errors.New("model returned an empty response")

// terminateMarker is the Orchestrator's plain-text stop signal.
const terminateMarker = "TERMINATE"

// ToolCatalog exposes the model-facing declarations of registered tools.
// *tool.Invoker satisfies it.
type ToolCatalog interface {
	Definitions(names ...string) []model.ToolDefinition
}

// RuntimeOptions configure a Runtime.
type RuntimeOptions struct {
	// Team is the roster rendered into instructions. Defaults to all
	// DefaultRoles in canonical order.
	Team []Role
	// Stream requests streamed model output. Only the final chunk is used.
	Stream bool
	Logger logging.Logger
}

// Runtime binds one role to a model. It keeps no memory between turns:
// everything it knows comes from the transcript passed to Act.
type Runtime struct {
	role        Role
	llm         model.Model
	catalog     ToolCatalog
	instruction string
	stream      bool
	logger      logging.Logger
}

// NewRuntime creates a Runtime for role. catalog may be nil for roles that
// use no tools. The instruction is resolved once, here.
func NewRuntime(role Role, llm model.Model, catalog ToolCatalog, optFns ...func(o *RuntimeOptions)) (*Runtime, error) {
	if llm == nil {
		return nil, fmt.Errorf("runtime %s: model is required", role.ID)
	}
	opts := RuntimeOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if len(opts.Team) == 0 {
		defaults := DefaultRoles()
		for _, id := range core.KnownAgents {
			opts.Team = append(opts.Team, defaults[id])
		}
	}

	data := InstructionData{
		Name:  role.ID,
		Team:  opts.Team,
		Tools: slices.Clone(role.AllowedTools),
	}
	for _, r := range opts.Team {
		if r.ID.IsWorker() {
			data.Workers = append(data.Workers, string(r.ID))
		}
	}
	instruction, err := role.Instruction.Resolve(data)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		role:        role,
		llm:         llm,
		catalog:     catalog,
		instruction: instruction,
		stream:      opts.Stream,
		logger:      opts.Logger,
	}, nil
}

// ID returns the agent identifier of the wrapped role.
func (r *Runtime) ID() core.AgentID { return r.role.ID }

// Role returns the wrapped role.
func (r *Runtime) Role() Role { return r.role }

// Instruction returns the resolved system prompt.
func (r *Runtime) Instruction() string { return r.instruction }

// Act produces the role's next contribution for the given transcript.
//
// The error return is reserved for model failures; refused or malformed
// tool requests come back as an error Contribution carrying the request so
// the caller can record it.
func (r *Runtime) Act(ctx context.Context, tr *core.Transcript) (core.Contribution, error) {
	msgs := tr.Messages()
	req := model.Request{
		Instructions: r.instruction,
		Contents:     r.contents(msgs),
		Tools:        r.tools(),
		Stream:       r.stream,
	}

	start := time.Now()
	content, err := model.Collect(ctx, r.llm, req)
	if err != nil {
		r.logger.Warn("agent.act.failed", "agent", r.role.ID, "model", r.llm.Info().Name, "duration", time.Since(start), "error", err.Error())
		return core.Contribution{}, fmt.Errorf("%s: %w", r.role.ID, err)
	}
	r.logger.Debug("agent.act.completed", "agent", r.role.ID, "model", r.llm.Info().Name, "duration", time.Since(start))

	return r.contribution(content, len(msgs))
}

func (r *Runtime) tools() []model.ToolDefinition {
	if r.catalog == nil || len(r.role.AllowedTools) == 0 {
		return nil
	}
	return r.catalog.Definitions(r.role.AllowedTools...)
}

// contribution converts model output into a Contribution. pos is the
// transcript length the model saw; it makes request IDs deterministic.
func (r *Runtime) contribution(content core.Content, pos int) (core.Contribution, error) {
	if calls := content.FunctionCalls(); len(calls) > 0 {
		if len(calls) > 1 {
			r.logger.Debug("agent.act.extra_calls_dropped", "agent", r.role.ID, "calls", len(calls))
		}
		call := calls[0]
		req := core.ToolRequest{
			ID:       fmt.Sprintf("%s-%d", strings.ToLower(string(r.role.ID)), pos),
			ToolName: call.Name,
		}
		if !r.role.Allows(call.Name) {
			r.logger.Warn("agent.tool.not_permitted", "agent", r.role.ID, "tool", call.Name)
			return core.ErrorContribution(r.role.ID, core.CodeToolNotPermitted,
				fmt.Sprintf("%s is not allowed to use %q", r.role.ID, call.Name), &req), nil
		}
		args, err := decodeArguments(call.Arguments)
		if err != nil {
			return core.ErrorContribution(r.role.ID, core.CodeInvalidArguments, err.Error(), &req), nil
		}
		req.Arguments = args
		return core.ToolContribution(r.role.ID, req), nil
	}

	text := strings.TrimSpace(content.Text())
	if r.role.ID != core.Orchestrator {
		text, _ = cutTerminate(text)
	}
	if text == "" {
		return core.Contribution{}, fmt.Errorf("%s: %w", r.role.ID, ErrEmptyResponse)
	}
	return core.TextContribution(r.role.ID, text), nil
}

// contents renders the transcript from the role's point of view.
func (r *Runtime) contents(msgs []core.Message) []core.Content {
	out := make([]core.Content, 0, len(msgs)+1)
	for _, m := range msgs {
		own := m.Speaker == r.role.ID
		switch m.Kind {
		case core.KindText:
			switch {
			case m.ErrorCode != core.CodeNone:
				out = append(out, textContent("user", fmt.Sprintf("[%s notice: %s] %s", m.Speaker, m.ErrorCode, m.Content)))
			case own:
				out = append(out, textContent("assistant", m.Content))
			default:
				out = append(out, textContent("user", fmt.Sprintf("[%s] %s", m.Speaker, m.Content)))
			}
		case core.KindToolCall:
			if !own {
				continue
			}
			out = append(out, core.Content{Role: "assistant", Parts: []core.Part{core.FunctionCallPart{
				FunctionCall: core.FunctionCall{
					ID:        m.ToolRequest.ID,
					Name:      m.ToolRequest.ToolName,
					Arguments: m.ToolRequest.ArgumentsJSON(),
				},
			}}})
		case core.KindToolResult:
			res := m.ToolResult
			if own {
				fr := core.FunctionResponse{ID: res.RequestID, Name: res.ToolName}
				if res.Success {
					fr.Response = m.Content
				} else {
					fr.Error = fmt.Sprintf("%s: %s", res.ErrorCode, res.ErrorDetail)
				}
				out = append(out, core.Content{Role: "tool", Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: fr}}})
				continue
			}
			if res.Success {
				out = append(out, textContent("user", fmt.Sprintf("[%s via %s] %s", m.Speaker, res.ToolName, m.Content)))
			}
		}
	}
	return append(out, textContent("user", r.turnPrompt()))
}

func (r *Runtime) turnPrompt() string {
	if r.role.ID == core.Orchestrator {
		return "Decide what happens next. Reply with the JSON object only."
	}
	return fmt.Sprintf("%s, it is your turn.", r.role.ID)
}

func textContent(role, text string) core.Content {
	return core.Content{Role: role, Parts: []core.Part{core.TextPart{Text: text}}}
}

// decodeArguments parses tool-call arguments, repairing malformed JSON.
func decodeArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}
	fixed, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("tool arguments are not valid JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(fixed), &args); err != nil {
		return nil, fmt.Errorf("tool arguments are not a JSON object: %w", err)
	}
	return args, nil
}

// cutTerminate strips a trailing TERMINATE marker.
func cutTerminate(text string) (string, bool) {
	trimmed := strings.TrimRightFunc(text, isSpaceOrPunct)
	if !strings.HasSuffix(trimmed, terminateMarker) {
		return text, false
	}
	return strings.TrimSpace(strings.TrimSuffix(trimmed, terminateMarker)), true
}

func isSpaceOrPunct(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == '.' || r == '!'
}
