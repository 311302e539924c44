// Package openai implements model.Model on the OpenAI Chat Completions API.
//
// Role instructions become the leading system message, tool results are
// folded back directly after the assistant turn that requested them, and
// streamed tool-call deltas are reassembled in index order so the final
// response does not depend on chunk arrival order.
package openai

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/model"
)

// ErrNoChoices is returned when a completion carries no choices.
var ErrNoChoices = errors.New("openai: completion returned no choices")

// Options configure the OpenAI adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string // empty: OPENAI_API_KEY from the environment
	BaseURL             string
}

// Model adapts the Chat Completions API to model.Model.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a model backed by a new client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a model on an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
}

// Info describes the adapter.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: "openai", SupportsTools: true}
}

// Generate runs one completion. Partial responses are only emitted for
// streaming requests; the last response is always final. Every send gives up
// once ctx is done, so an abandoned stream never blocks its producer.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := m.params(req)
		e := &emitter{ctx: ctx, out: out}

		var err error
		if req.Stream {
			err = m.stream(ctx, params, e)
		} else {
			err = m.complete(ctx, params, e)
		}
		if err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func (m *Model) params(req model.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            toMessages(req),
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	for _, def := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        def.Function.Name,
				Description: openai.String(def.Function.Description),
				Parameters:  def.Function.Parameters,
			},
		})
	}
	return params
}

func (m *Model) complete(ctx context.Context, params openai.ChatCompletionNewParams, e *emitter) error {
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ErrNoChoices
	}

	choice := resp.Choices[0]
	parts := make([]core.Part, 0, len(choice.Message.ToolCalls)+1)
	if choice.Message.Content != "" {
		parts = append(parts, core.TextPart{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		parts = append(parts, callPart(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}

	r := model.Response{
		ID:           resp.ID,
		Content:      core.Content{Role: "assistant", Parts: parts},
		FinishReason: choice.FinishReason,
	}
	if resp.Usage.TotalTokens > 0 {
		r.Usage = &model.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		}
	}
	e.send(r)
	return nil
}

func (m *Model) stream(ctx context.Context, params openai.ChatCompletionNewParams, e *emitter) error {
	s := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer s.Close()

	var (
		text  strings.Builder
		calls = map[int64]*pendingCall{}
	)
	for s.Next() {
		chunk := s.Current()
		for _, ch := range chunk.Choices {
			if ch.Delta.Content != "" {
				text.WriteString(ch.Delta.Content)
				if !e.partial(core.TextPart{Text: ch.Delta.Content}) {
					return nil
				}
			}
			for _, tc := range ch.Delta.ToolCalls {
				pc := calls[tc.Index]
				if pc == nil {
					pc = &pendingCall{}
					calls[tc.Index] = pc
				}
				pc.merge(tc.ID, tc.Function.Name, tc.Function.Arguments)
				if !e.partial(pc.part()) {
					return nil
				}
			}
			if ch.FinishReason != "" {
				e.send(model.Response{
					ID:           chunk.ID,
					Content:      core.Content{Role: "assistant", Parts: finalParts(text.String(), calls)},
					FinishReason: ch.FinishReason,
				})
				return nil
			}
		}
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("openai streaming error: %w", err)
	}
	return nil
}

// emitter forwards responses until its context is done.
type emitter struct {
	ctx context.Context
	out chan<- model.Response
}

func (e *emitter) send(r model.Response) bool {
	select {
	case e.out <- r:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e *emitter) partial(p core.Part) bool {
	return e.send(model.Response{Partial: true, Content: core.Content{Role: "assistant", Parts: []core.Part{p}}})
}

// pendingCall accumulates the deltas of one streamed tool call.
type pendingCall struct{ id, name, args string }

func (p *pendingCall) merge(id, name, args string) {
	if id != "" {
		p.id = id
	}
	if name != "" {
		p.name = name
	}
	p.args += args
}

func (p *pendingCall) part() core.Part { return callPart(p.id, p.name, p.args) }

// finalParts orders text first, then tool calls by stream index.
func finalParts(text string, calls map[int64]*pendingCall) []core.Part {
	parts := make([]core.Part, 0, len(calls)+1)
	if text != "" {
		parts = append(parts, core.TextPart{Text: text})
	}
	indices := make([]int64, 0, len(calls))
	for idx := range calls {
		indices = append(indices, idx)
	}
	slices.Sort(indices)
	for _, idx := range indices {
		parts = append(parts, calls[idx].part())
	}
	return parts
}

func callPart(id, name, args string) core.Part {
	return core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: id, Name: name, Arguments: args}}
}

// toMessages converts normalized contents to chat messages. Each tool result
// is placed right after the assistant message carrying its call; results
// whose call is missing are appended at the end in first-seen order.
func toMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	results, order := toolResults(req.Contents)

	var msgs []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		msgs = append(msgs, openai.SystemMessage(req.Instructions))
	}
	for _, c := range req.Contents {
		text := c.Text()
		switch c.Role {
		case "tool":
			continue
		case "system":
			msgs = append(msgs, openai.SystemMessage(text))
		case "assistant":
			calls := c.FunctionCalls()
			if len(calls) == 0 {
				msgs = append(msgs, openai.AssistantMessage(text))
				continue
			}
			params := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
			for i, fc := range calls {
				params[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   fc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      fc.Name,
						Arguments: fc.Arguments,
					},
				}
			}
			msgs = append(msgs, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{Role: "assistant", ToolCalls: params},
			})
			for _, fc := range calls {
				if body, ok := results[fc.ID]; ok {
					msgs = append(msgs, openai.ToolMessage(body, fc.ID))
					delete(results, fc.ID)
				}
			}
		default:
			if text != "" || c.Role == "user" {
				msgs = append(msgs, openai.UserMessage(text))
			}
		}
	}
	for _, id := range order {
		if body, ok := results[id]; ok {
			msgs = append(msgs, openai.ToolMessage(body, id))
		}
	}
	return msgs
}

// toolResults indexes tool responses by call ID. A failed call is encoded
// as {"error": "..."} so the model sees a JSON body either way.
func toolResults(contents []core.Content) (map[string]string, []string) {
	results := map[string]string{}
	var order []string
	for _, c := range contents {
		if c.Role != "tool" {
			continue
		}
		for _, fr := range c.FunctionResponses() {
			if fr.ID == "" {
				continue
			}
			if _, seen := results[fr.ID]; seen {
				continue
			}
			body := fr.Response
			if fr.Error != "" {
				body = fmt.Sprintf(`{"error":%q}`, fr.Error)
			}
			results[fr.ID] = body
			order = append(order, fr.ID)
		}
	}
	return results, order
}
