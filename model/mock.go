package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/researchmesh/core"
)

// ErrScriptExhausted is reported by a ScriptedModel called more often than
// it has steps.
var ErrScriptExhausted = errors.New("scripted model: script exhausted")

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Its output depends only on the last content of the request, which makes it
// deterministic.
type MockModel struct {
	info      Info
	responses map[string]string
	mu        sync.RWMutex
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Generate implements Model; emits optional streaming char chunks then final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)
		if len(req.Contents) == 0 {
			errCh <- fmt.Errorf("no contents provided")
			return
		}
		inputText := req.LastText()
		m.mu.RLock()
		full := m.responses[inputText]
		m.mu.RUnlock()
		if full == "" {
			full = fmt.Sprintf("Mock response to: %s", inputText)
		}
		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{
					Partial: true,
					Content: core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: string(r)}}},
				}:
				}
			}
		}
		respCh <- Response{
			Content:      core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: full}}},
			FinishReason: "stop",
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }

// Step is one scripted model reply.
type Step struct {
	Text  string
	Call  *core.FunctionCall
	Err   error
	Delay time.Duration
}

// Say scripts a text reply.
func Say(text string) Step { return Step{Text: text} }

// CallTool scripts a function call reply. args is a JSON object.
func CallTool(name, args string) Step {
	return Step{Call: &core.FunctionCall{Name: name, Arguments: args}}
}

// Fail scripts a model failure.
func Fail(err error) Step { return Step{Err: err} }

// ScriptedModel replays a fixed sequence of replies, one per Generate call.
// It records every request so tests can inspect what a role was shown.
type ScriptedModel struct {
	info     Info
	steps    []Step
	next     int
	repeat   bool
	requests []Request
	mu       sync.Mutex
}

// NewScriptedModel creates a model that replays steps in order.
func NewScriptedModel(name string, steps ...Step) *ScriptedModel {
	return &ScriptedModel{
		info:  Info{Name: name, Provider: "scripted", SupportsTools: true},
		steps: steps,
	}
}

// RepeatLast makes the model keep replaying its last step once the script
// is exhausted instead of failing.
func (m *ScriptedModel) RepeatLast() *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repeat = true
	return m
}

// Requests returns the requests seen so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns the number of Generate calls.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *ScriptedModel) take(req Request) (Step, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.next < len(m.steps) {
		s := m.steps[m.next]
		m.next++
		return s, true
	}
	if m.repeat && len(m.steps) > 0 {
		return m.steps[len(m.steps)-1], true
	}
	return Step{}, false
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		step, ok := m.take(req)
		if !ok {
			errCh <- ErrScriptExhausted
			return
		}
		if step.Delay > 0 {
			select {
			case <-time.After(step.Delay):
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if step.Err != nil {
			errCh <- step.Err
			return
		}
		respCh <- Response{Content: stepContent(step), FinishReason: "stop"}
	}()
	return respCh, errCh
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }

func stepContent(s Step) core.Content {
	c := core.Content{Role: "assistant"}
	if s.Text != "" {
		c.Parts = append(c.Parts, core.TextPart{Text: s.Text})
	}
	if s.Call != nil {
		c.Parts = append(c.Parts, core.FunctionCallPart{FunctionCall: *s.Call})
	}
	return c
}

// Func adapts a plain function into a Model. It is the simplest way to build
// a deterministic stand-in whose reply is a pure function of the request.
type Func func(ctx context.Context, req Request) (core.Content, error)

// Generate implements Model.
func (f Func) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		c, err := f(ctx, req)
		if err != nil {
			errCh <- err
			return
		}
		if c.Role == "" {
			c.Role = "assistant"
		}
		respCh <- Response{Content: c, FinishReason: "stop"}
	}()
	return respCh, errCh
}

// Info implements Model.
func (f Func) Info() Info { return Info{Name: "func", Provider: "local", SupportsTools: true} }
