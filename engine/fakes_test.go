package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/researchmesh/core"
)

type decideStep struct {
	d   core.Decision
	err error
}

func next(id core.AgentID) decideStep {
	return decideStep{d: core.Decision{NextSpeaker: string(id)}}
}

func stop(reason string) decideStep {
	return decideStep{d: core.Decision{Stop: true, Reason: reason}}
}

func failDecide(err error) decideStep { return decideStep{err: err} }

// scriptedDecider replays decisions and then repeats the last one.
type scriptedDecider struct {
	mu    sync.Mutex
	steps []decideStep
	calls int
}

func newDecider(steps ...decideStep) *scriptedDecider {
	return &scriptedDecider{steps: steps}
}

func (d *scriptedDecider) Decide(ctx context.Context, _ *core.Transcript) (core.Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	if i >= len(d.steps) {
		i = len(d.steps) - 1
	}
	s := d.steps[i]
	return s.d, s.err
}

func (d *scriptedDecider) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type actFunc func(ctx context.Context, tr *core.Transcript) (core.Contribution, error)

// fakeActor replays its script and then repeats the last step.
type fakeActor struct {
	id    core.AgentID
	mu    sync.Mutex
	steps []actFunc
	calls int
}

func newActor(id core.AgentID, steps ...actFunc) *fakeActor {
	return &fakeActor{id: id, steps: steps}
}

func (a *fakeActor) ID() core.AgentID { return a.id }

func (a *fakeActor) Act(ctx context.Context, tr *core.Transcript) (core.Contribution, error) {
	a.mu.Lock()
	i := a.calls
	a.calls++
	if i >= len(a.steps) {
		i = len(a.steps) - 1
	}
	step := a.steps[i]
	a.mu.Unlock()
	return step(ctx, tr)
}

func (a *fakeActor) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func say(text string) actFunc {
	return func(_ context.Context, tr *core.Transcript) (core.Contribution, error) {
		return core.Contribution{Kind: core.ContributionText, Text: text}, nil
	}
}

func requestTool(name string, args map[string]any) actFunc {
	return func(_ context.Context, tr *core.Transcript) (core.Contribution, error) {
		return core.ToolContribution("", core.ToolRequest{ID: fmt.Sprintf("req-%d", tr.Len()), ToolName: name, Arguments: args}), nil
	}
}

func refuseTool(name string) actFunc {
	return func(_ context.Context, tr *core.Transcript) (core.Contribution, error) {
		req := core.ToolRequest{ID: fmt.Sprintf("req-%d", tr.Len()), ToolName: name}
		return core.ErrorContribution("", core.CodeToolNotPermitted, "not on the allow-list", &req), nil
	}
}

func fail(err error) actFunc {
	return func(context.Context, *core.Transcript) (core.Contribution, error) {
		return core.Contribution{}, err
	}
}

// fakeInvoker succeeds for every request unless fn is set.
type fakeInvoker struct {
	mu       sync.Mutex
	requests []core.ToolRequest
	fn       func(core.ToolRequest) core.ToolResult
}

func (f *fakeInvoker) Invoke(_ context.Context, req core.ToolRequest) core.ToolResult {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(req)
	}
	return core.Succeeded(req, "ok")
}

func (f *fakeInvoker) Requests() []core.ToolRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.ToolRequest(nil), f.requests...)
}

func team(actors ...*fakeActor) []Actor {
	out := make([]Actor, len(actors))
	for i, a := range actors {
		out[i] = a
	}
	return out
}
