package tool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/researchmesh/artifact"
	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/plot"
	"github.com/hupe1980/researchmesh/search"
)

func newTestInvoker(t *testing.T, tools ...Tool) *Invoker {
	t.Helper()
	inv := NewInvoker(func(o *InvokerOptions) {
		o.Timeout = time.Second
		o.Retries = 1
		o.Backoff = time.Millisecond
	})
	require.NoError(t, inv.Register(tools...))
	return inv
}

func sumTool() *FunctionTool {
	return NewFunctionTool("sum", "Add numbers", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}, func(_ context.Context, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})
}

func TestFunctionTool_Success(t *testing.T) {
	result, err := sumTool().Call(context.Background(), map[string]any{"a": 2.0, "b": 3.0})
	assert.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	execTool := NewFunctionTool("fail", "Fails", nil, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	_, err := execTool.Call(context.Background(), map[string]any{})
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, ClassError, toolErr.Code)
	assert.Equal(t, "fail", toolErr.Tool)
}

func TestInvoker_Register(t *testing.T) {
	inv := newTestInvoker(t, sumTool())
	assert.True(t, inv.Has("sum"))
	assert.Error(t, inv.Register(sumTool()))

	bad := NewFunctionTool("bad", "bad schema", map[string]any{"type": 42}, nil)
	assert.Error(t, inv.Register(bad))

	defs := inv.Definitions("missing", "sum")
	require.Len(t, defs, 1)
	assert.Equal(t, "sum", defs[0].Function.Name)
	assert.Equal(t, []string{"sum"}, inv.Names())
}

func TestInvoker_Invoke(t *testing.T) {
	inv := newTestInvoker(t, sumTool())

	tests := []struct {
		name       string
		req        core.ToolRequest
		wantOK     bool
		wantCode   core.ErrorCode
		wantDetail string
	}{
		{
			name:   "success",
			req:    core.ToolRequest{ID: "1", ToolName: "sum", Arguments: map[string]any{"a": 1, "b": 2}},
			wantOK: true,
		},
		{
			name:     "unknown tool",
			req:      core.ToolRequest{ID: "2", ToolName: "divide"},
			wantCode: core.CodeUnknownTool,
		},
		{
			name:       "missing argument",
			req:        core.ToolRequest{ID: "3", ToolName: "sum", Arguments: map[string]any{"a": 1}},
			wantCode:   core.CodeInvalidArguments,
			wantDetail: "b",
		},
		{
			name:     "wrong type",
			req:      core.ToolRequest{ID: "4", ToolName: "sum", Arguments: map[string]any{"a": "one", "b": 2}},
			wantCode: core.CodeInvalidArguments,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := inv.Invoke(context.Background(), tt.req)
			assert.Equal(t, tt.req.ID, res.RequestID)
			assert.Equal(t, tt.wantOK, res.Success)
			assert.Equal(t, tt.wantCode, res.ErrorCode)
			if tt.wantDetail != "" {
				assert.Contains(t, res.ErrorDetail, tt.wantDetail)
			}
			if tt.wantOK {
				assert.Equal(t, 3.0, res.Payload)
			}
		})
	}
}

func TestInvoker_ValidationSkipsCollaborator(t *testing.T) {
	var calls atomic.Int32
	s := search.Func(func(context.Context, string, int) (search.Response, error) {
		calls.Add(1)
		return search.Response{}, nil
	})
	inv := newTestInvoker(t, NewWebSearch(s))

	for _, args := range []map[string]any{
		{},
		{"query": ""},
		{"query": "x", "max_results": 50},
		{"query": "x", "extra": true},
	} {
		res := inv.Invoke(context.Background(), core.ToolRequest{ID: "v", ToolName: WebSearchName, Arguments: args})
		assert.Equal(t, core.CodeInvalidArguments, res.ErrorCode, fmt.Sprint(args))
	}
	assert.Equal(t, int32(0), calls.Load())
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestInvoker_ClassifiesAndRetries(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantClass string
		wantCalls int32
	}{
		{"empty result", fmt.Errorf("wrapped: %w", search.ErrEmptyResult), ClassEmptyResult, 1},
		{"upstream 503", &search.StatusError{Provider: "tavily", StatusCode: 503}, "upstream_status_503", 2},
		{"upstream 401", &search.StatusError{Provider: "tavily", StatusCode: 401}, "upstream_status_401", 1},
		{"network timeout", timeoutErr{}, ClassTimeout, 2},
		{"dial error", &net.OpError{Op: "dial", Err: errors.New("refused")}, ClassNetwork, 2},
		{"generic", errors.New("boom"), ClassError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			s := search.Func(func(context.Context, string, int) (search.Response, error) {
				calls.Add(1)
				return search.Response{}, tt.err
			})
			inv := newTestInvoker(t, NewWebSearch(s))

			res := inv.Invoke(context.Background(), core.ToolRequest{
				ID: "r", ToolName: WebSearchName, Arguments: map[string]any{"query": "France"},
			})
			assert.False(t, res.Success)
			assert.Equal(t, core.CodeCollaboratorFailure, res.ErrorCode)
			assert.True(t, strings.HasPrefix(res.ErrorDetail, tt.wantClass+":"), res.ErrorDetail)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestInvoker_RetryRecovers(t *testing.T) {
	var calls atomic.Int32
	s := search.Func(func(_ context.Context, q string, n int) (search.Response, error) {
		if calls.Add(1) == 1 {
			return search.Response{}, timeoutErr{}
		}
		return search.Response{Query: q, Results: []search.Result{{Title: "ok"}}}, nil
	})
	inv := newTestInvoker(t, NewWebSearch(s))

	res := inv.Invoke(context.Background(), core.ToolRequest{ID: "r", ToolName: WebSearchName, Arguments: map[string]any{"query": "x"}})
	require.True(t, res.Success, res.ErrorDetail)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvoker_BackoffHonorsDeadline(t *testing.T) {
	var calls atomic.Int32
	s := search.Func(func(context.Context, string, int) (search.Response, error) {
		calls.Add(1)
		return search.Response{}, timeoutErr{}
	})
	inv := NewInvoker(func(o *InvokerOptions) {
		o.Timeout = time.Second
		o.Retries = 3
		o.Backoff = time.Minute
	})
	require.NoError(t, inv.Register(NewWebSearch(s)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := inv.Invoke(ctx, core.ToolRequest{ID: "d", ToolName: WebSearchName, Arguments: map[string]any{"query": "x"}})
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.ErrorDetail, ClassTimeout+":"), res.ErrorDetail)
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvoker_Timeout(t *testing.T) {
	slow := NewFunctionTool("slow", "sleeps", nil, func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	inv := NewInvoker(func(o *InvokerOptions) {
		o.Timeout = 10 * time.Millisecond
		o.Retries = 0
	})
	require.NoError(t, inv.Register(slow))

	res := inv.Invoke(context.Background(), core.ToolRequest{ID: "t", ToolName: "slow"})
	assert.Equal(t, core.CodeCollaboratorFailure, res.ErrorCode)
	assert.True(t, strings.HasPrefix(res.ErrorDetail, ClassTimeout), res.ErrorDetail)
}

func TestInvoker_CallerCancellationDoesNotInterrupt(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	tool := NewFunctionTool("wait", "waits", nil, func(ctx context.Context, _ map[string]any) (any, error) {
		close(started)
		select {
		case <-release:
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	inv := newTestInvoker(t, tool)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()

	res := inv.Invoke(ctx, core.ToolRequest{ID: "c", ToolName: "wait"})
	assert.True(t, res.Success, res.ErrorDetail)
	assert.Equal(t, "done", res.Payload)
}

func TestInvoker_RecoversPanic(t *testing.T) {
	boom := NewFunctionTool("boom", "panics", nil, func(context.Context, map[string]any) (any, error) {
		panic("kaboom")
	})
	inv := newTestInvoker(t, boom)

	res := inv.Invoke(context.Background(), core.ToolRequest{ID: "p", ToolName: "boom"})
	assert.False(t, res.Success)
	assert.Equal(t, core.CodeCollaboratorFailure, res.ErrorCode)
	assert.Contains(t, res.ErrorDetail, "panic")
}

func TestRenderPlot(t *testing.T) {
	store := artifact.NewInMemoryStore()
	inv := newTestInvoker(t, NewRenderPlot(plot.NewExcelRenderer(), store))
	ctx := core.WithRunID(context.Background(), "run-7")

	res := inv.Invoke(ctx, core.ToolRequest{ID: "p1", ToolName: RenderPlotName, Arguments: map[string]any{
		"kind":   "bar",
		"data":   []any{68.4, 84.5},
		"labels": []any{"France", "Germany"},
		"title":  "Population (millions)",
	}})
	require.True(t, res.Success, res.ErrorDetail)
	require.Len(t, res.ArtifactPaths, 1)
	assert.True(t, strings.HasPrefix(res.ArtifactPaths[0], "mem://run-7/bar-"))

	names, err := store.List("run-7")
	require.NoError(t, err)
	assert.Len(t, names, 1)

	payload, ok := res.Payload.(PlotResult)
	require.True(t, ok)
	assert.Equal(t, 2, payload.Points)
}

func TestRenderPlot_InvalidArguments(t *testing.T) {
	inv := newTestInvoker(t, NewRenderPlot(plot.NewExcelRenderer(), artifact.NewInMemoryStore()))

	tests := map[string]map[string]any{
		"unknown kind":    {"kind": "radar", "data": []any{1}, "labels": []any{"a"}},
		"length mismatch": {"kind": "bar", "data": []any{1, 2}, "labels": []any{"a"}},
		"non numeric":     {"kind": "line", "data": []any{"x"}, "labels": []any{"a"}},
		"missing labels":  {"kind": "pie", "data": []any{1}},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			res := inv.Invoke(context.Background(), core.ToolRequest{ID: "bad", ToolName: RenderPlotName, Arguments: args})
			assert.False(t, res.Success)
			assert.Equal(t, core.CodeInvalidArguments, res.ErrorCode)
		})
	}
}
