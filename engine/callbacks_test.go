package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/logging"
)

func TestCallbackManager_Order(t *testing.T) {
	cm := NewCallbackManager()
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		cm.RegisterCallback(NewFunctionCallback(CallbackBeforeRound, func(context.Context, *CallbackContext) error {
			order = append(order, i)
			if i == 2 {
				return errors.New("stop here")
			}
			return nil
		}))
	}

	cc := &CallbackContext{}
	err := cm.ExecuteCallbacks(context.Background(), CallbackBeforeRound, cc)
	assert.ErrorContains(t, err, "before_round callback: stop here")
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, CallbackBeforeRound, cc.CallbackType)

	assert.NoError(t, cm.ExecuteCallbacks(context.Background(), CallbackAfterTool, &CallbackContext{}))

	var nilManager *CallbackManager
	assert.NoError(t, nilManager.ExecuteCallbacks(context.Background(), CallbackAfterTool, &CallbackContext{}))
}

func TestScheduler_Callbacks(t *testing.T) {
	var (
		mu     sync.Mutex
		counts = map[CallbackType]int{}
		status core.Status
		tools  []string
	)
	cm := NewCallbackManager()
	for _, ct := range []CallbackType{
		CallbackBeforeRound, CallbackAfterRound, CallbackBeforeAgent, CallbackAfterAgent,
		CallbackBeforeTool, CallbackAfterTool, CallbackOnWarning, CallbackOnTermination,
	} {
		cm.RegisterCallback(NewFunctionCallback(ct, func(_ context.Context, cc *CallbackContext) error {
			mu.Lock()
			defer mu.Unlock()
			counts[cc.CallbackType]++
			switch cc.CallbackType {
			case CallbackOnTermination:
				status = cc.Status
			case CallbackAfterTool:
				tools = append(tools, cc.ToolRequest.ToolName)
			}
			assert.NotEmpty(t, cc.RunID)
			return nil
		}))
	}
	cm.RegisterCallback(NewLoggingCallback(CallbackAfterRound, logging.NoOpLogger{}))
	cm.RegisterCallback(NewFunctionCallback(CallbackAfterRound, func(context.Context, *CallbackContext) error {
		return errors.New("listener broke")
	}))

	search := newActor(core.Search, requestTool("web_search", map[string]any{"query": "France"}), say("68.4M"))
	_, analyst, data := fullTeam()
	d := newDecider(next(core.Search), decideStep{d: core.Decision{NextSpeaker: "nobody"}}, stop("done"))
	s, err := New(d, team(search, analyst, data), &fakeInvoker{}, func(o *Options) { o.Callbacks = cm })
	require.NoError(t, err)

	report, err := s.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, report.Status)

	assert.Equal(t, 2, counts[CallbackBeforeRound])
	assert.Equal(t, 2, counts[CallbackAfterRound])
	assert.Equal(t, 3, counts[CallbackBeforeAgent])
	assert.Equal(t, 3, counts[CallbackAfterAgent])
	assert.Equal(t, 1, counts[CallbackBeforeTool])
	assert.Equal(t, []string{"web_search"}, tools)
	assert.Equal(t, 1, counts[CallbackOnWarning])
	assert.Equal(t, 1, counts[CallbackOnTermination])
	assert.Equal(t, core.StatusCompleted, status)

	// The failing listener is reported, never fatal.
	var listenerWarnings int
	for _, w := range report.Warnings {
		if w == "after_round callback: listener broke" {
			listenerWarnings++
		}
	}
	assert.Equal(t, 2, listenerWarnings)
}

func TestScheduler_EmitsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	prevProvider := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevProvider)
	})

	search := newActor(core.Search, requestTool("web_search", map[string]any{"query": "France"}), say("68.4M"))
	_, analyst, data := fullTeam()
	d := newDecider(next(core.Search), next(core.Analyst), stop("done"))
	s, err := New(d, team(search, analyst, data), &fakeInvoker{})
	require.NoError(t, err)

	_, err = s.RunWithID(context.Background(), "traced", "task")
	require.NoError(t, err)

	counts := map[string]int{}
	for _, span := range recorder.Ended() {
		counts[span.Name()]++
	}
	assert.Equal(t, 1, counts[spanRun])
	assert.Equal(t, 3, counts[spanDecide])
	assert.Equal(t, 2, counts[spanRound])
	assert.Equal(t, 3, counts[spanAct])
	assert.Equal(t, 1, counts[spanTool])
}
