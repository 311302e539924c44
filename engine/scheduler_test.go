package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/researchmesh/core"
)

func newScheduler(t *testing.T, d Decider, actors []Actor, inv ToolInvoker, cfgFns ...func(c *Config)) *Scheduler {
	t.Helper()
	s, err := New(d, actors, inv, func(o *Options) {
		o.Config.CallTimeout = time.Second
		for _, fn := range cfgFns {
			fn(&o.Config)
		}
	})
	require.NoError(t, err)
	return s
}

func fullTeam() (*fakeActor, *fakeActor, *fakeActor) {
	return newActor(core.Search, say("France has 68.4 million inhabitants.")),
		newActor(core.Analyst, say("Germany is larger than France.")),
		newActor(core.DataAnalyst, say("Chart rendered."))
}

func countKind(msgs []core.Message, kind core.MessageKind) int {
	n := 0
	for _, m := range msgs {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

func TestNew_Validation(t *testing.T) {
	search, analyst, _ := fullTeam()
	d := newDecider(next(core.Search))
	inv := &fakeInvoker{}

	_, err := New(nil, team(search, analyst), inv)
	assert.Error(t, err)

	_, err = New(d, team(search, analyst), nil)
	assert.Error(t, err)

	_, err = New(d, team(search, search, analyst), inv)
	assert.Error(t, err)

	_, err = New(d, team(newActor(core.Orchestrator, say("x")), analyst), inv)
	assert.Error(t, err)

	_, err = New(d, team(search), inv)
	assert.ErrorContains(t, err, "fallback speaker")

	_, err = New(d, team(search, analyst), inv, func(o *Options) { o.Config.MaxRounds = 0 })
	assert.Error(t, err)

	s, err := New(d, team(search, analyst), inv)
	require.NoError(t, err)
	assert.Equal(t, []core.AgentID{core.Orchestrator, core.Search, core.Analyst}, s.Roster().Members())
	assert.Equal(t, DefaultConfig, s.Config())
}

func TestScheduler_EmptyTask(t *testing.T) {
	search, analyst, data := fullTeam()
	s := newScheduler(t, newDecider(next(core.Search)), team(search, analyst, data), &fakeInvoker{})

	_, err := s.Run(context.Background(), "   \n")
	assert.ErrorIs(t, err, ErrEmptyTask)
}

func TestScheduler_CompletesWithDeliverable(t *testing.T) {
	search, analyst, data := fullTeam()
	d := newDecider(next(core.Search), next(core.Analyst), stop("answered"))
	s := newScheduler(t, d, team(search, analyst, data), &fakeInvoker{})

	report, err := s.RunWithID(context.Background(), "run-1", "Compare France and Germany")
	require.NoError(t, err)

	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, core.StatusCompleted, report.Status)
	assert.Equal(t, "answered", report.Reason)
	assert.Equal(t, 2, report.Rounds)
	assert.Equal(t, "Germany is larger than France.", report.SummaryText)
	assert.Empty(t, report.Warnings)

	msgs := report.Transcript
	require.NotEmpty(t, msgs)
	assert.Equal(t, core.User, msgs[0].Speaker)
	assert.Equal(t, 0, msgs[0].RoundIndex)
	assert.Equal(t, core.Orchestrator, msgs[1].Speaker)
	assert.JSONEq(t, `{"next_speaker":"Search"}`, msgs[1].Content)
	assert.Equal(t, 1, msgs[2].RoundIndex)
	assert.Equal(t, core.Search, msgs[2].Speaker)
}

func TestScheduler_StallDetection(t *testing.T) {
	search, analyst, data := fullTeam()
	d := newDecider(next(core.Search), next(core.Search), next(core.Search), next(core.Search))
	s := newScheduler(t, d, team(search, analyst, data), &fakeInvoker{})

	report, err := s.Run(context.Background(), "Find the population of France")
	require.NoError(t, err)

	assert.Equal(t, core.StatusStalled, report.Status)
	assert.LessOrEqual(t, report.Rounds, 3)
	assert.Equal(t, 2, report.Rounds)
	assert.Equal(t, 3, d.Calls())
	assert.Equal(t, "France has 68.4 million inhabitants.", report.SummaryText)
}

func TestScheduler_ToolActivityResetsStall(t *testing.T) {
	search := newActor(core.Search,
		requestTool("web_search", map[string]any{"query": "France"}), say("France: 68.4M"),
		requestTool("web_search", map[string]any{"query": "Germany"}), say("Germany: 84.5M"),
		say("nothing new"),
	)
	_, analyst, data := fullTeam()
	d := newDecider(next(core.Search), next(core.Search), next(core.Search), next(core.Search), next(core.Search))
	inv := &fakeInvoker{}
	s := newScheduler(t, d, team(search, analyst, data), inv)

	report, err := s.Run(context.Background(), "populations")
	require.NoError(t, err)

	// Rounds with searches never count as repeats; the two plain repeats
	// after them stall the run.
	assert.Equal(t, core.StatusStalled, report.Status)
	assert.Equal(t, 4, report.Rounds)
	assert.Len(t, inv.Requests(), 2)
}

func TestScheduler_ToolNotPermittedContinues(t *testing.T) {
	search, analyst, _ := fullTeam()
	data := newActor(core.DataAnalyst, refuseTool("web_search"), say("I can only plot data."))
	inv := &fakeInvoker{}
	d := newDecider(next(core.DataAnalyst), next(core.Analyst), stop("done"))
	s := newScheduler(t, d, team(search, analyst, data), inv)

	report, err := s.Run(context.Background(), "plot populations")
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, report.Status)
	assert.Empty(t, inv.Requests())

	var refused *core.Message
	for i, m := range report.Transcript {
		if m.Kind == core.KindToolResult {
			refused = &report.Transcript[i]
		}
	}
	require.NotNil(t, refused)
	assert.Equal(t, core.DataAnalyst, refused.Speaker)
	assert.Equal(t, core.CodeToolNotPermitted, refused.ErrorCode)
	assert.False(t, refused.ToolResult.Success)
	assert.Equal(t, 1, refused.RoundIndex)
	assert.Equal(t, 2, data.Calls())
	assert.NotEmpty(t, report.Warnings)
}

func TestScheduler_MalformedDecisionFallsBack(t *testing.T) {
	search, analyst, data := fullTeam()
	d := newDecider(
		decideStep{d: core.Decision{NextSpeaker: "Marketing"}},
		decideStep{d: core.Decision{NextSpeaker: "Orchestrator"}},
		decideStep{d: core.Decision{Raw: "no idea"}},
		stop("done"),
	)
	reg := newTestMetrics()
	s, err := New(d, team(search, analyst, data), &fakeInvoker{}, func(o *Options) {
		o.Metrics = reg
	})
	require.NoError(t, err)

	report, err := s.Run(context.Background(), "task")
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, report.Status)
	assert.Equal(t, "done", report.Reason)
	assert.Equal(t, 3, report.Rounds)
	assert.Equal(t, 3, analyst.Calls())
	assert.Equal(t, 0, search.Calls())
	require.Len(t, report.Warnings, 3)
	assert.Contains(t, report.Warnings[0], `"Marketing"`)
	assert.Contains(t, report.Warnings[2], `"no idea"`)
	assert.Equal(t, 3.0, counterValue(reg.malformedDecisions))
}

func TestScheduler_MalformedDecisionsBoundedByRoundLimit(t *testing.T) {
	search, analyst, data := fullTeam()
	d := newDecider(decideStep{d: core.Decision{Raw: "no idea"}})
	s := newScheduler(t, d, team(search, analyst, data), &fakeInvoker{}, func(c *Config) { c.MaxRounds = 5 })

	report, err := s.Run(context.Background(), "task")
	require.NoError(t, err)

	assert.Equal(t, core.StatusResourceExhausted, report.Status)
	assert.Equal(t, 5, report.Rounds)
	assert.Equal(t, 5, analyst.Calls())
	assert.Len(t, report.Warnings, 5)
}

func TestScheduler_MalformedDecisionBreaksRepeatChain(t *testing.T) {
	search, analyst, data := fullTeam()
	d := newDecider(
		next(core.Analyst),
		next(core.Analyst),
		decideStep{d: core.Decision{NextSpeaker: "Marketing"}},
		next(core.Analyst),
		next(core.Analyst),
		stop("done"),
	)
	s := newScheduler(t, d, team(search, analyst, data), &fakeInvoker{})

	report, err := s.Run(context.Background(), "task")
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, report.Status)
	assert.Equal(t, 5, report.Rounds)
}

func TestScheduler_OrchestratorUnavailable(t *testing.T) {
	search, analyst, data := fullTeam()
	boom := errors.New("503 from provider")

	t.Run("exhausted", func(t *testing.T) {
		d := newDecider(failDecide(boom))
		s := newScheduler(t, d, team(search, analyst, data), &fakeInvoker{})

		report, err := s.Run(context.Background(), "task")
		require.NoError(t, err)
		assert.Equal(t, core.StatusOrchestratorUnavailable, report.Status)
		assert.Equal(t, 0, report.Rounds)
		assert.Equal(t, 3, d.Calls())
		assert.Contains(t, report.Reason, "503 from provider")
		assert.Equal(t, report.Reason, report.SummaryText)
	})

	t.Run("recovers within retries", func(t *testing.T) {
		d := newDecider(failDecide(boom), failDecide(boom), next(core.Analyst), stop("ok"))
		s := newScheduler(t, d, team(search, analyst, data), &fakeInvoker{})

		report, err := s.Run(context.Background(), "task")
		require.NoError(t, err)
		assert.Equal(t, core.StatusCompleted, report.Status)
	})
}

func TestScheduler_RejectedStopDispatchesFallback(t *testing.T) {
	search, analyst, data := fullTeam()
	d := newDecider(next(core.Search), stop("looks done"), stop("really done"))
	s := newScheduler(t, d, team(search, analyst, data), &fakeInvoker{})

	report, err := s.Run(context.Background(), "task")
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, report.Status)
	assert.Equal(t, 2, report.Rounds)
	assert.Equal(t, 1, analyst.Calls())
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "stop rejected")
}

func TestScheduler_RepeatedRejectedStopsStall(t *testing.T) {
	search, _, data := fullTeam()
	analyst := newActor(core.Analyst, fail(errors.New("model down")))
	d := newDecider(stop("done?"))
	s := newScheduler(t, d, team(search, analyst, data), &fakeInvoker{})

	report, err := s.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, core.StatusStalled, report.Status)
	assert.Equal(t, 2, report.Rounds)
}

func TestScheduler_MaxRounds(t *testing.T) {
	search, analyst, data := fullTeam()
	d := newDecider(next(core.Search), next(core.Analyst), next(core.Search), next(core.Analyst), next(core.Search))
	s := newScheduler(t, d, team(search, analyst, data), &fakeInvoker{}, func(c *Config) { c.MaxRounds = 3 })

	report, err := s.Run(context.Background(), "task")
	require.NoError(t, err)

	assert.Equal(t, core.StatusResourceExhausted, report.Status)
	assert.Equal(t, 3, report.Rounds)
	assert.Equal(t, 4, d.Calls())
	for _, m := range report.Transcript {
		assert.LessOrEqual(t, m.RoundIndex, 3)
	}
	last := report.Transcript[len(report.Transcript)-1]
	assert.Equal(t, core.Search, last.Speaker)
	assert.Equal(t, 3, last.RoundIndex)
}

func TestScheduler_StopAtRoundLimitCompletes(t *testing.T) {
	search, analyst, data := fullTeam()
	d := newDecider(next(core.Search), next(core.Analyst), stop("answered"))
	s := newScheduler(t, d, team(search, analyst, data), &fakeInvoker{}, func(c *Config) { c.MaxRounds = 2 })

	report, err := s.Run(context.Background(), "task")
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, report.Status)
	assert.Equal(t, 2, report.Rounds)
	last := report.Transcript[len(report.Transcript)-1]
	assert.Equal(t, core.Orchestrator, last.Speaker)
	assert.Equal(t, 2, last.RoundIndex)
}

func TestScheduler_ToolTurnsStayInRound(t *testing.T) {
	search := newActor(core.Search,
		requestTool("web_search", map[string]any{"query": "France"}),
		requestTool("web_search", map[string]any{"query": "Germany"}),
		say("France 68.4M, Germany 84.5M"),
	)
	_, analyst, data := fullTeam()
	inv := &fakeInvoker{}
	d := newDecider(next(core.Search), next(core.Analyst), stop("done"))
	s := newScheduler(t, d, team(search, analyst, data), inv)

	report, err := s.Run(context.Background(), "task")
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, report.Status)
	assert.Equal(t, 2, report.Rounds)
	assert.Len(t, inv.Requests(), 2)
	assert.Equal(t, 2, countKind(report.Transcript, core.KindToolCall))
	assert.Equal(t, 2, countKind(report.Transcript, core.KindToolResult))
	for _, m := range report.Transcript {
		if m.Kind != core.KindText {
			assert.Equal(t, 1, m.RoundIndex)
			assert.Equal(t, core.Search, m.Speaker)
		}
	}
}

func TestScheduler_ToolTurnLimit(t *testing.T) {
	search := newActor(core.Search, requestTool("web_search", map[string]any{"query": "again"}))
	_, analyst, data := fullTeam()
	inv := &fakeInvoker{}
	d := newDecider(next(core.Search), next(core.Analyst), stop("done"))
	s := newScheduler(t, d, team(search, analyst, data), inv, func(c *Config) { c.MaxToolTurnsPerRound = 2 })

	report, err := s.Run(context.Background(), "task")
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, report.Status)
	assert.Len(t, inv.Requests(), 2)

	var notice *core.Message
	for i, m := range report.Transcript {
		if m.ErrorCode == core.CodeResourceExhausted {
			notice = &report.Transcript[i]
		}
	}
	require.NotNil(t, notice)
	assert.Equal(t, core.KindText, notice.Kind)
	assert.Equal(t, 1, notice.RoundIndex)
}

func TestScheduler_ModelCallBudget(t *testing.T) {
	search, analyst, data := fullTeam()
	d := newDecider(next(core.Search), next(core.Analyst))
	s := newScheduler(t, d, team(search, analyst, data), &fakeInvoker{}, func(c *Config) {
		c.MaxModelCalls = 3
		c.StallThreshold = 0
	})

	report, err := s.Run(context.Background(), "task")
	require.NoError(t, err)

	assert.Equal(t, core.StatusResourceExhausted, report.Status)
	assert.Contains(t, report.Reason, "budget")
	assert.Equal(t, 1, report.Rounds)
}

func TestScheduler_AgentFailureBecomesNotice(t *testing.T) {
	search := newActor(core.Search, fail(context.DeadlineExceeded), say("recovered"))
	_, analyst, data := fullTeam()
	d := newDecider(next(core.Search), next(core.Search), next(core.Analyst), stop("done"))
	s := newScheduler(t, d, team(search, analyst, data), &fakeInvoker{})

	report, err := s.Run(context.Background(), "task")
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, report.Status)
	assert.Equal(t, 3, report.Rounds)

	var notices int
	for _, m := range report.Transcript {
		if m.ErrorCode == core.CodeCollaboratorFailure {
			notices++
			assert.False(t, m.IsSubstantive())
			assert.True(t, strings.Contains(m.Content, "deadline exceeded"))
		}
	}
	assert.Equal(t, 1, notices)
}

func TestScheduler_EmptyErrorContributionIsNotice(t *testing.T) {
	search := newActor(core.Search, func(context.Context, *core.Transcript) (core.Contribution, error) {
		return core.Contribution{Kind: core.ContributionError, ErrorDetail: "nothing to say"}, nil
	})
	_, analyst, data := fullTeam()
	d := newDecider(next(core.Search), next(core.Analyst), stop("done"))
	s := newScheduler(t, d, team(search, analyst, data), &fakeInvoker{})

	report, err := s.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, report.Status)
	assert.Equal(t, core.CodeCollaboratorFailure, report.Transcript[2].ErrorCode)
}

func TestScheduler_Cancellation(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		search, analyst, data := fullTeam()
		d := newDecider(next(core.Search))
		s := newScheduler(t, d, team(search, analyst, data), &fakeInvoker{})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		report, err := s.Run(ctx, "task")
		require.NoError(t, err)
		assert.Equal(t, core.StatusCancelled, report.Status)
		assert.Equal(t, 0, d.Calls())
		assert.Len(t, report.Transcript, 1)
	})

	t.Run("in-flight turn completes", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		var sawCancelled bool
		search := newActor(core.Search, func(callCtx context.Context, _ *core.Transcript) (core.Contribution, error) {
			cancel()
			sawCancelled = callCtx.Err() != nil
			return core.Contribution{Kind: core.ContributionText, Text: "finished anyway"}, nil
		})
		_, analyst, data := fullTeam()
		s := newScheduler(t, newDecider(next(core.Search)), team(search, analyst, data), &fakeInvoker{})

		report, err := s.Run(ctx, "task")
		require.NoError(t, err)
		assert.False(t, sawCancelled)
		assert.Equal(t, core.StatusCancelled, report.Status)
		assert.Equal(t, 1, report.Rounds)
		assert.Equal(t, "finished anyway", report.SummaryText)
	})
}

func TestScheduler_CallTimeout(t *testing.T) {
	search := newActor(core.Search, func(ctx context.Context, _ *core.Transcript) (core.Contribution, error) {
		<-ctx.Done()
		return core.Contribution{}, ctx.Err()
	}, say("fast now"))
	_, analyst, data := fullTeam()
	d := newDecider(next(core.Search), next(core.Analyst), stop("done"))
	s := newScheduler(t, d, team(search, analyst, data), &fakeInvoker{}, func(c *Config) { c.CallTimeout = 20 * time.Millisecond })

	report, err := s.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, report.Status)
	assert.Equal(t, core.CodeCollaboratorFailure, report.Transcript[2].ErrorCode)
}

func TestScheduler_ArtifactPaths(t *testing.T) {
	data := newActor(core.DataAnalyst,
		requestTool("render_plot", map[string]any{"kind": "bar"}),
		say("Chart stored."),
	)
	search, analyst, _ := fullTeam()
	inv := &fakeInvoker{fn: func(req core.ToolRequest) core.ToolResult {
		return core.Succeeded(req, map[string]any{"path": "mem://r/bar.xlsx"}, "mem://r/bar.xlsx")
	}}
	d := newDecider(next(core.DataAnalyst), stop("plotted"))
	s := newScheduler(t, d, team(search, analyst, data), inv)

	report, err := s.Run(context.Background(), "plot")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, report.Status)
	assert.Equal(t, []string{"mem://r/bar.xlsx"}, report.ArtifactPaths)
	assert.Equal(t, "Chart stored.", report.SummaryText)
}

func TestScheduler_ParallelRunsAreIndependent(t *testing.T) {
	search, analyst, data := fullTeam()
	s := newScheduler(t, &statelessDecider{}, team(search, analyst, data), &fakeInvoker{})

	results := make(chan core.FinalReport, 8)
	for i := 0; i < 8; i++ {
		go func() {
			report, err := s.Run(context.Background(), "task")
			assert.NoError(t, err)
			results <- report
		}()
	}
	ids := map[string]bool{}
	for i := 0; i < 8; i++ {
		report := <-results
		assert.Equal(t, core.StatusCompleted, report.Status)
		assert.Equal(t, 2, report.Rounds)
		ids[report.RunID] = true
	}
	assert.Len(t, ids, 8)
}

// statelessDecider derives its decision from the transcript only.
type statelessDecider struct{}

func (statelessDecider) Decide(_ context.Context, tr *core.Transcript) (core.Decision, error) {
	switch {
	case tr.HasDeliverable():
		return core.Decision{Stop: true, Reason: "done"}, nil
	case tr.Len() > 2:
		return core.Decision{NextSpeaker: string(core.Analyst)}, nil
	default:
		return core.Decision{NextSpeaker: string(core.Search)}, nil
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "日本...", truncate("日本語テキスト", 2))
	assert.True(t, utf8.ValidString(truncate(strings.Repeat("é", 50), 7)))
}
