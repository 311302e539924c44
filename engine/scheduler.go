package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/logging"
)

// ErrEmptyTask is returned by Run for a blank task description.
var ErrEmptyTask = errors.New("task description must not be empty")

// errOrchestratorUnavailable ends the decide phase after too many failures.
var errOrchestratorUnavailable = errors.New("orchestrator unavailable")

// Actor is one dispatchable team member. *agent.Runtime implements it.
type Actor interface {
	ID() core.AgentID
	Act(ctx context.Context, tr *core.Transcript) (core.Contribution, error)
}

// Decider picks the next speaker. *agent.Orchestrator implements it.
type Decider interface {
	Decide(ctx context.Context, tr *core.Transcript) (core.Decision, error)
}

// ToolInvoker executes tool requests. *tool.Invoker implements it.
type ToolInvoker interface {
	Invoke(ctx context.Context, req core.ToolRequest) core.ToolResult
}

// Config holds the limits of a run.
type Config struct {
	// MaxRounds bounds the number of rounds; the run ends with
	// resource_exhausted instead of starting round MaxRounds+1.
	MaxRounds int

	// CallTimeout bounds every model call. Tool calls are bounded by the
	// invoker's own timeout.
	CallTimeout time.Duration

	// OrchestratorRetries is the number of extra decide attempts within one
	// round before the run ends with orchestrator_unavailable.
	OrchestratorRetries int

	// StallThreshold is N in "the same decision repeated N times without
	// tool activity stalls the run". 0 disables stall detection.
	StallThreshold int

	// MaxToolTurnsPerRound bounds consecutive tool turns of one agent.
	MaxToolTurnsPerRound int

	// MaxModelCalls bounds the model calls of a run (0 = unlimited).
	MaxModelCalls int

	// FallbackSpeaker replaces malformed or rejected decisions.
	FallbackSpeaker core.AgentID
}

// DefaultConfig provides the default limits.
var DefaultConfig = Config{
	MaxRounds:            12,
	CallTimeout:          30 * time.Second,
	OrchestratorRetries:  2,
	StallThreshold:       2,
	MaxToolTurnsPerRound: 6,
	MaxModelCalls:        0,
	FallbackSpeaker:      core.Analyst,
}

// Validate checks the limits.
func (c Config) Validate() error {
	switch {
	case c.MaxRounds <= 0:
		return fmt.Errorf("max rounds must be positive, got %d", c.MaxRounds)
	case c.CallTimeout <= 0:
		return fmt.Errorf("call timeout must be positive, got %s", c.CallTimeout)
	case c.OrchestratorRetries < 0:
		return fmt.Errorf("orchestrator retries must not be negative, got %d", c.OrchestratorRetries)
	case c.StallThreshold < 0:
		return fmt.Errorf("stall threshold must not be negative, got %d", c.StallThreshold)
	case c.MaxToolTurnsPerRound <= 0:
		return fmt.Errorf("max tool turns per round must be positive, got %d", c.MaxToolTurnsPerRound)
	case c.MaxModelCalls < 0:
		return fmt.Errorf("max model calls must not be negative, got %d", c.MaxModelCalls)
	case !c.FallbackSpeaker.IsWorker():
		return fmt.Errorf("fallback speaker %q is not a worker agent", c.FallbackSpeaker)
	}
	return nil
}

// Options configures a Scheduler using the functional options pattern.
type Options struct {
	Config Config

	// Logger defaults to NoOp.
	Logger logging.Logger

	// Callbacks receive lifecycle notifications. Optional.
	Callbacks *CallbackManager

	// Metrics records Prometheus metrics. Nil disables metrics.
	Metrics *Metrics

	// Tracer creates spans; defaults to the global OpenTelemetry tracer.
	Tracer trace.Tracer
}

// Scheduler runs the turn-taking loop. It holds only immutable wiring; all
// per-run state is created inside Run, so one Scheduler can serve many runs
// in parallel.
type Scheduler struct {
	orchestrator Decider
	actors       map[core.AgentID]Actor
	roster       core.Roster
	invoker      ToolInvoker
	cfg          Config
	logger       logging.Logger
	callbacks    *CallbackManager
	metrics      *Metrics
	tracer       trace.Tracer
}

// New creates a Scheduler. actors is the closed dispatch table: only these
// agents can be scheduled, and the configured fallback speaker must be
// among them.
func New(orchestrator Decider, actors []Actor, invoker ToolInvoker, optFns ...func(o *Options)) (*Scheduler, error) {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = defaultTracer()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if orchestrator == nil {
		return nil, errors.New("scheduler: orchestrator is required")
	}
	if invoker == nil {
		return nil, errors.New("scheduler: tool invoker is required")
	}

	table := make(map[core.AgentID]Actor, len(actors))
	ids := []core.AgentID{core.Orchestrator}
	for _, a := range actors {
		id := a.ID()
		if !id.IsWorker() {
			return nil, fmt.Errorf("scheduler: %q cannot be dispatched", id)
		}
		if _, dup := table[id]; dup {
			return nil, fmt.Errorf("scheduler: duplicate actor %q", id)
		}
		table[id] = a
		ids = append(ids, id)
	}
	if _, ok := table[opts.Config.FallbackSpeaker]; !ok {
		return nil, fmt.Errorf("scheduler: fallback speaker %s is not registered", opts.Config.FallbackSpeaker)
	}
	roster, err := core.NewRoster(ids...)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	return &Scheduler{
		orchestrator: orchestrator,
		actors:       table,
		roster:       roster,
		invoker:      invoker,
		cfg:          opts.Config,
		logger:       opts.Logger,
		callbacks:    opts.Callbacks,
		metrics:      opts.Metrics,
		tracer:       opts.Tracer,
	}, nil
}

// Config returns the scheduler limits.
func (s *Scheduler) Config() Config { return s.cfg }

// Roster returns the agents the scheduler can dispatch, plus the Orchestrator.
func (s *Scheduler) Roster() core.Roster { return s.roster }

// Run executes task under a fresh run ID (or the one carried by ctx).
func (s *Scheduler) Run(ctx context.Context, task string) (core.FinalReport, error) {
	runID := core.RunIDFromContext(ctx)
	if runID == "" {
		runID = core.NewID()
	}
	return s.RunWithID(ctx, runID, task)
}

// RunWithID executes task and always returns a FinalReport, except for a
// blank task (ErrEmptyTask) or a broken transcript invariant, which is a
// programming error in an Actor.
//
// Cancelling ctx ends the run with status cancelled at the next loop
// iteration; calls that are already in flight run to completion or timeout.
func (s *Scheduler) RunWithID(ctx context.Context, runID, task string) (core.FinalReport, error) {
	if strings.TrimSpace(task) == "" {
		return core.FinalReport{}, ErrEmptyTask
	}

	ctx = core.WithRunID(ctx, runID)
	ctx, span := s.tracer.Start(ctx, spanRun, trace.WithAttributes(attribute.String("run.id", runID)))

	r := &run{
		s:        s,
		state:    &core.RunState{RunID: runID, MaxRounds: s.cfg.MaxRounds},
		tr:       core.NewTranscript(),
		detector: NewDetector(s.cfg.StallThreshold),
		limiter:  core.NewModelLimiter(s.cfg.MaxModelCalls),
		logger:   s.logger,
	}
	if sl, ok := s.logger.(*logging.StructuredLogger); ok {
		r.logger = sl.WithRun(runID)
	}

	start := time.Now()
	s.metrics.runStarted()
	r.logger.Info("scheduler.run.start", "run_id", runID, "max_rounds", s.cfg.MaxRounds)

	err := r.loop(ctx, task)
	report := r.report()

	s.metrics.runFinished(report.Status, time.Since(start))
	if rl, ok := r.logger.(runLogger); ok {
		rl.LogRunCompletion(string(report.Status), report.Rounds, time.Since(start), len(report.Warnings))
	} else {
		r.logger.Info("scheduler.run.completed", "run_id", runID, "status", report.Status, "rounds", report.Rounds, "duration", time.Since(start))
	}
	span.SetAttributes(
		attribute.String("run.status", string(report.Status)),
		attribute.Int("run.rounds", report.Rounds),
	)
	endSpan(span, err)

	return report, err
}

// runLogger is implemented by *logging.StructuredLogger.
type runLogger interface {
	LogRound(round int, speaker string, toolTurns int, dur time.Duration)
	LogRunCompletion(status string, rounds int, dur time.Duration, warnings int)
}

// run is the per-run state. It is only touched by the goroutine executing
// RunWithID.
type run struct {
	s        *Scheduler
	state    *core.RunState
	tr       *core.Transcript
	detector *Detector
	limiter  *core.ModelLimiter
	logger   logging.Logger
	reason   string
}

func (r *run) loop(ctx context.Context, task string) error {
	if err := r.tr.Append(core.NewTextMessage(core.User, strings.TrimSpace(task), 0)); err != nil {
		return err
	}
	for !r.state.Terminated {
		if err := r.step(ctx); err != nil {
			r.terminate(ctx, core.StatusCancelled, "aborted: "+err.Error())
			return err
		}
	}
	return nil
}

// step performs one iteration: cancellation check, decision, termination
// checks and at most one round.
func (r *run) step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		r.terminate(ctx, core.StatusCancelled, fmt.Sprintf("run cancelled after %d rounds: %v", r.state.RoundCount, err))
		return nil
	}

	round := r.state.RoundCount + 1
	decision, err := r.decide(ctx, round)
	switch {
	case errors.Is(err, core.ErrModelBudgetExhausted):
		r.detector.ForceStop(core.StatusResourceExhausted)
		r.terminate(ctx, core.StatusResourceExhausted, err.Error())
		return nil
	case errors.Is(err, errOrchestratorUnavailable):
		r.terminate(ctx, core.StatusOrchestratorUnavailable, err.Error())
		return nil
	case err != nil:
		return err
	}

	if decision.Stop && r.detector.ObserveStop(r.tr.HasDeliverable()) {
		// An accepted stop closes the last executed round.
		if err := r.tr.Append(core.NewTextMessage(core.Orchestrator, encodeDecision(decision), r.state.RoundCount)); err != nil {
			return err
		}
		r.terminate(ctx, core.StatusCompleted, firstNonEmpty(decision.Reason, "orchestrator stopped the run"))
		return nil
	}
	if r.detector.CheckRounds(r.state.RoundCount, r.state.MaxRounds) == StateForceStopped {
		r.terminate(ctx, core.StatusResourceExhausted, fmt.Sprintf("round limit of %d reached", r.state.MaxRounds))
		return nil
	}

	if err := r.tr.Append(core.NewTextMessage(core.Orchestrator, encodeDecision(decision), round)); err != nil {
		return err
	}

	var (
		speaker core.AgentID
		key     string
	)
	if decision.Stop {
		speaker, key = r.s.cfg.FallbackSpeaker, stopKey
		r.warn(ctx, round, fmt.Sprintf("round %d: stop rejected, no analyst deliverable yet; dispatching %s", round, speaker))
		note := fmt.Sprintf("Stop rejected: no final answer from %s or %s yet. %s takes the turn.", core.Analyst, core.DataAnalyst, speaker)
		if err := r.tr.Append(core.NewTextMessage(core.Orchestrator, note, round)); err != nil {
			return err
		}
	} else {
		var ok bool
		if speaker, ok = r.resolve(ctx, round, decision); ok {
			key = string(speaker)
		}
	}

	if key == "" {
		r.detector.ObserveMalformed()
	} else if r.detector.ObserveDecision(key) == StateStalled {
		r.terminate(ctx, core.StatusStalled, fmt.Sprintf("decision %q repeated %d times without new information", key, r.detector.Repeats()+1))
		return nil
	}

	return r.runRound(ctx, round, speaker)
}

// resolve maps the decision onto the closed dispatch table. ok is false when
// the decision was malformed and the fallback speaker was chosen instead.
func (r *run) resolve(ctx context.Context, round int, d core.Decision) (core.AgentID, bool) {
	id, ok := core.ParseAgentID(d.NextSpeaker)
	if ok && id.IsWorker() {
		if _, registered := r.s.actors[id]; registered {
			return id, true
		}
	}
	fallback := r.s.cfg.FallbackSpeaker
	r.s.metrics.malformedDecision()
	r.warn(ctx, round, fmt.Sprintf("round %d: malformed decision %q; falling back to %s", round, truncate(firstNonEmpty(d.NextSpeaker, d.Raw), 120), fallback))
	return fallback, false
}

// decide asks the Orchestrator, retrying failed calls.
func (r *run) decide(ctx context.Context, round int) (core.Decision, error) {
	var lastErr error
	for attempt := 0; attempt <= r.s.cfg.OrchestratorRetries; attempt++ {
		if err := r.limiter.Increment(); err != nil {
			return core.Decision{}, err
		}

		callCtx, cancel := r.callContext(ctx)
		callCtx, span := r.s.tracer.Start(callCtx, spanDecide, trace.WithAttributes(
			attribute.Int("round", round),
			attribute.Int("attempt", attempt),
		))
		d, err := r.s.orchestrator.Decide(callCtx, r.tr)
		endSpan(span, err)
		cancel()

		r.s.metrics.modelCall(core.Orchestrator, err)
		if err == nil {
			r.logger.Debug("scheduler.decision", "round", round, "next_speaker", d.NextSpeaker, "stop", d.Stop, "reason", d.Reason)
			return d, nil
		}
		lastErr = err
		r.logger.Warn("scheduler.decision.failed", "round", round, "attempt", attempt, "error", err.Error())
	}
	return core.Decision{}, fmt.Errorf("%w: %d failed attempts in round %d: %v",
		errOrchestratorUnavailable, r.s.cfg.OrchestratorRetries+1, round, lastErr)
}

// runRound lets speaker act until it produces text, fails, or exhausts its
// tool turns. Tool traffic stays in the current round.
func (r *run) runRound(ctx context.Context, round int, speaker core.AgentID) error {
	actor := r.s.actors[speaker]
	ctx, span := r.s.tracer.Start(ctx, spanRound, trace.WithAttributes(
		attribute.Int("round", round),
		attribute.String("speaker", string(speaker)),
	))
	defer span.End()

	start := time.Now()
	r.callback(ctx, CallbackBeforeRound, &CallbackContext{Round: round, AgentID: speaker})

	toolTurns := 0
	for {
		if err := r.limiter.Increment(); err != nil {
			r.detector.ForceStop(core.StatusResourceExhausted)
			r.terminate(ctx, core.StatusResourceExhausted, err.Error())
			return nil
		}

		r.callback(ctx, CallbackBeforeAgent, &CallbackContext{Round: round, AgentID: speaker})
		c, err := r.act(ctx, actor, round)
		r.callback(ctx, CallbackAfterAgent, &CallbackContext{Round: round, AgentID: speaker, Contribution: &c, Err: err})

		if err != nil {
			notice := fmt.Sprintf("%s failed to respond: %v", speaker, err)
			if err := r.tr.Append(core.NewNoticeMessage(speaker, core.CodeCollaboratorFailure, notice, round)); err != nil {
				return err
			}
			r.warn(ctx, round, fmt.Sprintf("round %d: %s", round, notice))
			r.endRound(ctx, round, speaker, toolTurns, start)
			return nil
		}

		switch c.Kind {
		case core.ContributionText:
			if err := r.tr.Append(core.NewTextMessage(speaker, c.Text, round)); err != nil {
				return err
			}
			r.endRound(ctx, round, speaker, toolTurns, start)
			return nil

		case core.ContributionToolRequest, core.ContributionError:
			if c.ToolRequest == nil {
				code := c.ErrorCode
				if code == core.CodeNone {
					code = core.CodeCollaboratorFailure
				}
				if err := r.tr.Append(core.NewNoticeMessage(speaker, code, c.ErrorDetail, round)); err != nil {
					return err
				}
				r.endRound(ctx, round, speaker, toolTurns, start)
				return nil
			}
			if toolTurns >= r.s.cfg.MaxToolTurnsPerRound {
				notice := fmt.Sprintf("%s reached the limit of %d tool calls in one round", speaker, r.s.cfg.MaxToolTurnsPerRound)
				if err := r.tr.Append(core.NewNoticeMessage(speaker, core.CodeResourceExhausted, notice, round)); err != nil {
					return err
				}
				r.warn(ctx, round, fmt.Sprintf("round %d: %s", round, notice))
				r.endRound(ctx, round, speaker, toolTurns, start)
				return nil
			}
			toolTurns++
			if err := r.tool(ctx, round, speaker, c); err != nil {
				return err
			}

		default:
			return fmt.Errorf("%w: unknown contribution kind %q from %s", core.ErrInvariant, c.Kind, speaker)
		}
	}
}

func (r *run) act(ctx context.Context, actor Actor, round int) (core.Contribution, error) {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	callCtx, span := r.s.tracer.Start(callCtx, spanAct, trace.WithAttributes(
		attribute.Int("round", round),
		attribute.String("agent", string(actor.ID())),
	))
	c, err := actor.Act(callCtx, r.tr)
	endSpan(span, err)
	r.s.metrics.modelCall(actor.ID(), err)
	if err == nil && c.Speaker == "" {
		c.Speaker = actor.ID()
	}
	return c, err
}

// tool records a tool request and its result. Refused or malformed requests
// (error contributions) are recorded as failed calls without reaching the
// invoker.
func (r *run) tool(ctx context.Context, round int, speaker core.AgentID, c core.Contribution) error {
	req := *c.ToolRequest
	if req.ID == "" {
		req.ID = core.NewID()
	}
	if err := r.tr.Append(core.NewToolCallMessage(speaker, req, round)); err != nil {
		return err
	}

	var res core.ToolResult
	if c.Kind == core.ContributionError {
		res = core.Failed(req, c.ErrorCode, c.ErrorDetail)
		r.warn(ctx, round, fmt.Sprintf("round %d: %s request for %s refused: %s", round, speaker, req.ToolName, c.ErrorCode))
	} else {
		r.callback(ctx, CallbackBeforeTool, &CallbackContext{Round: round, AgentID: speaker, ToolRequest: &req})
		toolCtx, span := r.s.tracer.Start(ctx, spanTool, trace.WithAttributes(
			attribute.String("tool", req.ToolName),
			attribute.String("request.id", req.ID),
		))
		res = r.s.invoker.Invoke(toolCtx, req)
		span.SetAttributes(attribute.Bool("tool.success", res.Success))
		span.End()
		r.detector.ObserveToolActivity()
		r.callback(ctx, CallbackAfterTool, &CallbackContext{Round: round, AgentID: speaker, ToolRequest: &req, ToolResult: &res})
	}
	// The invoker may not know the request; keep the pairing intact.
	res.RequestID = req.ID
	r.s.metrics.toolCall(res)

	return r.tr.Append(core.NewToolResultMessage(speaker, res, round))
}

func (r *run) endRound(ctx context.Context, round int, speaker core.AgentID, toolTurns int, start time.Time) {
	r.state.RoundCount++
	r.s.metrics.roundCompleted(speaker)
	if rl, ok := r.logger.(runLogger); ok {
		rl.LogRound(round, string(speaker), toolTurns, time.Since(start))
	} else {
		r.logger.Info("scheduler.round.completed", "round", round, "speaker", speaker, "tool_turns", toolTurns)
	}
	r.callback(ctx, CallbackAfterRound, &CallbackContext{Round: round, AgentID: speaker})
}

// callContext derives a per-call context that survives caller cancellation
// but not the call timeout.
func (r *run) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.s.cfg.CallTimeout)
}

func (r *run) warn(ctx context.Context, round int, msg string) {
	r.state.Warn(msg)
	r.logger.Warn("scheduler.warning", "round", round, "warning", msg)
	r.callback(ctx, CallbackOnWarning, &CallbackContext{Round: round, Warning: msg})
}

func (r *run) terminate(ctx context.Context, status core.Status, reason string) {
	if r.state.Terminated {
		return
	}
	r.state.Terminate(status)
	r.reason = reason
	r.logger.Info("scheduler.run.terminated", "status", status, "reason", reason, "rounds", r.state.RoundCount)
	r.callback(ctx, CallbackOnTermination, &CallbackContext{Round: r.state.RoundCount, Status: status})
}

// callback runs registered callbacks; failures become warnings.
func (r *run) callback(ctx context.Context, t CallbackType, cc *CallbackContext) {
	if r.s.callbacks == nil {
		return
	}
	cc.RunID = r.state.RunID
	if err := r.s.callbacks.ExecuteCallbacks(ctx, t, cc); err != nil {
		r.logger.Warn("scheduler.callback.failed", "type", t, "error", err.Error())
		if t != CallbackOnWarning {
			r.state.Warn(err.Error())
		}
	}
}

// report assembles the FinalReport from the transcript and run state.
func (r *run) report() core.FinalReport {
	summary := r.reason
	if m, ok := r.tr.LastSubstantive(core.Analyst, core.DataAnalyst); ok {
		summary = m.Content
	} else if m, ok := r.tr.LastSubstantive(); ok {
		summary = m.Content
	}

	return core.FinalReport{
		RunID:         r.state.RunID,
		Status:        r.state.TerminationReason,
		Reason:        r.reason,
		SummaryText:   summary,
		ArtifactPaths: r.tr.ArtifactPaths(),
		Rounds:        r.state.RoundCount,
		Warnings:      append([]string(nil), r.state.Warnings...),
		Transcript:    r.tr.Messages(),
	}
}

func encodeDecision(d core.Decision) string {
	if d.NextSpeaker == "" && !d.Stop && d.Raw != "" {
		return d.Raw
	}
	b, err := json.Marshal(d)
	if err != nil {
		return d.Raw
	}
	return string(b)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
