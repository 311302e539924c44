package runner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/logging"
)

// ErrRunNotFound is returned by Cancel for unknown or finished runs.
var ErrRunNotFound = errors.New("run not found")

// ErrRunActive is returned when a caller reuses the ID of an in-flight run.
var ErrRunActive = errors.New("run already active")

// Engine executes a single run. *engine.Scheduler satisfies it.
type Engine interface {
	RunWithID(ctx context.Context, runID, task string) (core.FinalReport, error)
}

// Options holds configuration overrides passed to New().
type Options struct {
	// MaxConcurrentRuns limits how many runs RunAll executes at once.
	MaxConcurrentRuns int
	// Logger receives run lifecycle events.
	Logger logging.Logger
	// Reports keeps finished reports for later lookup. Optional.
	Reports core.ReportStore
}

// Runner executes research runs and tracks the in-flight ones so they can be
// cancelled by ID. Public methods are safe for concurrent use.
type Runner struct {
	engine            Engine
	maxConcurrentRuns int
	logger            logging.Logger
	reports           core.ReportStore

	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
}

var _ core.Runner = (*Runner)(nil)

// New constructs a Runner with optional overrides.
func New(engine Engine, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxConcurrentRuns: 4,
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = 1
	}

	return &Runner{
		engine:            engine,
		maxConcurrentRuns: opts.MaxConcurrentRuns,
		logger:            opts.Logger,
		reports:           opts.Reports,
		activeRuns:        make(map[string]context.CancelFunc),
	}
}

// Run executes task and blocks until the run terminates.
func (r *Runner) Run(ctx context.Context, task string, optFns ...func(o *core.RunOptions)) (core.FinalReport, error) {
	opts := core.RunOptions{RunID: core.RunIDFromContext(ctx)}
	for _, fn := range optFns {
		fn(&opts)
	}

	runID := opts.RunID
	if runID == "" {
		runID = core.NewID()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if _, exists := r.activeRuns[runID]; exists {
		r.mu.Unlock()
		return core.FinalReport{}, fmt.Errorf("%w: %s", ErrRunActive, runID)
	}
	r.activeRuns[runID] = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.activeRuns, runID)
		r.mu.Unlock()
	}()

	r.logger.Debug("runner.run.start", "run_id", runID)

	report, err := r.engine.RunWithID(ctx, runID, task)
	if err != nil {
		r.logger.Warn("runner.run.failed", "run_id", runID, "error", err)
		return report, err
	}

	r.logger.Debug("runner.run.done", "run_id", runID, "status", report.Status)

	if r.reports != nil {
		if err := r.reports.Save(report); err != nil {
			r.logger.Warn("runner.report.save_failed", "run_id", runID, "error", err)
		}
	}

	return report, nil
}

// Report returns the stored report of a finished run.
func (r *Runner) Report(runID string) (core.FinalReport, error) {
	if r.reports == nil {
		return core.FinalReport{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r.reports.Get(runID)
}

// Cancel cancels a running run by ID.
func (r *Runner) Cancel(runID string) error {
	r.mu.RLock()
	cancel, exists := r.activeRuns[runID]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	cancel()

	r.logger.Info("runner.run.cancel", "run_id", runID)

	return nil
}

// Active returns the IDs of the runs currently in flight, sorted.
func (r *Runner) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.activeRuns))
	for id := range r.activeRuns {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}

// Result pairs a task with the outcome of its run.
type Result struct {
	Task   string
	Report core.FinalReport
	Err    error
}

// RunAll executes independent tasks in parallel, at most MaxConcurrentRuns
// at a time. Results are returned in task order. A failing task does not
// stop the others.
func (r *Runner) RunAll(ctx context.Context, tasks []string) []Result {
	results := make([]Result, len(tasks))

	var g errgroup.Group
	g.SetLimit(r.maxConcurrentRuns)

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			report, err := r.Run(ctx, task, func(o *core.RunOptions) { o.RunID = "" })
			results[i] = Result{Task: task, Report: report, Err: err}
			return nil
		})
	}

	_ = g.Wait()

	return results
}
