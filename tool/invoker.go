package tool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/search"
)

// InvokerOptions configure an Invoker.
type InvokerOptions struct {
	// Timeout bounds every single tool call (default 30s).
	Timeout time.Duration
	// Retries is the number of extra attempts for retryable failures
	// (timeouts, network errors, 5xx/429 upstream status). Default 1.
	Retries int
	// Backoff is the fixed pause between attempts (default 500ms).
	Backoff time.Duration
	Logger  logging.Logger
}

// Invoker validates and executes tool requests. Every outcome, including
// panics inside a tool, is returned as a core.ToolResult; nothing raises past
// Invoke. An Invoker is safe for concurrent use.
type Invoker struct {
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	opts    InvokerOptions
	mu      sync.RWMutex
}

// NewInvoker creates an Invoker with no registered tools.
func NewInvoker(optFns ...func(o *InvokerOptions)) *Invoker {
	opts := InvokerOptions{
		Timeout: 30 * time.Second,
		Retries: 1,
		Backoff: 500 * time.Millisecond,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Invoker{
		tools:   map[string]Tool{},
		schemas: map[string]*jsonschema.Schema{},
		opts:    opts,
	}
}

// Register adds tools. Names must be unique and schemas must compile.
func (inv *Invoker) Register(tools ...Tool) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	for _, t := range tools {
		name := t.Name()
		if _, dup := inv.tools[name]; dup {
			return fmt.Errorf("tool %q already registered", name)
		}
		schema, err := compileSchema(name, t.Parameters())
		if err != nil {
			return err
		}
		inv.tools[name] = t
		inv.schemas[name] = schema
	}
	return nil
}

// Has reports whether a tool with the given name is registered.
func (inv *Invoker) Has(name string) bool {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	_, ok := inv.tools[name]
	return ok
}

// Names returns the registered tool names, sorted.
func (inv *Invoker) Names() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	names := make([]string, 0, len(inv.tools))
	for n := range inv.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions returns model-facing declarations for the named tools in the
// given order. Unregistered names are skipped.
func (inv *Invoker) Definitions(names ...string) []model.ToolDefinition {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	defs := make([]model.ToolDefinition, 0, len(names))
	for _, n := range names {
		t, ok := inv.tools[n]
		if !ok {
			continue
		}
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Invoke validates req against the tool's schema and executes it.
//
// The call runs under context.WithoutCancel(ctx) plus the configured timeout,
// so cancelling a run never interrupts a tool call that is already in
// flight; context values (such as the run ID) are preserved. Retries stop
// once ctx is done, so a deadline on ctx bounds the backoff.
func (inv *Invoker) Invoke(ctx context.Context, req core.ToolRequest) core.ToolResult {
	logger := inv.opts.Logger

	inv.mu.RLock()
	t, ok := inv.tools[req.ToolName]
	schema := inv.schemas[req.ToolName]
	inv.mu.RUnlock()

	if !ok {
		logger.Warn("tool.invoke.unknown", "tool", req.ToolName, "request_id", req.ID)
		return core.Failed(req, core.CodeUnknownTool, fmt.Sprintf("no tool named %q", req.ToolName))
	}

	args, err := validateArguments(t.Name(), schema, req.Arguments)
	if err != nil {
		logger.Warn("tool.invoke.invalid_arguments", "tool", req.ToolName, "request_id", req.ID, "error", err.Error())
		return core.Failed(req, core.CodeInvalidArguments, err.Error())
	}

	base := context.WithoutCancel(ctx)
	start := time.Now()

	var (
		payload any
		class   string
	)
	for attempt := 0; attempt <= inv.opts.Retries; attempt++ {
		if attempt > 0 {
			if !wait(ctx, inv.opts.Backoff) {
				logger.Info("tool.invoke.retry_abandoned", "tool", req.ToolName, "request_id", req.ID, "attempt", attempt, "error", ctx.Err().Error())
				break
			}
			logger.Info("tool.invoke.retry", "tool", req.ToolName, "request_id", req.ID, "attempt", attempt, "class", class)
		}

		logger.Debug("tool.invoke.start", "tool", req.ToolName, "request_id", req.ID, "attempt", attempt)
		payload, err = inv.call(base, t, args)
		if err == nil {
			break
		}
		class = classify(err)
		if !retryable(class) {
			break
		}
	}

	dur := time.Since(start)
	if err != nil {
		logger.Warn("tool.invoke.failed", "tool", req.ToolName, "request_id", req.ID, "class", class, "duration", dur, "error", err.Error())
		if class == ClassInvalidArguments {
			return core.Failed(req, core.CodeInvalidArguments, errorMessage(err))
		}
		return core.Failed(req, core.CodeCollaboratorFailure, fmt.Sprintf("%s: %s", class, errorMessage(err)))
	}

	var artifacts []string
	if ap, ok := payload.(ArtifactProducer); ok {
		artifacts = ap.Artifacts()
	}

	logger.Info("tool.invoke.completed", "tool", req.ToolName, "request_id", req.ID, "duration", dur, "artifacts", len(artifacts))
	return core.Succeeded(req, payload, artifacts...)
}

// call runs one attempt under the per-call timeout and turns a panic into
// an error.
func (inv *Invoker) call(base context.Context, t Tool, args map[string]any) (payload any, err error) {
	callCtx := base
	if inv.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(base, inv.opts.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			inv.opts.Logger.Error("tool.invoke.panic", "tool", t.Name(), "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			payload = nil
			err = &ToolError{Tool: t.Name(), Message: fmt.Sprintf("panic: %v", r), Code: ClassPanic}
		}
	}()

	payload, err = t.Call(callCtx, args)
	if err == nil && callCtx.Err() != nil {
		// The tool ignored its deadline; its late result is discarded.
		return nil, callCtx.Err()
	}
	return payload, err
}

// wait sleeps for d unless ctx is done first. It reports whether the full
// backoff elapsed.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// statusCoder is implemented by collaborator errors carrying an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// classify maps an error onto a stable failure class.
func classify(err error) string {
	var te *ToolError
	if errors.As(err, &te) && te.Code != "" && te.Code != ClassError {
		return te.Code
	}
	var sc statusCoder
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, search.ErrEmptyResult):
		return ClassEmptyResult
	case errors.As(err, &sc):
		return fmt.Sprintf("upstream_status_%d", sc.HTTPStatus())
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}
	return ClassError
}

func retryable(class string) bool {
	switch class {
	case ClassTimeout, ClassNetwork, "upstream_status_429":
		return true
	}
	var code int
	if _, err := fmt.Sscanf(class, "upstream_status_%d", &code); err == nil {
		return code >= 500
	}
	return false
}

func errorMessage(err error) string {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Message
	}
	return err.Error()
}
