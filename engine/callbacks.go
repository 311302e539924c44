package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/logging"
)

// CallbackType defines the lifecycle points where callbacks are executed.
//
// Available callback types:
//   - BeforeRound/AfterRound: around one Orchestrator decision plus the
//     chosen agent's turns
//   - BeforeAgent/AfterAgent: around a single Actor.Act call
//   - BeforeTool/AfterTool: around a single tool invocation
//   - OnWarning: when a non-fatal anomaly is recorded in the RunState
//   - OnTermination: once, when the run reaches a terminal state
type CallbackType string

const (
	// CallbackBeforeRound is triggered before the chosen agent starts its round.
	CallbackBeforeRound CallbackType = "before_round"

	// CallbackAfterRound is triggered after a round advanced the round counter.
	CallbackAfterRound CallbackType = "after_round"

	// CallbackBeforeAgent is triggered before an agent turn.
	CallbackBeforeAgent CallbackType = "before_agent"

	// CallbackAfterAgent is triggered after an agent turn. Contribution or
	// Err is set.
	CallbackAfterAgent CallbackType = "after_agent"

	// CallbackBeforeTool is triggered before a tool request is dispatched.
	CallbackBeforeTool CallbackType = "before_tool"

	// CallbackAfterTool is triggered with the tool result.
	CallbackAfterTool CallbackType = "after_tool"

	// CallbackOnWarning is triggered for every warning added to the RunState.
	CallbackOnWarning CallbackType = "on_warning"

	// CallbackOnTermination is triggered when the run terminates.
	CallbackOnTermination CallbackType = "on_termination"
)

// CallbackContext carries the information available at a lifecycle point.
// Fields that do not apply to a callback type are left zero.
type CallbackContext struct {
	RunID        string
	Round        int
	AgentID      core.AgentID
	CallbackType CallbackType

	Contribution *core.Contribution
	ToolRequest  *core.ToolRequest
	ToolResult   *core.ToolResult
	Err          error
	Warning      string
	Status       core.Status

	// Metadata provides extensible storage for custom callback data.
	Metadata map[string]any
}

// Callback defines the interface for execution lifecycle hooks.
//
// Callbacks run synchronously on the scheduler goroutine, so they should be
// fast. A returned error is logged and recorded as a run warning; it never
// aborts the run.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	cb := NewFunctionCallback(CallbackAfterTool, func(ctx context.Context, cc *CallbackContext) error {
//	    log.Printf("%s -> %s", cc.ToolRequest.ToolName, cc.ToolResult.ErrorCode)
//	    return nil
//	})
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager is a registry of callbacks keyed by type.
//
// Callbacks of one type run in registration order. Execution stops at the
// first error, which is returned. The manager is safe for concurrent use, so
// a single instance can serve parallel runs.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
	mu        sync.RWMutex
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks executes all registered callbacks for the specified type.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	if cm == nil {
		return nil
	}
	cm.mu.RLock()
	callbacks := cm.callbacks[callbackType]
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return fmt.Errorf("%s callback: %w", callbackType, err)
		}
	}
	return nil
}

// LoggingCallback forwards lifecycle events to a logging.Logger at debug level.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the lifecycle event.
func (c *LoggingCallback) Execute(_ context.Context, cc *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	kv := []any{"run_id", cc.RunID, "round", cc.Round}
	if cc.AgentID != "" {
		kv = append(kv, "agent", cc.AgentID)
	}
	if cc.ToolRequest != nil {
		kv = append(kv, "tool", cc.ToolRequest.ToolName)
	}
	if cc.ToolResult != nil {
		kv = append(kv, "success", cc.ToolResult.Success)
	}
	if cc.Warning != "" {
		kv = append(kv, "warning", cc.Warning)
	}
	if cc.Status != "" {
		kv = append(kv, "status", cc.Status)
	}
	c.logger.Debug("callback."+string(c.callbackType), kv...)
	return nil
}
