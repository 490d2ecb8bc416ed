package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hupe1980/memorymesh/core"
	"github.com/hupe1980/memorymesh/internal/util"
	"github.com/hupe1980/memorymesh/logging"
	"github.com/hupe1980/memorymesh/model"
)

// ExecutorOptions configure an Executor.
type ExecutorOptions struct {
	Logger logging.Logger
}

// Result is the outcome of one tool call.
type Result struct {
	Call     core.ToolCall
	Message  core.ToolResultMessage
	Err      error
	Duration time.Duration
}

// Executor is the tool registry and dispatcher.
type Executor struct {
	tools  map[string]Tool
	logger logging.Logger
}

// NewExecutor creates an Executor with the given tools registered.
func NewExecutor(tools []Tool, optFns ...func(o *ExecutorOptions)) (*Executor, error) {
	opts := ExecutorOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	e := &Executor{tools: make(map[string]Tool, len(tools)), logger: opts.Logger}
	for _, t := range tools {
		if err := e.Register(t); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Register adds a tool. Names must be unique.
func (e *Executor) Register(t Tool) error {
	if _, dup := e.tools[t.Name()]; dup {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	e.tools[t.Name()] = t
	return nil
}

// Lookup returns a registered tool.
func (e *Executor) Lookup(name string) (Tool, bool) {
	t, ok := e.tools[name]
	return t, ok
}

// Subset returns an Executor that only knows the named tools. Calls to any
// other tool fail with UNKNOWN_TOOL.
func (e *Executor) Subset(names ...string) *Executor {
	sub := &Executor{tools: make(map[string]Tool, len(names)), logger: e.logger}
	for _, name := range names {
		if t, ok := e.tools[name]; ok {
			sub.tools[name] = t
		}
	}
	return sub
}

// Definitions returns model-facing declarations for the named tools, in the
// order given. Unregistered names are skipped. With no names, all tools are
// returned sorted by name.
func (e *Executor) Definitions(names ...string) []model.ToolDefinition {
	if len(names) == 0 {
		for name := range e.tools {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	defs := make([]model.ToolDefinition, 0, len(names))
	for _, name := range names {
		t, ok := e.tools[name]
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

// ExecuteAll runs calls in order. A failing call yields an error result and
// never prevents the remaining calls from running.
func (e *Executor) ExecuteAll(ctx context.Context, calls []core.ToolCall) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		results = append(results, e.Execute(ctx, call))
	}
	return results
}

// Execute runs a single call and wraps its outcome in a tool-result message.
func (e *Executor) Execute(ctx context.Context, call core.ToolCall) Result {
	start := time.Now()
	e.logger.Debug("tool.call.start", "tool", call.Name, "call_id", call.ID)

	content, err := e.call(ctx, call)
	res := Result{Call: call, Err: err, Duration: time.Since(start)}

	if err != nil {
		var toolErr *ToolError
		switch {
		case errors.As(err, &toolErr) && toolErr.Code == CodeUnknownTool:
			e.logger.Error("tool.call.unknown", "tool", call.Name, "call_id", call.ID)
		case errors.As(err, &toolErr) && toolErr.Code == CodeValidation:
			e.logger.Warn("tool.call.validation_failed", "tool", call.Name, "error", err.Error())
		default:
			logging.ToolCall(e.logger, call.Name, res.Duration, err)
		}
		res.Message = core.NewToolResultMessage(call, "Error: "+err.Error(), true)
		return res
	}

	logging.ToolCall(e.logger, call.Name, res.Duration, nil)
	res.Message = core.NewToolResultMessage(call, content, false)
	return res
}

func (e *Executor) call(ctx context.Context, call core.ToolCall) (string, error) {
	t, ok := e.tools[call.Name]
	if !ok {
		return "", &ToolError{Tool: call.Name, Message: "tool is not registered", Code: CodeUnknownTool, Details: ErrUnknownTool}
	}

	args, err := util.DecodeArguments(call.Arguments)
	if err != nil {
		return "", validationError(call.Name, err)
	}
	return t.Call(ctx, args)
}
