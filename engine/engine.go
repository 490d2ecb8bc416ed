package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/hupe1980/memorymesh/core"
	"github.com/hupe1980/memorymesh/internal/util"
	"github.com/hupe1980/memorymesh/logging"
	"github.com/hupe1980/memorymesh/memory"
	"github.com/hupe1980/memorymesh/model"
	"github.com/hupe1980/memorymesh/tool"
)

// Visibility decides what stays in history after a manage_memory call.
type Visibility string

const (
	// VisibilitySilent erases the memory tool-call and its result so the
	// model does not narrate the update.
	VisibilitySilent Visibility = "silent"
	// VisibilityAnnotate keeps the pair and appends MemoryUpdatedMarker.
	VisibilityAnnotate Visibility = "annotate"
)

// MemoryUpdatedMarker is appended in annotate mode.
const MemoryUpdatedMarker = "[System: Memory Database Updated]"

// DefaultFallbackMessage replaces the assistant reply when the model fails.
const DefaultFallbackMessage = "抱歉，模型服务暂时不可用，请稍后再试。"

// Options configures an Engine.
//
// Example:
//
//	eng := engine.New(m, tools, mem, func(o *engine.Options) {
//	    o.Visibility = engine.VisibilityAnnotate
//	    o.Logger = logger
//	})
type Options struct {
	// Visibility of memory tool traffic after reflection. Default silent.
	Visibility Visibility

	// LoopAfterReflect routes REFLECT back to AGENT so the model may call
	// further tools. When false REFLECT goes straight to AGENT_REPLY.
	LoopAfterReflect bool

	// MaxToolRounds bounds TOOL visits per turn in loop mode. Default 4.
	MaxToolRounds int

	// CompactThreshold is the message count above which COMPACT summarizes
	// and prunes. Default 10.
	CompactThreshold int

	// CompactKeep is how many trailing messages survive a compaction. Default 3.
	CompactKeep int

	// FallbackMessage is used as the assistant reply when a model call fails.
	FallbackMessage string

	// Logger defaults to logging.NoOpLogger.
	Logger logging.Logger

	// Tracer defaults to a noop tracer.
	Tracer trace.Tracer
}

// Engine runs one turn of the state machine over a ConversationState.
// It holds no per-turn state and is safe for concurrent use across threads.
type Engine struct {
	model  model.Model
	tools  *tool.Executor
	memory *memory.Manager
	opts   Options
}

// New creates an Engine.
func New(m model.Model, tools *tool.Executor, mem *memory.Manager, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Visibility:       VisibilitySilent,
		MaxToolRounds:    4,
		CompactThreshold: 10,
		CompactKeep:      3,
		FallbackMessage:  DefaultFallbackMessage,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("memorymesh/engine")
	}
	if opts.CompactKeep <= 0 {
		opts.CompactKeep = 1
	}
	return &Engine{model: m, tools: tools, memory: mem, opts: opts}
}

// Memory returns the memory manager the engine reads and writes.
func (e *Engine) Memory() *memory.Manager { return e.memory }

// Model returns the underlying model.
func (e *Engine) Model() model.Model { return e.model }

// Turn describes one inbound user message.
type Turn struct {
	UserID       string
	ThreadID     string
	Input        string
	EnableSearch bool
	Streaming    bool

	// Checkpoint is called with the live state after every state transition.
	Checkpoint func(ctx context.Context, st *core.ConversationState)
}

// Result summarizes a completed turn.
type Result struct {
	Human    core.HumanMessage
	Reply    core.AssistantMessage
	Answer   string
	Thinking string
	Trace    []string
	States   []State
}

// run is the mutable bookkeeping of a single turn.
type run struct {
	turn    Turn
	state   *core.ConversationState
	emit    Emitter
	exec    *tool.Executor
	defs    []model.ToolDefinition
	rounds  *core.RoundLimiter
	pending []core.ToolResultMessage
	reply   core.AssistantMessage
	trace   []string
	states  []State
}

func (r *run) step(line string) {
	r.trace = append(r.trace, line)
	r.emit.emit(Event{Kind: EventTrace, Step: line})
}

type stage func(ctx context.Context, r *run) (core.Update, error)

// Run executes the turn against st, mutating it in place. Model and tool
// failures are absorbed into the conversation; only context cancellation
// and internal routing errors are returned.
func (e *Engine) Run(ctx context.Context, st *core.ConversationState, turn Turn, emit Emitter) (*Result, error) {
	ctx, span := e.opts.Tracer.Start(ctx, "memorymesh.turn", trace.WithAttributes(
		attribute.String("user_id", turn.UserID),
		attribute.String("thread_id", turn.ThreadID),
		attribute.Bool("search", turn.EnableSearch),
	))
	defer span.End()

	names := []string{tool.MemoryToolName}
	if turn.EnableSearch {
		names = append(names, tool.SearchToolName)
	}
	exec := e.tools.Subset(names...)

	r := &run{
		turn:   turn,
		state:  st,
		emit:   emit,
		exec:   exec,
		defs:   exec.Definitions(names...),
		rounds: core.NewRoundLimiter(e.opts.MaxToolRounds),
	}

	human := core.NewHumanMessage(turn.Input)
	st.Apply(core.Update{Messages: []core.Message{human}})

	cur := StateAgent
	for cur != StateDone {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		r.states = append(r.states, cur)
		r.step(traceState(cur))

		if err := e.runState(ctx, r, cur); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("state %s: %w", cur, err)
		}
		if turn.Checkpoint != nil {
			turn.Checkpoint(ctx, st)
		}

		next, err := Next(cur, e.route(cur, r))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		cur = next
	}

	thinking, answer := SplitThinking(r.reply.Text)
	r.step(TraceDone)

	return &Result{
		Human:    human,
		Reply:    r.reply,
		Answer:   answer,
		Thinking: thinking,
		Trace:    r.trace,
		States:   r.states,
	}, nil
}

func (e *Engine) runState(ctx context.Context, r *run, s State) error {
	ctx, span := e.opts.Tracer.Start(ctx, "memorymesh.state", trace.WithAttributes(attribute.String("state", string(s))))
	defer span.End()

	stages := map[State]stage{
		StateAgent:      e.agent,
		StateTool:       e.toolCalls,
		StateReflect:    e.reflect,
		StateAgentReply: e.agentReply,
		StateCompact:    e.compact,
	}
	fn, ok := stages[s]
	if !ok {
		return fmt.Errorf("unknown state %q", s)
	}

	u, err := fn(ctx, r)
	if err != nil {
		span.RecordError(err)
		return err
	}
	r.state.Apply(u)
	span.SetAttributes(attribute.Int("messages", len(r.state.Messages)))
	return nil
}

// route computes the condition a finished state yields.
func (e *Engine) route(s State, r *run) Condition {
	switch s {
	case StateAgent:
		if last, ok := r.state.LastAssistant(); ok && last.HasToolCalls() {
			return HasToolCalls
		}
		return NoToolCalls
	case StateReflect:
		if e.opts.LoopAfterReflect && !r.rounds.Exhausted() {
			return LoopBack
		}
		return Reply
	default:
		return Always
	}
}

func (e *Engine) agent(ctx context.Context, r *run) (core.Update, error) {
	msg, err := e.invoke(ctx, r, r.defs)
	if err != nil {
		return core.Update{}, err
	}
	return core.Update{Messages: []core.Message{msg}}, nil
}

// agentReply produces the final answer with tools disabled.
func (e *Engine) agentReply(ctx context.Context, r *run) (core.Update, error) {
	msg, err := e.invoke(ctx, r, nil)
	if err != nil {
		return core.Update{}, err
	}
	if msg.HasToolCalls() {
		e.opts.Logger.Warn("engine.reply.tool_calls_dropped", "count", len(msg.ToolCalls))
		msg.ToolCalls = nil
		r.reply = msg
	}
	return core.Update{Messages: []core.Message{msg}}, nil
}

// invoke calls the model once. A failed call yields the fallback message;
// only context errors are returned.
func (e *Engine) invoke(ctx context.Context, r *run, tools []model.ToolDefinition) (core.AssistantMessage, error) {
	snapshot, err := e.memory.Snapshot(ctx, r.turn.UserID)
	if err != nil {
		e.opts.Logger.Warn("engine.memory.snapshot_failed", "user_id", r.turn.UserID, "error", err.Error())
	}

	req := model.Request{
		System:   SystemPrompt(snapshot, r.state.Summary, tools),
		Messages: append([]core.Message(nil), r.state.Messages...),
		Tools:    tools,
		Stream:   r.turn.Streaming,
	}

	var onDelta func(string)
	if r.turn.Streaming {
		var acc strings.Builder
		onDelta = func(d string) {
			acc.WriteString(d)
			r.emit.emit(Event{Kind: EventPartial, Partial: acc.String()})
		}
	}

	start := time.Now()
	msg, err := model.Collect(ctx, e.model, req, onDelta)
	logging.ModelCall(e.opts.Logger, e.model.Info().String(), time.Since(start), err)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return core.AssistantMessage{}, ctxErr
		}
		r.step(TraceError(err))
		msg = core.NewAssistantMessage(e.opts.FallbackMessage)
	}

	r.reply = msg
	return msg, nil
}

func (e *Engine) toolCalls(ctx context.Context, r *run) (core.Update, error) {
	last, ok := r.state.LastAssistant()
	if !ok || !last.HasToolCalls() {
		return core.Update{}, nil
	}
	// routing never enters TOOL with the limit spent; reaching it is a bug
	if err := r.rounds.Increment(); err != nil {
		return core.Update{}, err
	}

	for _, call := range last.ToolCalls {
		r.step(traceToolCall(call.Name))
		if args, err := util.DecodeArguments(call.Arguments); err == nil && len(args) > 0 {
			r.step(traceToolArgs(args))
		}
	}

	results := r.exec.ExecuteAll(ctx, last.ToolCalls)

	var u core.Update
	r.pending = r.pending[:0]
	for _, res := range results {
		if res.Err != nil {
			r.step(traceToolFailed(res.Call.Name, res.Err))
		} else {
			r.step(traceToolDone(res.Call.Name))
			r.step(traceToolResult(res.Message.Content))
		}
		u.Messages = append(u.Messages, res.Message)
		r.pending = append(r.pending, res.Message)
	}
	return u, nil
}
