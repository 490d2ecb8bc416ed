package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/memorymesh/core"
	"github.com/hupe1980/memorymesh/engine"
	"github.com/hupe1980/memorymesh/logging"
	"github.com/hupe1980/memorymesh/session"
)

var (
	// ErrThreadBusy is returned when a turn is already running on the thread.
	ErrThreadBusy = errors.New("thread is busy")
	// ErrInvalidRequest reports a malformed TurnRequest.
	ErrInvalidRequest = errors.New("invalid turn request")
	// ErrClosed is returned by RunTurn after Close.
	ErrClosed = errors.New("runner closed")
	// ErrRunNotFound is returned by Cancel for unknown or finished runs.
	ErrRunNotFound = errors.New("run not found")
)

// TimeoutMessage is the answer of a turn that ran out of time.
const TimeoutMessage = "⏱️ 响应超时，模型处理时间过长，请稍后重试或简化问题。"

// FailureMessage is the answer of a turn that failed outright.
const FailureMessage = "❌ 处理请求时发生错误，请稍后再试。"

// InterruptedToolResult answers a tool call whose turn ended before the
// call produced a result.
const InterruptedToolResult = "ERROR: tool call interrupted, no result available"

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// Checkpoints persists conversation state per thread. Defaults to an
	// in-memory store.
	Checkpoints core.CheckpointStore
	// Analyzer, when set, receives every completed turn for background
	// memory inference.
	Analyzer *engine.Analyzer
	// TurnTimeout bounds a non-streaming turn. Default 20s.
	TurnTimeout time.Duration
	// PollInterval is how often the timeout controller checks for a result.
	// Default 100ms.
	PollInterval time.Duration
	// EventBufferSize sets channel buffering for turn events.
	EventBufferSize int
	// Logger defaults to logging.NoOpLogger.
	Logger logging.Logger
}

// TurnRequest is one inbound user message.
type TurnRequest struct {
	// RunID identifies the turn for Cancel. Generated when empty.
	RunID        string `json:"run_id,omitempty"`
	UserID       string `json:"user_id"`
	ThreadID     string `json:"thread_id,omitempty"`
	Text         string `json:"text"`
	EnableSearch bool   `json:"enable_search,omitempty"`
	Streaming    bool   `json:"streaming,omitempty"`
}

// Runner coordinates turns: it loads and saves thread checkpoints, runs the
// engine under the turn timeout, streams events and hands finished turns to
// the background analyzer. Public methods are safe for concurrent use.
type Runner struct {
	engine *engine.Engine
	opts   Options

	threads *core.KeyedMutex
	workers errgroup.Group

	activeRuns map[string]context.CancelFunc
	closed     bool
	mu         sync.RWMutex
}

// New constructs a Runner with optional overrides.
func New(eng *engine.Engine, optFns ...func(o *Options)) *Runner {
	opts := Options{
		TurnTimeout:     20 * time.Second,
		PollInterval:    100 * time.Millisecond,
		EventBufferSize: 100,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = session.NewInMemoryStore()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}

	return &Runner{
		engine:     eng,
		opts:       opts,
		threads:    core.NewKeyedMutex(),
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// RunTurn starts a turn and returns its event stream. The stream always
// ends with one EventFinal and is then closed.
//
// Only one turn may run per thread; a concurrent request for the same
// thread fails with ErrThreadBusy.
func (r *Runner) RunTurn(ctx context.Context, req TurnRequest) (<-chan engine.Event, error) {
	if err := normalize(&req); err != nil {
		return nil, err
	}
	key := core.ThreadKey{UserID: req.UserID, ThreadID: req.ThreadID}

	unlock, ok := r.threads.TryLock(key.LockKey())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrThreadBusy, key)
	}

	st, err := r.opts.Checkpoints.Load(ctx, key)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("load checkpoint %s: %w", key, err)
	}
	if n := st.ResolvePending(InterruptedToolResult); n > 0 {
		r.opts.Logger.Warn("checkpoint.pending_calls.resolved", "thread", key.String(), "calls", n)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		unlock()
		return nil, ErrClosed
	}
	if _, dup := r.activeRuns[req.RunID]; dup {
		r.mu.Unlock()
		cancel()
		unlock()
		return nil, fmt.Errorf("%w: duplicate run id %s", ErrInvalidRequest, req.RunID)
	}
	r.activeRuns[req.RunID] = cancel
	r.mu.Unlock()

	s := newSink(ctx, r.opts.EventBufferSize)

	r.workers.Go(func() error {
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.activeRuns, req.RunID)
			r.mu.Unlock()
			unlock()
		}()

		wait := r.execute(ctx, req, key, st, s)
		s.close()
		// the thread stays locked until an abandoned worker has exited
		wait()
		return nil
	})

	return s.out, nil
}

// Run executes a turn and waits for its final payload.
func (r *Runner) Run(ctx context.Context, req TurnRequest) (*engine.Final, error) {
	if req.RunID == "" {
		req.RunID = core.NewID()
	}
	events, err := r.RunTurn(ctx, req)
	if err != nil {
		return nil, err
	}

	var final *engine.Final
	for ev := range events {
		if ev.Kind == engine.EventFinal {
			final = ev.Final
		}
	}
	if final == nil {
		return nil, fmt.Errorf("run %s: stream closed without final event: %w", req.RunID, ctx.Err())
	}
	return final, nil
}

// Cancel cancels a running turn by ID.
func (r *Runner) Cancel(runID string) error {
	r.mu.RLock()
	cancel, exists := r.activeRuns[runID]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	cancel()

	return nil
}

// Close stops accepting turns and waits for running ones, including
// abandoned workers of timed out turns, to finish.
func (r *Runner) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	return r.workers.Wait()
}

func normalize(req *TurnRequest) error {
	req.UserID = strings.TrimSpace(req.UserID)
	req.ThreadID = strings.TrimSpace(req.ThreadID)
	if req.UserID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Text) == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidRequest)
	}
	if req.ThreadID == "" {
		req.ThreadID = core.DefaultThreadID(req.UserID)
	}
	if req.RunID == "" {
		req.RunID = core.NewID()
	}
	return nil
}

// execute runs the turn and emits its final event. The returned function
// blocks until the engine worker has exited.
func (r *Runner) execute(ctx context.Context, req TurnRequest, key core.ThreadKey, st *core.ConversationState, s *sink) (wait func()) {
	start := time.Now()
	wait = func() {}

	s.send(engine.Event{Kind: engine.EventTrace, Step: engine.TraceStart})
	r.emitMemory(ctx, req.UserID, s)

	// base is the history before this turn; an unfinished turn is saved
	// on top of it instead of on the engine's partial state.
	base := st.Clone()

	var (
		abandoned atomic.Bool
		saveMu    sync.Mutex
	)
	emit := func(ev engine.Event) {
		if !abandoned.Load() {
			s.send(ev)
		}
	}

	turn := engine.Turn{
		UserID:       req.UserID,
		ThreadID:     req.ThreadID,
		Input:        req.Text,
		EnableSearch: req.EnableSearch,
		Streaming:    req.Streaming,
		Checkpoint: func(ctx context.Context, st *core.ConversationState) {
			saveMu.Lock()
			defer saveMu.Unlock()
			if !abandoned.Load() {
				r.save(ctx, key, st)
			}
		},
	}

	var (
		res *engine.Result
		err error
	)
	if req.Streaming {
		res, err = r.engine.Run(ctx, st, turn, emit)
	} else {
		res, wait, err = r.runWithTimeout(ctx, st, turn, emit, &abandoned)
	}

	final := engine.Final{RunID: req.RunID}
	var states []string
	switch {
	case errors.Is(err, engine.ErrTurnTimeout):
		r.opts.Logger.Warn("turn.timeout", "run_id", req.RunID, "user_id", req.UserID, "timeout", r.opts.TurnTimeout)
		s.send(engine.Event{Kind: engine.EventTrace, Step: engine.TraceError(err)})
		r.closeUnfinished(ctx, key, base, req.Text, TimeoutMessage, &abandoned, &saveMu)
		final.Outcome = engine.OutcomeTimedOut
		final.Answer = TimeoutMessage
		final.Error = err.Error()
	case err != nil:
		r.opts.Logger.Error("turn.failed", "run_id", req.RunID, "user_id", req.UserID, "error", err.Error())
		s.send(engine.Event{Kind: engine.EventTrace, Step: engine.TraceError(err)})
		r.closeUnfinished(ctx, key, base, req.Text, FailureMessage, &abandoned, &saveMu)
		final.Outcome = engine.OutcomeFailed
		final.Answer = FailureMessage
		final.Error = err.Error()
	default:
		final.Outcome = engine.OutcomeCompleted
		final.Answer = res.Answer
		final.Thinking = res.Thinking
		for _, state := range res.States {
			states = append(states, string(state))
		}
		r.save(ctx, key, st)
		r.emitMemory(ctx, req.UserID, s)
		r.analyze(req.UserID, res)
	}

	final.Trace = s.trace()
	s.send(engine.Event{Kind: engine.EventFinal, Final: &final})
	logging.Turn(r.opts.Logger, string(final.Outcome), states, time.Since(start))
	return wait
}

// runWithTimeout runs the engine on a detached worker and polls for its
// result until the turn budget elapses. A late result is discarded.
func (r *Runner) runWithTimeout(
	ctx context.Context,
	st *core.ConversationState,
	turn engine.Turn,
	emit engine.Emitter,
	abandoned *atomic.Bool,
) (*engine.Result, func(), error) {
	type result struct {
		res *engine.Result
		err error
	}
	done := make(chan result, 1)
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		res, err := r.engine.Run(ctx, st, turn, emit)
		done <- result{res: res, err: err}
	}()
	wait := func() { <-exited }

	deadline := time.Now().Add(r.opts.TurnTimeout)
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case out := <-done:
			return out.res, wait, out.err
		case <-ctx.Done():
			abandoned.Store(true)
			return nil, wait, ctx.Err()
		case now := <-ticker.C:
			if !now.Before(deadline) {
				abandoned.Store(true)
				return nil, wait, fmt.Errorf("%w after %s", engine.ErrTurnTimeout, r.opts.TurnTimeout)
			}
		}
	}
}

// closeUnfinished saves base plus the user's input and notice as the
// thread's history. Checkpoints from the engine worker are disabled first;
// saveMu orders this save after any checkpoint already in flight.
func (r *Runner) closeUnfinished(
	ctx context.Context,
	key core.ThreadKey,
	base *core.ConversationState,
	input, notice string,
	abandoned *atomic.Bool,
	saveMu *sync.Mutex,
) {
	abandoned.Store(true)

	saveMu.Lock()
	defer saveMu.Unlock()

	st := base.Clone()
	st.Apply(core.Update{Messages: []core.Message{
		core.NewHumanMessage(input),
		core.NewAssistantMessage(notice),
	}})
	r.save(context.WithoutCancel(ctx), key, st)
}

func (r *Runner) save(ctx context.Context, key core.ThreadKey, st *core.ConversationState) {
	if err := r.opts.Checkpoints.Save(ctx, key, st); err != nil {
		r.opts.Logger.Error("checkpoint.save.failed", "thread", key.String(), "error", err.Error())
	}
}

func (r *Runner) emitMemory(ctx context.Context, userID string, s *sink) {
	snap, err := r.engine.Memory().Snapshot(ctx, userID)
	if err != nil {
		r.opts.Logger.Warn("memory.snapshot.failed", "user_id", userID, "error", err.Error())
		return
	}
	s.send(engine.Event{Kind: engine.EventMemory, Memory: snap})
}

func (r *Runner) analyze(userID string, res *engine.Result) {
	if r.opts.Analyzer == nil {
		return
	}
	job := engine.AnalysisJob{UserID: userID, Human: res.Human, Reply: res.Reply}
	if err := r.opts.Analyzer.Submit(job); err != nil {
		r.opts.Logger.Warn("analyzer.submit.failed", "user_id", userID, "error", err.Error())
	}
}

// sink is the turn's output channel. Sends after close are dropped so an
// abandoned worker can never write to a closed channel.
type sink struct {
	ctx context.Context
	out chan engine.Event

	mu     sync.Mutex
	closed bool
	steps  []string
}

func newSink(ctx context.Context, size int) *sink {
	return &sink{ctx: ctx, out: make(chan engine.Event, size)}
}

func (s *sink) send(ev engine.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if ev.Kind == engine.EventTrace {
		s.steps = append(s.steps, ev.Step)
	}
	select {
	case s.out <- ev:
	case <-s.ctx.Done():
		if ev.Kind == engine.EventFinal {
			// best effort for consumers still draining after cancel
			select {
			case s.out <- ev:
			default:
			}
		}
	}
}

func (s *sink) trace() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.steps...)
}

func (s *sink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}
