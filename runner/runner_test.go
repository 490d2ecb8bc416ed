package runner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memorymesh/core"
	"github.com/hupe1980/memorymesh/engine"
	"github.com/hupe1980/memorymesh/memory"
	"github.com/hupe1980/memorymesh/model"
	"github.com/hupe1980/memorymesh/search"
	"github.com/hupe1980/memorymesh/session"
	"github.com/hupe1980/memorymesh/tool"
)

type fixture struct {
	runner *Runner
	model  *model.ScriptedModel
	mem    *memory.Manager
	store  *session.InMemoryStore
}

func newFixture(t *testing.T, m *model.ScriptedModel, optFns ...func(o *Options)) *fixture {
	t.Helper()
	return newFixtureWithTools(t, m, nil, optFns...)
}

func newFixtureWithTools(t *testing.T, m *model.ScriptedModel, extra []tool.Tool, optFns ...func(o *Options)) *fixture {
	t.Helper()
	memStore, err := memory.OpenSQLite(filepath.Join(t.TempDir(), "memories.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = memStore.Close() })

	mgr := memory.NewManager(memStore)
	exec, err := tool.NewExecutor(append([]tool.Tool{tool.NewMemoryTool()}, extra...))
	require.NoError(t, err)

	store := session.NewInMemoryStore()
	opts := append([]func(o *Options){func(o *Options) { o.Checkpoints = store }}, optFns...)
	r := New(engine.New(m, exec, mgr), opts...)
	t.Cleanup(func() { _ = r.Close() })

	return &fixture{runner: r, model: m, mem: mgr, store: store}
}

func drain(t *testing.T, events <-chan engine.Event) []engine.Event {
	t.Helper()
	var out []engine.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("event stream did not close")
			return out
		}
	}
}

func finalOf(t *testing.T, events []engine.Event) *engine.Final {
	t.Helper()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, engine.EventFinal, last.Kind)
	return last.Final
}

func TestRunTurn_Completed(t *testing.T) {
	f := newFixture(t, model.NewScriptedModel(model.Step{Text: "<thinking>问候</thinking>你好"}))

	events := drain(t, mustRun(t, f.runner, TurnRequest{RunID: "r1", UserID: "u1", Text: "你好"}))

	assert.Equal(t, engine.EventTrace, events[0].Kind)
	assert.Equal(t, engine.TraceStart, events[0].Step)
	assert.Equal(t, engine.EventMemory, events[1].Kind)

	final := finalOf(t, events)
	assert.Equal(t, "r1", final.RunID)
	assert.Equal(t, engine.OutcomeCompleted, final.Outcome)
	assert.Equal(t, "你好", final.Answer)
	assert.Equal(t, "问候", final.Thinking)
	assert.Equal(t, engine.TraceStart, final.Trace[0])
	assert.Equal(t, engine.TraceDone, final.Trace[len(final.Trace)-1])

	st, err := f.store.Load(context.Background(), core.ThreadKey{UserID: "u1", ThreadID: "thread_u1"})
	require.NoError(t, err)
	assert.Len(t, st.Messages, 2)
}

func mustRun(t *testing.T, r *Runner, req TurnRequest) <-chan engine.Event {
	t.Helper()
	events, err := r.RunTurn(context.Background(), req)
	require.NoError(t, err)
	return events
}

func TestRunTurn_HistoryPersistsAcrossTurns(t *testing.T) {
	f := newFixture(t, model.NewScriptedModel(model.Step{Text: "a1"}, model.Step{Text: "a2"}))

	_, err := f.runner.Run(context.Background(), TurnRequest{UserID: "u1", ThreadID: "t", Text: "q1"})
	require.NoError(t, err)
	final, err := f.runner.Run(context.Background(), TurnRequest{UserID: "u1", ThreadID: "t", Text: "q2"})
	require.NoError(t, err)
	assert.Equal(t, "a2", final.Answer)

	reqs := f.model.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Messages, 3)

	// other threads of the same user start empty
	_, err = f.runner.Run(context.Background(), TurnRequest{UserID: "u1", ThreadID: "other", Text: "q"})
	require.NoError(t, err)
	assert.Len(t, f.model.Requests()[2].Messages, 1)
}

func TestRunTurn_InvalidRequest(t *testing.T) {
	f := newFixture(t, model.NewScriptedModel())

	_, err := f.runner.RunTurn(context.Background(), TurnRequest{UserID: " ", Text: "hi"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.runner.RunTurn(context.Background(), TurnRequest{UserID: "u1", Text: "  "})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRunTurn_ThreadBusy(t *testing.T) {
	f := newFixture(t, model.NewScriptedModel(model.Step{Text: "slow", Delay: 300 * time.Millisecond}))

	first := mustRun(t, f.runner, TurnRequest{UserID: "u1", Text: "one", Streaming: true})

	_, err := f.runner.RunTurn(context.Background(), TurnRequest{UserID: "u1", Text: "two"})
	assert.ErrorIs(t, err, ErrThreadBusy)

	other := mustRun(t, f.runner, TurnRequest{UserID: "u1", ThreadID: "side", Text: "three"})

	assert.Equal(t, engine.OutcomeCompleted, finalOf(t, drain(t, first)).Outcome)
	assert.Equal(t, engine.OutcomeCompleted, finalOf(t, drain(t, other)).Outcome)
}

func TestRunTurn_SlashInIDsDoesNotCollide(t *testing.T) {
	f := newFixture(t, model.NewScriptedModel(
		model.Step{Text: "slow", Delay: 300 * time.Millisecond},
		model.Step{Text: "fast"},
	))

	first := mustRun(t, f.runner, TurnRequest{UserID: "a/b", ThreadID: "c", Text: "one", Streaming: true})
	second, err := f.runner.RunTurn(context.Background(), TurnRequest{UserID: "a", ThreadID: "b/c", Text: "two"})
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeCompleted, finalOf(t, drain(t, first)).Outcome)
	assert.Equal(t, engine.OutcomeCompleted, finalOf(t, drain(t, second)).Outcome)
}

func TestRunTurn_Timeout(t *testing.T) {
	f := newFixture(t, model.NewScriptedModel(model.Step{Text: "too late", Delay: 500 * time.Millisecond}), func(o *Options) {
		o.TurnTimeout = 50 * time.Millisecond
		o.PollInterval = 10 * time.Millisecond
	})

	start := time.Now()
	events := mustRun(t, f.runner, TurnRequest{UserID: "u1", Text: "hi"})

	var final *engine.Final
	for ev := range events {
		if ev.Kind == engine.EventFinal {
			final = ev.Final
			break
		}
	}
	elapsed := time.Since(start)

	require.NotNil(t, final)
	assert.Equal(t, engine.OutcomeTimedOut, final.Outcome)
	assert.Equal(t, TimeoutMessage, final.Answer)
	assert.Contains(t, final.Error, engine.ErrTurnTimeout.Error())
	assert.Less(t, elapsed, 400*time.Millisecond)

	// the abandoned worker still owns the thread
	_, err := f.runner.RunTurn(context.Background(), TurnRequest{UserID: "u1", Text: "again"})
	assert.ErrorIs(t, err, ErrThreadBusy)

	require.NoError(t, f.runner.Close())

	// the late result was discarded; the turn is closed with the timeout notice
	st, err := f.store.Load(context.Background(), core.ThreadKey{UserID: "u1", ThreadID: "thread_u1"})
	require.NoError(t, err)
	require.Len(t, st.Messages, 2)
	assert.Equal(t, "hi", st.Messages[0].(core.HumanMessage).Text)
	assert.Equal(t, TimeoutMessage, st.Messages[1].(core.AssistantMessage).Text)
}

type slowSearcher struct{ delay time.Duration }

func (s slowSearcher) Search(ctx context.Context, _ []string, _ int) ([]search.Result, error) {
	select {
	case <-time.After(s.delay):
		return []search.Result{{Title: "Go", URL: "https://go.dev", Snippet: "news"}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runWhenFree retries Run until the thread is no longer held by an
// abandoned worker.
func runWhenFree(t *testing.T, r *Runner, req TurnRequest) *engine.Final {
	t.Helper()
	var (
		final *engine.Final
		err   error
	)
	require.Eventually(t, func() bool {
		final, err = r.Run(context.Background(), req)
		return !errors.Is(err, ErrThreadBusy)
	}, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, err)
	return final
}

func TestRunTurn_TimeoutDuringToolLeavesNoPendingCalls(t *testing.T) {
	m := model.NewScriptedModel(
		model.Step{ToolCalls: []core.ToolCall{
			model.ToolCall("c1", tool.SearchToolName, `{"queries":["news"]}`),
		}},
		model.Step{Text: "late reply"},
		model.Step{Text: "第二轮"},
	)
	f := newFixtureWithTools(t, m, []tool.Tool{tool.NewSearchTool(slowSearcher{delay: 300 * time.Millisecond})}, func(o *Options) {
		o.TurnTimeout = 100 * time.Millisecond
		o.PollInterval = 10 * time.Millisecond
	})

	first, err := f.runner.Run(context.Background(), TurnRequest{UserID: "u1", Text: "news?", EnableSearch: true})
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeTimedOut, first.Outcome)

	second := runWhenFree(t, f.runner, TurnRequest{UserID: "u1", Text: "再问一次"})
	assert.Equal(t, engine.OutcomeCompleted, second.Outcome)
	assert.Equal(t, "第二轮", second.Answer)

	reqs := m.Requests()
	require.Len(t, reqs, 3)
	sent := &core.ConversationState{Messages: reqs[2].Messages}
	assert.Empty(t, sent.PendingCalls())

	var texts []string
	for _, msg := range reqs[2].Messages {
		switch v := msg.(type) {
		case core.HumanMessage:
			texts = append(texts, v.Text)
		case core.AssistantMessage:
			texts = append(texts, v.Text)
		}
	}
	assert.Equal(t, []string{"news?", TimeoutMessage, "再问一次"}, texts)

	st, err := f.store.Load(context.Background(), core.ThreadKey{UserID: "u1", ThreadID: "thread_u1"})
	require.NoError(t, err)
	assert.Empty(t, st.PendingCalls())
	assert.Len(t, st.Messages, 4)
}

func TestRunTurn_ResolvesPendingCallsOnLoad(t *testing.T) {
	f := newFixture(t, model.NewScriptedModel(model.Step{Text: "恢复了"}))

	key := core.ThreadKey{UserID: "u1", ThreadID: "thread_u1"}
	require.NoError(t, f.store.Save(context.Background(), key, &core.ConversationState{Messages: []core.Message{
		core.HumanMessage{ID: "h1", Text: "news?"},
		core.AssistantMessage{ID: "a1", ToolCalls: []core.ToolCall{{ID: "c1", Name: tool.SearchToolName, Arguments: `{}`}}},
	}}))

	final, err := f.runner.Run(context.Background(), TurnRequest{UserID: "u1", Text: "在吗"})
	require.NoError(t, err)
	assert.Equal(t, "恢复了", final.Answer)

	reqs := f.model.Requests()
	require.Len(t, reqs, 1)
	sent := &core.ConversationState{Messages: reqs[0].Messages}
	assert.Empty(t, sent.PendingCalls())

	var resolved bool
	for _, msg := range reqs[0].Messages {
		if tr, ok := msg.(core.ToolResultMessage); ok && tr.CallID == "c1" {
			resolved = tr.IsError && tr.Content == InterruptedToolResult
		}
	}
	assert.True(t, resolved)
}

func TestRunTurn_StreamingForwardsPartials(t *testing.T) {
	f := newFixture(t, model.NewScriptedModel(model.Step{Text: "你好啊"}))

	events := drain(t, mustRun(t, f.runner, TurnRequest{UserID: "u1", Text: "hi", Streaming: true}))

	var partials []string
	for _, ev := range events {
		if ev.Kind == engine.EventPartial {
			partials = append(partials, ev.Partial)
		}
	}
	assert.Equal(t, []string{"你", "你好", "你好啊"}, partials)
	assert.Equal(t, "你好啊", finalOf(t, events).Answer)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, model.NewScriptedModel(model.Step{Text: "never", Delay: 5 * time.Second}))

	events := mustRun(t, f.runner, TurnRequest{RunID: "r1", UserID: "u1", Text: "hi", Streaming: true})
	require.Eventually(t, func() bool { return f.runner.Cancel("r1") == nil }, time.Second, 10*time.Millisecond)

	final := finalOf(t, drain(t, events))
	assert.Equal(t, engine.OutcomeFailed, final.Outcome)
	assert.Equal(t, FailureMessage, final.Answer)

	st, err := f.store.Load(context.Background(), core.ThreadKey{UserID: "u1", ThreadID: "thread_u1"})
	require.NoError(t, err)
	require.Len(t, st.Messages, 2)
	assert.Equal(t, "hi", st.Messages[0].(core.HumanMessage).Text)
	assert.Equal(t, FailureMessage, st.Messages[1].(core.AssistantMessage).Text)

	require.Eventually(t, func() bool {
		return errors.Is(f.runner.Cancel("r1"), ErrRunNotFound)
	}, time.Second, 10*time.Millisecond)
}

func TestRunTurn_SubmitsToAnalyzer(t *testing.T) {
	m := model.NewScriptedModel(model.Step{Text: "好的"})
	done := make(chan engine.AnalysisResult, 1)

	f := newFixture(t, m)
	analyzer := engine.NewAnalyzer(m, f.mem, func(o *engine.AnalyzerOptions) {
		o.OnComplete = func(r engine.AnalysisResult) { done <- r }
	})
	t.Cleanup(analyzer.Close)
	f.runner.opts.Analyzer = analyzer

	m.Push(model.Step{ToolCalls: []core.ToolCall{
		model.ToolCall("a1", tool.MemoryToolName, `{"action":"upsert","memory_id":"user_hobby","content":"爬山"}`),
	}})

	_, err := f.runner.Run(context.Background(), TurnRequest{UserID: "u1", Text: "我周末喜欢爬山"})
	require.NoError(t, err)

	select {
	case res := <-done:
		require.NoError(t, res.Err)
		assert.Len(t, res.Applied, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("analysis did not complete")
	}

	got, ok, err := f.mem.Get(context.Background(), "u1", "user_hobby")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "爬山", got)
}

func TestClose(t *testing.T) {
	f := newFixture(t, model.NewScriptedModel())
	require.NoError(t, f.runner.Close())

	_, err := f.runner.RunTurn(context.Background(), TurnRequest{UserID: "u1", Text: "hi"})
	assert.ErrorIs(t, err, ErrClosed)
}
