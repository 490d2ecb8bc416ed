package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memorymesh/core"
	"github.com/hupe1980/memorymesh/engine"
	"github.com/hupe1980/memorymesh/logging"
	"github.com/hupe1980/memorymesh/memory"
	"github.com/hupe1980/memorymesh/model"
	"github.com/hupe1980/memorymesh/runner"
	"github.com/hupe1980/memorymesh/tool"
)

func newTestServer(t *testing.T, steps ...model.Step) (*httptest.Server, *memory.Manager) {
	t.Helper()
	return newTestServerWithOptions(t, nil, steps...)
}

func newTestServerWithOptions(t *testing.T, optFn func(o *Options), steps ...model.Step) (*httptest.Server, *memory.Manager) {
	t.Helper()
	store, err := memory.OpenSQLite(filepath.Join(t.TempDir(), "memories.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mgr := memory.NewManager(store)
	exec, err := tool.NewExecutor([]tool.Tool{tool.NewMemoryTool()})
	require.NoError(t, err)

	r := runner.New(engine.New(model.NewScriptedModel(steps...), exec, mgr))
	var optFns []func(o *Options)
	if optFn != nil {
		optFns = append(optFns, optFn)
	}
	srv := httptest.NewServer(New(r, mgr, optFns...).Routes())
	t.Cleanup(func() {
		srv.Close()
		_ = r.Close()
	})
	return srv, mgr
}

func TestHandleTurn(t *testing.T) {
	srv, mgr := newTestServer(t,
		model.Step{ToolCalls: []core.ToolCall{
			model.ToolCall("c1", tool.MemoryToolName, `{"action":"upsert","memory_id":"user_name","content":"张三"}`),
		}},
		model.Step{Text: "我已经记住了您的名字"},
	)

	resp, err := http.Post(srv.URL+"/v1/turns", "application/json", strings.NewReader(`{"user_id":"u1","text":"我叫张三"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var final engine.Final
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&final))
	assert.Equal(t, engine.OutcomeCompleted, final.Outcome)
	assert.Equal(t, "我已经记住了您的名字", final.Answer)
	assert.NotEmpty(t, final.RunID)

	got, ok, err := mgr.Get(context.Background(), "u1", "user_name")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "张三", got)
}

func TestHandleTurn_BadRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, body := range []string{`{`, `{"user_id":"","text":"hi"}`, `{"user_id":"u1","text":""}`} {
		resp, err := http.Post(srv.URL+"/v1/turns", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestMemoriesEndpoints(t *testing.T) {
	srv, mgr := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, mgr.Upsert(ctx, "u1", "user_name", "张三"))
	require.NoError(t, mgr.Upsert(ctx, "u1", "user_job", "教育行业"))

	resp, err := http.Get(srv.URL + "/v1/users/u1/memories")
	require.NoError(t, err)
	var list memoriesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.Equal(t, "u1", list.UserID)
	assert.Len(t, list.Memories, 2)

	resp, err = http.Get(srv.URL + "/v1/users/u1/memories?format=text")
	require.NoError(t, err)
	assert.Contains(t, readAll(t, resp), "📌 user_name\n   └ 张三")

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/users/u1/memories/user_name", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, ok, err := mgr.Get(ctx, "u1", "user_name")
	require.NoError(t, err)
	assert.False(t, ok)

	resp, err = http.Get(srv.URL + "/v1/users/nobody/memories?format=text")
	require.NoError(t, err)
	assert.Equal(t, memory.EmptyPanel, readAll(t, resp))
}

func TestHandleCancel_Unknown(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/turns/missing", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// lockedBuffer is written by server goroutines and read by the test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func TestRequestLogger(t *testing.T) {
	var buf lockedBuffer
	logger := logging.New(&logging.Config{Level: logging.LogLevelInfo, Format: "json", Output: &buf})
	srv, _ := newTestServerWithOptions(t, func(o *Options) { o.Logger = logger })

	resp, err := http.Get(srv.URL + "/v1/users/u1/memories/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return len(buf.Bytes()) > 0 }, time.Second, 10*time.Millisecond)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "http.request", rec["msg"])
	assert.Equal(t, "GET", rec["method"])
	assert.Equal(t, "/v1/users/u1/memories/", rec["path"])
	assert.EqualValues(t, http.StatusOK, rec["status"])
	assert.NotEmpty(t, rec["request_id"])
}

func TestHandleStream(t *testing.T) {
	srv, _ := newTestServer(t, model.Step{Text: "你好"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/turns/stream", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"type": "ping"}))
	var pong streamReply
	require.NoError(t, wsjson.Read(ctx, conn, &pong))
	assert.Equal(t, "pong", pong.Kind)

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{
		"run_id": "r1", "user_id": "u1", "text": "hi", "streaming": true,
	}))

	var partials []string
	for {
		var ev engine.Event
		require.NoError(t, wsjson.Read(ctx, conn, &ev))
		if ev.Kind == engine.EventPartial {
			partials = append(partials, ev.Partial)
		}
		if ev.Kind == engine.EventFinal {
			require.NotNil(t, ev.Final)
			assert.Equal(t, "r1", ev.Final.RunID)
			assert.Equal(t, "你好", ev.Final.Answer)
			break
		}
	}
	assert.Equal(t, []string{"你", "你好"}, partials)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("x: %w", runner.ErrThreadBusy)))
	assert.Equal(t, http.StatusBadRequest, statusFor(memory.ErrInvalidArgument))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(runner.ErrClosed))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var b strings.Builder
	_, err := io.Copy(&b, resp.Body)
	require.NoError(t, err)
	return b.String()
}
