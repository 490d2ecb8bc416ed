package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		err  bool
	}{
		{"debug", LogLevelDebug, false},
		{"", LogLevelInfo, false},
		{"WARNING", LogLevelWarn, false},
		{"error", LogLevelError, false},
		{"loud", LogLevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestStructuredLogger_ContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LogLevelDebug, Output: &buf}).
		WithComponent("engine").
		WithThread("u1", "thread_u1")

	l.LogToolCall("web_search", 5*time.Millisecond, errors.New("boom"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "tool.call.failed", rec["msg"])
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "engine", rec["component"])
	assert.Equal(t, "u1", rec["user_id"])
	assert.Equal(t, "thread_u1", rec["thread_id"])
	assert.Equal(t, "boom", rec["error"])
}

func TestStructuredLogger_SlogCarriesContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LogLevelInfo, Output: &buf}).WithComponent("http")

	std := slog.NewLogLogger(l.Slog().Handler(), slog.LevelError)
	std.Print("http: TLS handshake error")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "http: TLS handshake error", rec["msg"])
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "http", rec["component"])
}

func TestStructuredLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LogLevelWarn, Output: &buf})

	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.LogTurn("timed_out", []string{"AGENT"}, time.Second)
	assert.Contains(t, buf.String(), `"outcome":"timed_out"`)
}

func TestNoOpLogger(t *testing.T) {
	var l Logger = NoOpLogger{}
	l.Error("ignored", "k", "v")
}
