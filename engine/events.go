package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/memorymesh/memory"
)

// ErrTurnTimeout reports a turn that exceeded its time budget.
var ErrTurnTimeout = errors.New("turn timed out")

// Outcome is the terminal state of a turn.
type Outcome string

// Turn outcomes.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
)

// EventKind discriminates turn events.
type EventKind string

// Event kinds.
const (
	// EventPartial carries the answer accumulated so far while streaming.
	EventPartial EventKind = "partial"
	// EventTrace carries one human-readable progress line.
	EventTrace EventKind = "trace"
	// EventMemory carries the user's current memory snapshot.
	EventMemory EventKind = "memory"
	// EventFinal terminates the stream.
	EventFinal EventKind = "final"
)

// Event is one element of a turn's output stream.
type Event struct {
	Kind    EventKind      `json:"kind"`
	Partial string         `json:"partial,omitempty"`
	Step    string         `json:"step,omitempty"`
	Memory  []memory.Entry `json:"memory,omitempty"`
	Final   *Final         `json:"final,omitempty"`
}

// Final is the terminal payload of a turn.
type Final struct {
	RunID    string   `json:"run_id"`
	Outcome  Outcome  `json:"outcome"`
	Answer   string   `json:"answer"`
	Thinking string   `json:"thinking,omitempty"`
	Trace    []string `json:"trace"`
	Error    string   `json:"error,omitempty"`
}

// Emitter receives turn events. A nil Emitter discards them.
type Emitter func(Event)

func (e Emitter) emit(ev Event) {
	if e != nil {
		e(ev)
	}
}

// Trace lines.

// TraceStart opens every turn trace.
const TraceStart = "🚀 工作流启动..."

// TraceDone closes a successful turn trace.
const TraceDone = "✅ 响应生成完毕"

const previewLimit = 100

func traceState(s State) string { return fmt.Sprintf("📍 节点: %s", s) }

func traceToolCall(name string) string { return fmt.Sprintf("🔧 触发工具: %s", name) }

func traceToolArgs(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, args[k])
	}
	return "   📋 参数: " + strings.Join(parts, ", ")
}

func traceToolDone(name string) string { return fmt.Sprintf("✅ 工具 '%s' 执行完成", name) }

func traceToolFailed(name string, err error) string {
	return fmt.Sprintf("❌ 工具 '%s' 执行失败: %v", name, err)
}

func traceToolResult(content string) string {
	if r := []rune(content); len(r) > previewLimit {
		return "   📤 结果(简要): " + string(r[:previewLimit]) + "..."
	}
	return "   📤 结果: " + content
}

// TraceError formats a turn-level error line.
func TraceError(err error) string { return fmt.Sprintf("❌ 运行错误: %v", err) }
