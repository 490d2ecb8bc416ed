package logging

import (
	"strings"
	"time"
)

// ToolCallLogger is implemented by loggers with a dedicated tool call record.
type ToolCallLogger interface {
	LogToolCall(tool string, dur time.Duration, err error)
}

// ModelCallLogger is implemented by loggers with a dedicated model call record.
type ModelCallLogger interface {
	LogModelCall(model string, dur time.Duration, err error)
}

// TurnLogger is implemented by loggers with a dedicated turn record.
type TurnLogger interface {
	LogTurn(outcome string, states []string, dur time.Duration)
}

// ToolCall records a tool invocation on l.
func ToolCall(l Logger, tool string, dur time.Duration, err error) {
	if tl, ok := l.(ToolCallLogger); ok {
		tl.LogToolCall(tool, dur, err)
		return
	}
	if err != nil {
		l.Error("tool.call.failed", "tool", tool, "duration", dur, "error", err.Error())
		return
	}
	l.Info("tool.call.completed", "tool", tool, "duration", dur)
}

// ModelCall records a model invocation on l.
func ModelCall(l Logger, model string, dur time.Duration, err error) {
	if ml, ok := l.(ModelCallLogger); ok {
		ml.LogModelCall(model, dur, err)
		return
	}
	if err != nil {
		l.Error("model.call.failed", "model", model, "duration", dur, "error", err.Error())
		return
	}
	l.Info("model.call.completed", "model", model, "duration", dur)
}

// Turn records a finished turn on l.
func Turn(l Logger, outcome string, states []string, dur time.Duration) {
	if tl, ok := l.(TurnLogger); ok {
		tl.LogTurn(outcome, states, dur)
		return
	}
	if outcome != "completed" {
		l.Warn("turn.finished", "outcome", outcome, "states", strings.Join(states, ">"), "duration", dur)
		return
	}
	l.Info("turn.finished", "outcome", outcome, "states", strings.Join(states, ">"), "duration", dur)
}
