package testutil

import (
	"fmt"

	"github.com/hupe1980/memorymesh/core"
)

// StateBuilder provides a fluent helper for constructing conversation
// states with deterministic message ids (m1, m2, ...).
//
// Example:
//
//	st := NewStateBuilder().Human("hi").Assistant("hello").Summary("greeting").Build()
type StateBuilder struct {
	msgs    []core.Message
	summary string
	seq     int
}

// NewStateBuilder creates an empty builder.
func NewStateBuilder() *StateBuilder { return &StateBuilder{} }

func (b *StateBuilder) nextID() string {
	b.seq++
	return fmt.Sprintf("m%d", b.seq)
}

// Human appends a human message (chainable).
func (b *StateBuilder) Human(text string) *StateBuilder {
	b.msgs = append(b.msgs, core.HumanMessage{ID: b.nextID(), Text: text})
	return b
}

// Assistant appends an assistant message, optionally with tool calls (chainable).
func (b *StateBuilder) Assistant(text string, calls ...core.ToolCall) *StateBuilder {
	b.msgs = append(b.msgs, core.AssistantMessage{ID: b.nextID(), Text: text, ToolCalls: calls})
	return b
}

// ToolResult appends a result answering callID (chainable).
func (b *StateBuilder) ToolResult(callID, toolName, content string) *StateBuilder {
	b.msgs = append(b.msgs, core.ToolResultMessage{ID: b.nextID(), CallID: callID, ToolName: toolName, Content: content})
	return b
}

// System appends a system message (chainable).
func (b *StateBuilder) System(text string) *StateBuilder {
	b.msgs = append(b.msgs, core.SystemMessage{ID: b.nextID(), Text: text})
	return b
}

// Exchanges appends n human/assistant pairs (chainable).
func (b *StateBuilder) Exchanges(n int) *StateBuilder {
	for i := 1; i <= n; i++ {
		b.Human(fmt.Sprintf("question %d", i))
		b.Assistant(fmt.Sprintf("answer %d", i))
	}
	return b
}

// Summary sets the running summary (chainable).
func (b *StateBuilder) Summary(s string) *StateBuilder {
	b.summary = s
	return b
}

// Build returns a new state; the builder can be reused.
func (b *StateBuilder) Build() *core.ConversationState {
	msgs := make([]core.Message, len(b.msgs))
	copy(msgs, b.msgs)
	return &core.ConversationState{Messages: msgs, Summary: b.summary}
}
