package core

import (
	"encoding/json"
	"fmt"
)

// Message is one entry of a conversation log. Concrete message types
// implement the unexported isMessage marker enabling a closed set:
// SystemMessage, HumanMessage, AssistantMessage and ToolResultMessage.
type Message interface {
	// MessageID returns the identifier used for targeted removal.
	MessageID() string
	isMessage()
}

// SystemMessage carries out-of-band instructions or markers.
type SystemMessage struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// MessageID implements Message.
func (m SystemMessage) MessageID() string { return m.ID }

func (SystemMessage) isMessage() {}

// HumanMessage is text typed by the user.
type HumanMessage struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// MessageID implements Message.
func (m HumanMessage) MessageID() string { return m.ID }

func (HumanMessage) isMessage() {}

// AssistantMessage is a model reply, optionally requesting tool calls.
type AssistantMessage struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// MessageID implements Message.
func (m AssistantMessage) MessageID() string { return m.ID }

func (AssistantMessage) isMessage() {}

// HasToolCalls reports whether the message requests at least one tool call.
func (m AssistantMessage) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// ToolResultMessage carries the output of one executed tool call.
type ToolResultMessage struct {
	ID       string `json:"id"`
	CallID   string `json:"call_id"`
	ToolName string `json:"tool_name"`
	Content  string `json:"content"`
	IsError  bool   `json:"is_error,omitempty"`
}

// MessageID implements Message.
func (m ToolResultMessage) MessageID() string { return m.ID }

func (ToolResultMessage) isMessage() {}

// ToolCall is a structured request issued by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON object
}

// NewHumanMessage builds a HumanMessage with a fresh id.
func NewHumanMessage(text string) HumanMessage { return HumanMessage{ID: NewID(), Text: text} }

// NewSystemMessage builds a SystemMessage with a fresh id.
func NewSystemMessage(text string) SystemMessage { return SystemMessage{ID: NewID(), Text: text} }

// NewAssistantMessage builds an AssistantMessage with a fresh id.
func NewAssistantMessage(text string, calls ...ToolCall) AssistantMessage {
	return AssistantMessage{ID: NewID(), Text: text, ToolCalls: calls}
}

// NewToolResultMessage builds a ToolResultMessage answering call.
func NewToolResultMessage(call ToolCall, content string, isError bool) ToolResultMessage {
	return ToolResultMessage{ID: NewID(), CallID: call.ID, ToolName: call.Name, Content: content, IsError: isError}
}

const (
	kindSystem     = "system"
	kindHuman      = "human"
	kindAssistant  = "assistant"
	kindToolResult = "tool_result"
)

// envelope is the tagged wire form used for checkpoints.
type envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalMessages encodes a message log as a JSON array of tagged envelopes.
func MarshalMessages(msgs []Message) ([]byte, error) {
	out := make([]envelope, 0, len(msgs))
	for _, m := range msgs {
		var kind string
		switch m.(type) {
		case SystemMessage:
			kind = kindSystem
		case HumanMessage:
			kind = kindHuman
		case AssistantMessage:
			kind = kindAssistant
		case ToolResultMessage:
			kind = kindToolResult
		default:
			return nil, fmt.Errorf("unsupported message type %T", m)
		}
		payload, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal %s message: %w", kind, err)
		}
		out = append(out, envelope{Kind: kind, Payload: payload})
	}
	return json.Marshal(out)
}

// UnmarshalMessages decodes the output of MarshalMessages.
func UnmarshalMessages(data []byte) ([]Message, error) {
	var envs []envelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, fmt.Errorf("decode message envelopes: %w", err)
	}
	msgs := make([]Message, 0, len(envs))
	for _, env := range envs {
		m, err := decodeMessage(env)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func decodeMessage(env envelope) (Message, error) {
	switch env.Kind {
	case kindSystem:
		var m SystemMessage
		err := json.Unmarshal(env.Payload, &m)
		return m, wrapDecode(env.Kind, err)
	case kindHuman:
		var m HumanMessage
		err := json.Unmarshal(env.Payload, &m)
		return m, wrapDecode(env.Kind, err)
	case kindAssistant:
		var m AssistantMessage
		err := json.Unmarshal(env.Payload, &m)
		return m, wrapDecode(env.Kind, err)
	case kindToolResult:
		var m ToolResultMessage
		err := json.Unmarshal(env.Payload, &m)
		return m, wrapDecode(env.Kind, err)
	default:
		return nil, fmt.Errorf("unknown message kind %q", env.Kind)
	}
}

func wrapDecode(kind string, err error) error {
	if err != nil {
		return fmt.Errorf("decode %s message: %w", kind, err)
	}
	return nil
}
