package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/memorymesh/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is the normalized model input built by the engine.
type Request struct {
	System   string           `json:"system"`
	Messages []core.Message   `json:"-"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Stream   bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model.
//
// Partial responses carry a text Delta only. The final response carries the
// complete assistant Message including any tool calls.
type Response struct {
	Partial      bool                  `json:"partial"`
	Delta        string                `json:"delta,omitempty"`
	Message      core.AssistantMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
	Usage        *TokenUsage           `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the capability boundary to a text-completion / tool-calling service.
//
// Generate must close both channels when done. At most one error is sent.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)
	Info() Info
}

// ErrNoResponse is returned by Collect when the model closed its stream
// without a final response.
var ErrNoResponse = errors.New("model returned no final response")

// Collect drains a Generate call. onDelta (optional) receives every partial
// text fragment as it arrives. The returned message gets a fresh id when the
// provider left it empty.
func Collect(ctx context.Context, m Model, req Request, onDelta func(string)) (core.AssistantMessage, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		final    *core.AssistantMessage
		streamed strings.Builder
	)
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return core.AssistantMessage{}, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if r.Partial {
				if r.Delta != "" {
					streamed.WriteString(r.Delta)
					if onDelta != nil {
						onDelta(r.Delta)
					}
				}
				continue
			}
			msg := r.Message
			final = &msg
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return core.AssistantMessage{}, err
			}
		}
	}

	if final == nil {
		if streamed.Len() == 0 {
			return core.AssistantMessage{}, ErrNoResponse
		}
		final = &core.AssistantMessage{Text: streamed.String()}
	}
	if final.ID == "" {
		final.ID = core.NewID()
	}
	return *final, nil
}

// Step is one scripted reply of a ScriptedModel.
type Step struct {
	Text      string
	ToolCalls []core.ToolCall
	Err       error
	Delay     time.Duration
}

// ScriptedModel replays canned steps in order; useful for tests and demos.
// Once the script is exhausted it answers with Fallback text.
type ScriptedModel struct {
	mu       sync.Mutex
	steps    []Step
	requests []Request
	Fallback string
}

// NewScriptedModel creates a ScriptedModel replaying steps.
func NewScriptedModel(steps ...Step) *ScriptedModel {
	return &ScriptedModel{steps: steps, Fallback: "ok"}
}

// Push appends further steps to the script.
func (m *ScriptedModel) Push(steps ...Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
}

// Requests returns a copy of every request received so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *ScriptedModel) next(req Request) Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]core.Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	m.requests = append(m.requests, req)
	if len(m.steps) == 0 {
		return Step{Text: m.Fallback}
	}
	s := m.steps[0]
	m.steps = m.steps[1:]
	return s
}

// Generate implements Model. In streaming mode text is emitted rune by rune.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)
	step := m.next(req)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if step.Delay > 0 {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-time.After(step.Delay):
			}
		}
		if step.Err != nil {
			errCh <- step.Err
			return
		}
		if req.Stream && len(step.ToolCalls) == 0 {
			for _, r := range step.Text {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Delta: string(r)}:
				}
			}
		}
		reason := "stop"
		if len(step.ToolCalls) > 0 {
			reason = "tool_calls"
		}
		respCh <- Response{
			Message:      core.NewAssistantMessage(step.Text, step.ToolCalls...),
			FinishReason: reason,
		}
	}()
	return respCh, errCh
}

// Info implements Model.
func (m *ScriptedModel) Info() Info {
	return Info{Name: "scripted", Provider: "local", SupportsTools: true}
}

// ToolCall is a convenience constructor for scripted tool calls.
func ToolCall(id, name, args string) core.ToolCall {
	return core.ToolCall{ID: id, Name: name, Arguments: args}
}

// String renders an Info as provider/name.
func (i Info) String() string { return fmt.Sprintf("%s/%s", i.Provider, i.Name) }
