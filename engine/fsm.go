package engine

import "fmt"

// State is a node of the turn state machine.
type State string

// States visited by a turn. StateDone is terminal.
const (
	StateAgent      State = "agent"
	StateTool       State = "tool"
	StateReflect    State = "reflect"
	StateAgentReply State = "agent_reply"
	StateCompact    State = "compact"
	StateDone       State = "done"
)

// Condition is the routing signal a state produces when it finishes.
type Condition string

// Routing conditions.
const (
	// Always is the only condition of unconditional edges.
	Always Condition = "always"
	// HasToolCalls: the last assistant message requests tools.
	HasToolCalls Condition = "has_tool_calls"
	// NoToolCalls: the last assistant message is a plain answer.
	NoToolCalls Condition = "no_tool_calls"
	// LoopBack: tool rounds remain and the engine loops back to the agent.
	LoopBack Condition = "loop_back"
	// Reply: the turn finishes with a tool-less reply.
	Reply Condition = "reply"
)

type edge struct {
	from State
	when Condition
}

// transitions is the complete edge set of the state machine.
var transitions = map[edge]State{
	{StateAgent, HasToolCalls}: StateTool,
	{StateAgent, NoToolCalls}:  StateCompact,
	{StateTool, Always}:        StateReflect,
	{StateReflect, Reply}:      StateAgentReply,
	{StateReflect, LoopBack}:   StateAgent,
	{StateAgentReply, Always}:  StateCompact,
	{StateCompact, Always}:     StateDone,
}

// Next returns the state that follows from when c holds.
func Next(from State, c Condition) (State, error) {
	to, ok := transitions[edge{from, c}]
	if !ok {
		return "", fmt.Errorf("no transition from %s on %s", from, c)
	}
	return to, nil
}
