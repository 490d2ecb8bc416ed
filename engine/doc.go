// Package engine implements the turn state machine of memorymesh.
//
// One Run drives a single user message through a finite-state machine over a
// core.ConversationState:
//
//	AGENT ──tool calls──▶ TOOL ──▶ REFLECT ──▶ AGENT_REPLY ──▶ COMPACT ──▶ done
//	  │                              │
//	  │                              └──loop (optional, bounded)──▶ AGENT
//	  └──────────no tool calls──────────────────────────────────▶ COMPACT
//
// The edge set lives in a single transition table (see Next) and is kept
// apart from the state bodies. Each state returns a core.Update that the
// engine applies before routing, so message merges and tombstones always go
// through one reduction.
//
// # States
//
//   - AGENT calls the model with the memory snapshot in the system prompt and
//     the tools enabled for the turn (manage_memory, plus web_search when the
//     caller enables search).
//   - TOOL executes every call of the last assistant message in order and
//     appends one tool-result per call.
//   - REFLECT persists manage_memory mutations through memory.Manager and then
//     either erases the memory traffic (VisibilitySilent, the default) or
//     appends MemoryUpdatedMarker (VisibilityAnnotate). Search results always
//     stay visible.
//   - AGENT_REPLY calls the model with tools disabled to produce the answer.
//   - COMPACT summarizes and prunes once history exceeds CompactThreshold.
//
// # Failure handling
//
// A failed model call is replaced by FallbackMessage and the turn continues.
// Tool failures become error tool-results. Memory write failures are logged
// and leave the cache untouched. Only context cancellation ends Run early;
// turn-level timeouts are enforced by the runner package.
//
// # Background analysis
//
// Analyzer inspects finished exchanges off the request path and applies the
// memory mutations it infers. Analyses for one user are serialized. Tests
// wait for AnalyzerOptions.OnComplete instead of sleeping.
package engine
