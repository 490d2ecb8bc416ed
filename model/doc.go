// Package model defines the provider-agnostic boundary to language models.
//
//   - Model unifies streaming and non-streaming generation behind Generate
//   - Request / Response carry core.Message values and normalized tool definitions
//   - Collect drains a generation into one core.AssistantMessage
//   - ScriptedModel replays canned replies for tests
//
// Providers (openai, anthropic) live in sub-packages so the engine stays
// decoupled from vendor SDKs.
package model
