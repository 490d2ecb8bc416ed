// Package runner is the turn boundary of memorymesh.
//
// A Runner accepts a TurnRequest (user, thread, text and per-turn options),
// loads the thread's checkpoint, drives the engine and returns a channel of
// engine.Event values: trace steps, memory snapshots, streaming partials and
// exactly one final event carrying the answer, the trace and the outcome.
//
// # Turn lifecycle
//
//   - One turn runs per thread at a time; a second request fails fast with
//     ErrThreadBusy instead of queueing.
//   - Non-streaming turns run on a detached worker under TurnTimeout. The
//     caller polls every PollInterval; when the budget elapses the turn ends
//     with OutcomeTimedOut and TimeoutMessage, and the worker's late output
//     and checkpoints are discarded.
//   - Streaming turns forward partial answers as the model produces them.
//   - Completed turns are checkpointed and, when an Analyzer is configured,
//     submitted for background memory analysis.
//   - Timed out, cancelled and failed turns are saved as the previous history
//     plus the user's message and the timeout or failure notice, so the thread
//     never keeps a tool call without its result.
//
// Cancel aborts a turn by run id. Close drains running turns.
package runner
