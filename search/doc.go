// Package search aggregates web search queries: bounded fan-out to a
// Provider, per-query retries, URL deduplication and the text rendering fed
// back to the model as a tool result.
package search
