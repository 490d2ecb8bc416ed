// Package memory implements long-term user facts: the SQLite user_memories
// table, a per-user snapshot cache (ristretto or a plain map) and the Manager
// that keeps both coherent.
package memory
