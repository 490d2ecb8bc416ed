// Package session houses concrete implementations of core.CheckpointStore.
// The interface itself lives in the core package; keeping only
// implementations here prevents the engine and runner from depending on
// concrete storage.
//
// Add additional backends in sub-packages without changing any calling code.
// Only the wiring layer decides which implementation to instantiate.
package session
