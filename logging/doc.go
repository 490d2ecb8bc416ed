// Package logging provides a tiny abstraction over slog so downstream code can
// depend on a minimal interface (Logger) while allowing users to plug any
// structured logger.
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping *slog.Logger
//   - StructuredLogger with component/thread context and turn helpers
//   - NoOpLogger for silent operation (the default in every package)
//
// Usage:
//
//	logger := logging.New(&logging.Config{Level: logging.LogLevelDebug, Format: "text", Output: os.Stderr})
//	r := runner.New(eng, func(o *runner.Options) { o.Logger = logger.WithComponent("runner") })
package logging
