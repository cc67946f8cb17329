// Package logging assembles structured slog loggers and formatting helpers used
// across convertd services.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so worker and HTTP code can tag log lines
// with job ids, checkpoint stages, and request ids. A no-op logger is provided
// for tests and wiring code that cannot fail.
package logging
