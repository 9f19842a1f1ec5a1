// Package logging assembles structured slog loggers and formatting helpers used
// across ozonassist.
//
// It owns the console/JSON handlers, centralizes level and output plumbing, and
// exposes helpers so HTTP handlers and queue code tag log lines with request
// IDs, complaint SKUs, and attachment IDs using the same keys. A no-op logger is
// provided for tests and wiring code that cannot fail.
package logging
