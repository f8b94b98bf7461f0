// Package logging assembles the structured slog loggers used by the tenk
// daemon and CLI.
//
// It owns the console and JSON handlers, level parsing, and output fan-out to
// stdout plus the log file, and exposes context-aware helpers so tracker code
// tags every line with the wizard session and phase. A no-op logger is
// provided for tests and wiring code that cannot fail.
package logging
