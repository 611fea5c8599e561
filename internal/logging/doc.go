// Package logging configures structured slog loggers for the daemon and CLI,
// with console and JSON handlers, standardized field names, and helpers for
// deriving per-component and per-context loggers.
package logging
