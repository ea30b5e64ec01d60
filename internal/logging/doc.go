// Package logging provides structured logging for raggate with optional
// size-based file rotation. Logs are JSON for machine consumption; when
// stderr is an interactive terminal a human-readable text handler is
// selected instead.
package logging
