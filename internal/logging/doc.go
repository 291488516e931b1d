// Package logging configures structured slog output for coderecall.
// Logs are JSON lines written to a size-rotated file under ~/.coderecall/logs,
// optionally mirrored to stderr. Server mode never touches stdout or stderr.
package logging
