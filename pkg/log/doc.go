// Package log builds [slog.Handler]s from user-supplied level and format
// strings.
//
// Handlers are backed by [github.com/charmbracelet/log], which renders
// colored console output for the text format and supports logfmt and JSON for
// machine consumption.
package log
