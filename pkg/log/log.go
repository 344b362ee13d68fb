package log

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/log"
)

const (
	FormatText   = "text"
	FormatLogfmt = "logfmt"
	FormatJSON   = "json"
)

var (
	ErrUnknownLevel  = errors.New("unknown log level")
	ErrUnknownFormat = errors.New("unknown log format")
)

// CreateHandlerWithStrings creates a [slog.Handler] by strings.
func CreateHandlerWithStrings(w io.Writer, logLevel, logFormat string) (slog.Handler, error) {
	lvl, err := GetLevel(logLevel)
	if err != nil {
		return nil, err
	}

	return CreateHandler(w, lvl, logFormat)
}

// CreateHandler creates a [slog.Handler] writing to w at the given level.
func CreateHandler(w io.Writer, lvl slog.Level, logFormat string) (slog.Handler, error) {
	f, err := GetFormatter(logFormat)
	if err != nil {
		return nil, err
	}

	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: f != log.TextFormatter,
		Level:           log.Level(lvl),
		Formatter:       f,
	}), nil
}

// GetLevel parses a log level string.
func GetLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "error":
		return slog.LevelError, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownLevel, level)
}

// GetFormatter parses a log format string.
func GetFormatter(format string) (log.Formatter, error) {
	switch strings.ToLower(format) {
	case FormatText, "":
		return log.TextFormatter, nil
	case FormatLogfmt:
		return log.LogfmtFormatter, nil
	case FormatJSON:
		return log.JSONFormatter, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}
