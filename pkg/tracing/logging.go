package tracing

import (
	"context"
	"log/slog"
	"time"
)

var (
	_ Tracer = LoggingTracer{}
	_ Span   = loggingSpan{}
)

// Tracer starts [Span]s.
type Tracer interface {
	StartSpan(operationName string) Span
}

// Span is a timed unit of work. Baggage items are reported when the span
// finishes.
type Span interface {
	SetBaggageItem(key string, value any)
	Finish()
}

// LoggingTracer reports finished spans as debug log records.
type LoggingTracer struct {
	logger *slog.Logger
}

func NewLoggingTracer(logger *slog.Logger) *LoggingTracer {
	return &LoggingTracer{
		logger: logger,
	}
}

//nolint:ireturn
func (l LoggingTracer) StartSpan(operationName string) Span {
	logger := l.logger
	if logger == nil {
		logger = slog.Default()
	}

	return loggingSpan{
		logger:        logger,
		operationName: operationName,
		baggage:       make(map[string]any),
		start:         time.Now(),
	}
}

type loggingSpan struct {
	logger        *slog.Logger
	baggage       map[string]any
	start         time.Time
	operationName string
}

func (s loggingSpan) Finish() {
	attrs := []any{}
	attrs = append(attrs, baggageToVals(s.baggage)...)
	attrs = append(attrs,
		slog.String("operation_name", s.operationName),
		slog.Float64("time_ms", time.Since(s.start).Seconds()*1e3),
	)
	s.logger.Log(context.Background(), slog.LevelDebug, "trace", attrs...)
}

func (s loggingSpan) SetBaggageItem(key string, value any) {
	s.baggage[key] = value
}

func baggageToVals(baggage map[string]any) []any {
	result := make([]any, 0, len(baggage))
	for k, v := range baggage {
		result = append(result, slog.Any(k, v))
	}

	return result
}
