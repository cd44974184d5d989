package logging

import (
	"log/slog"
	"os"
)

// InitStructured reconfigures parrotd's operational logger from
// observability.logging config: format is "text" (default) or "json"
// (Loki/ELK compatible), level is "debug"/"info"/"warn"/"error". Called
// once at daemon startup, before the PCore loop and HTTP surface start
// emitting VM/engine lifecycle events.
func InitStructured(format, level string) {
	SetLevelFromString(level)

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler).With("service", serviceName)
	opLogger.Store(logger)
}

// OpWithTrace returns the operational logger with trace context fields,
// for log lines emitted from inside a traced HTTP handler (the OS surface
// routes registered in internal/api) so they correlate with the span
// observability.HTTPMiddleware started for the same request.
func OpWithTrace(traceID, spanID string) *slog.Logger {
	l := opLogger.Load()
	if traceID == "" {
		return l
	}
	args := []any{"trace_id", traceID}
	if spanID != "" {
		args = append(args, "span_id", spanID)
	}
	return l.With(args...)
}
