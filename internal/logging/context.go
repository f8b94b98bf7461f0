package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the structured logging key for component names.
	FieldComponent = "component"
	// FieldSessionID is the structured logging key for wizard session identifiers.
	FieldSessionID = "session_id"
	// FieldPhase is the structured logging key for wizard phases.
	FieldPhase = "phase"
	// FieldCorrelationID is the structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldEventType classifies notable log lines for filtering.
	FieldEventType = "event_type"
)

type contextKey int

const (
	sessionIDKey contextKey = iota
	phaseKey
	requestIDKey
)

// WithSessionID tags the context with a wizard session identifier.
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionIDKey, id)
}

// WithPhase tags the context with the phase being processed.
func WithPhase(ctx context.Context, phase string) context.Context {
	if phase == "" {
		return ctx
	}
	return context.WithValue(ctx, phaseKey, phase)
}

// WithRequestID tags the context with an HTTP request correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the correlation identifier, if any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok && id != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := ctx.Value(sessionIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldSessionID, id))
	}
	if phase, ok := ctx.Value(phaseKey).(string); ok && phase != "" {
		fields = append(fields, slog.String(FieldPhase, phase))
	}
	if rid, ok := RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
