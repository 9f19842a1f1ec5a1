package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent names the subsystem emitting the record.
	FieldComponent = "component"
	// FieldEventType is a stable machine-readable tag for the record.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldItemID identifies a complaint row.
	FieldItemID = "item_id"
	// FieldSKU identifies a complaint by business key.
	FieldSKU = "sku"
	// FieldAttachmentID identifies an image row.
	FieldAttachmentID = "attachment_id"
	// FieldRequestID correlates log lines for one ingress request.
	FieldRequestID = "request_id"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID stores a request identifier for later log enrichment.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the identifier stored by WithRequestID.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithContext returns logger enriched with the fields carried by ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if id := RequestID(ctx); id != "" {
		return logger.With(String(FieldRequestID, id))
	}
	return logger
}
