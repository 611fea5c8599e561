package logging

import (
	"context"
	"log/slog"

	"folio/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for job handles.
	FieldJobID = "job_id"
	// FieldSandboxID is the standardized structured logging key for sandbox identifiers.
	FieldSandboxID = "sandbox_id"
	// FieldStage is the standardized structured logging key for stage categories.
	FieldStage = "stage"
	// FieldTrack is the standardized structured logging key for snapshot track addresses.
	FieldTrack = "track"
	// FieldProvider is the standardized structured logging key for provider identifiers.
	FieldProvider = "provider"
	// FieldEventType is the standardized structured logging key for machine-readable event tags.
	FieldEventType = "event_type"
	// FieldEndpoint is the standardized structured logging key for remote endpoint identifiers.
	FieldEndpoint = "endpoint"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if id, ok := services.SandboxIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldSandboxID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if track, ok := services.TrackFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldTrack, track))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from
// the supplied context.
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
