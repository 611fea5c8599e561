package services

import "context"

type contextKey string

const (
	jobIDKey     contextKey = "job_id"
	sandboxIDKey contextKey = "sandbox_id"
	stageKey     contextKey = "stage"
	trackKey     contextKey = "track"
)

// WithJobID annotates context with the job handle.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job handle if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithSandboxID annotates context with the sandbox identifier.
func WithSandboxID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, sandboxIDKey, id)
}

// SandboxIDFromContext extracts the sandbox identifier if present.
func SandboxIDFromContext(ctx context.Context) (int64, bool) {
	switch v := ctx.Value(sandboxIDKey).(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// WithStage annotates context with the pipeline stage category.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage category if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stageKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithTrack annotates context with a snapshot track address.
func WithTrack(ctx context.Context, track string) context.Context {
	return context.WithValue(ctx, trackKey, track)
}

// TrackFromContext returns the snapshot track address if present. The empty
// string is a valid track (the root), so presence is keyed on the value
// having been set at all.
func TrackFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(trackKey)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
