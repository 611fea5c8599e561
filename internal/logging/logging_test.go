package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"folio/internal/logging"
	"folio/internal/services"
)

func annotatedContext() context.Context {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "job-7")
	ctx = services.WithSandboxID(ctx, 42)
	ctx = services.WithStage(ctx, "character_recognition")
	ctx = services.WithTrack(ctx, "1.2.1")
	return ctx
}

func TestContextFields(t *testing.T) {
	fields := logging.ContextFields(annotatedContext())
	if len(fields) != 4 {
		t.Fatalf("ContextFields returned %d attrs, want 4", len(fields))
	}

	values := make(map[string]string, len(fields))
	for _, attr := range fields {
		values[attr.Key] = attr.Value.String()
	}
	if values[logging.FieldJobID] != "job-7" {
		t.Fatalf("job id = %q", values[logging.FieldJobID])
	}
	if values[logging.FieldSandboxID] != "42" {
		t.Fatalf("sandbox id = %q", values[logging.FieldSandboxID])
	}
	if values[logging.FieldStage] != "character_recognition" {
		t.Fatalf("stage = %q", values[logging.FieldStage])
	}
	if values[logging.FieldTrack] != "1.2.1" {
		t.Fatalf("track = %q", values[logging.FieldTrack])
	}

	if got := logging.ContextFields(context.Background()); len(got) != 0 {
		t.Fatalf("bare context produced %d attrs", len(got))
	}
}

func TestWithContextAugmentsRecords(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	logging.WithContext(annotatedContext(), base).Info("step started")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record[logging.FieldJobID] != "job-7" {
		t.Fatalf("record job id = %v", record[logging.FieldJobID])
	}
	if record[logging.FieldTrack] != "1.2.1" {
		t.Fatalf("record track = %v", record[logging.FieldTrack])
	}
}

func TestWithContextWithoutAnnotations(t *testing.T) {
	base := logging.NewNop()
	if got := logging.WithContext(context.Background(), base); got != base {
		t.Fatal("WithContext should return the logger unchanged when context carries no fields")
	}
	if logging.WithContext(annotatedContext(), nil) == nil {
		t.Fatal("WithContext(nil logger) should fall back to a usable logger")
	}
}

func TestNewComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	logging.NewComponentLogger(base, "scheduler").Info("ready")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record[logging.FieldComponent] != "scheduler" {
		t.Fatalf("component = %v", record[logging.FieldComponent])
	}
}

func TestNewWritesJSONToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "folio.log")
	logger, err := logging.New(logging.Options{
		Level:       "debug",
		Format:      "json",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("daemon listening", logging.String(logging.FieldEndpoint, "/tmp/folio.sock"))

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, line)
	}
	if record["msg"] != "daemon listening" {
		t.Fatalf("msg = %v", record["msg"])
	}
	if record[logging.FieldEndpoint] != "/tmp/folio.sock" {
		t.Fatalf("endpoint = %v", record[logging.FieldEndpoint])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("unknown format should be rejected")
	}
}
