package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"folio/internal/config"
	"folio/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyJobCompleted(context.Background(), "digitize", "run-1", 3); err != nil {
		t.Fatalf("noop notifier returned %v", err)
	}
}

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCapturingService(t *testing.T, got *captured) notifications.Service {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.title = r.Header.Get("Title")
		got.tags = r.Header.Get("Tags")
		got.priority = r.Header.Get("Priority")
		got.body = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	return notifications.NewService(&cfg)
}

func TestNotifyJobCompletedFormatsMessage(t *testing.T) {
	var got captured
	svc := newCapturingService(t, &got)

	if err := svc.NotifyJobCompleted(context.Background(), "digitize", "run-1", 3); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.title != "Folio - Job Complete" {
		t.Fatalf("title = %q", got.title)
	}
	if got.body != "Workflow digitize finished on run-1 (3 steps)" {
		t.Fatalf("body = %q", got.body)
	}
	if got.tags != "folio,job,completed" {
		t.Fatalf("tags = %q", got.tags)
	}
}

func TestNotifyJobInterruptedCarriesReasonAndPriority(t *testing.T) {
	var got captured
	svc := newCapturingService(t, &got)

	if err := svc.NotifyJobInterrupted(context.Background(), "digitize", "run-1", "page decode failed"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.priority != "high" {
		t.Fatalf("priority = %q, want high", got.priority)
	}
	if got.body != "Workflow digitize interrupted on run-1\npage decode failed" {
		t.Fatalf("body = %q", got.body)
	}
}

func TestSendSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic quota exceeded", http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)

	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected an error for a non-2xx response")
	}
}
