// Package notifications pushes job milestones to ntfy. When no topic is
// configured a no-op implementation is returned, so callers never branch on
// whether notifications are enabled.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"folio/internal/config"
)

const userAgent = "Folio-Go/0.1.0"

// Service is the notification surface job processing reports through.
type Service interface {
	NotifyJobCompleted(ctx context.Context, workflowName, sandboxName string, steps int) error
	NotifyJobInterrupted(ctx context.Context, workflowName, sandboxName, reason string) error
	NotifyJobCanceled(ctx context.Context, workflowName, sandboxName string) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, workflowName, sandboxName string, steps int) error {
	data := payload{
		title:   "Folio - Job Complete",
		message: fmt.Sprintf("Workflow %s finished on %s (%d steps)", strings.TrimSpace(workflowName), strings.TrimSpace(sandboxName), steps),
		tags:    []string{"folio", "job", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobInterrupted(ctx context.Context, workflowName, sandboxName, reason string) error {
	message := fmt.Sprintf("Workflow %s interrupted on %s", strings.TrimSpace(workflowName), strings.TrimSpace(sandboxName))
	if reason = strings.TrimSpace(reason); reason != "" {
		message = fmt.Sprintf("%s\n%s", message, reason)
	}
	data := payload{
		title:    "Folio - Job Interrupted",
		message:  message,
		tags:     []string{"folio", "job", "interrupted"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobCanceled(ctx context.Context, workflowName, sandboxName string) error {
	data := payload{
		title:   "Folio - Job Canceled",
		message: fmt.Sprintf("Workflow %s canceled on %s", strings.TrimSpace(workflowName), strings.TrimSpace(sandboxName)),
		tags:    []string{"folio", "job", "canceled"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	data := payload{
		title:    "Folio - Error",
		message:  builder.String(),
		tags:     []string{"folio", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Folio - Test",
		message:  "Notification system test",
		tags:     []string{"folio", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, string, string, int) error       { return nil }
func (noopService) NotifyJobInterrupted(context.Context, string, string, string) error  { return nil }
func (noopService) NotifyJobCanceled(context.Context, string, string) error             { return nil }
func (noopService) NotifyError(context.Context, error, string) error                    { return nil }
func (noopService) TestNotification(context.Context) error                              { return nil }
