package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"morph/internal/config"
	"morph/internal/task"
)

const userAgent = "Morph/0.1.0"

// Service defines the notification surface exposed to daemon components.
type Service interface {
	NotifyConversionCompleted(ctx context.Context, t *task.Task) error
	NotifyConversionFailed(ctx context.Context, t *task.Task) error
	NotifySpaceLow(ctx context.Context, availableBytes, requiredBytes int64) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
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
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		completion: cfg.Notifications.Completion,
		errors:     cfg.Notifications.Errors,
		space:      cfg.Notifications.Space,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint   string
	client     *http.Client
	completion bool
	errors     bool
	space      bool
}

func (n *ntfyService) NotifyConversionCompleted(ctx context.Context, t *task.Task) error {
	if !n.completion || t == nil {
		return nil
	}
	message := fmt.Sprintf("Conversion complete: %s", t.Name)
	if t.OutputPath != "" {
		message = fmt.Sprintf("%s\nFile: %s", message, t.OutputPath)
	}
	data := payload{
		title:   "Morph - Complete",
		message: message,
		tags:    []string{"morph", "convert", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyConversionFailed(ctx context.Context, t *task.Task) error {
	if !n.errors || t == nil {
		return nil
	}
	reason := strings.TrimSpace(t.ErrorMessage)
	if reason == "" {
		reason = "unknown error"
	}
	data := payload{
		title:    "Morph - Failed",
		message:  fmt.Sprintf("Conversion failed: %s\n%s", t.Name, reason),
		tags:     []string{"morph", "convert", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySpaceLow(ctx context.Context, availableBytes, requiredBytes int64) error {
	if !n.space {
		return nil
	}
	data := payload{
		title:    "Morph - Low Space",
		message:  fmt.Sprintf("Admission rejected: %d bytes required, %d available", requiredBytes, availableBytes),
		tags:     []string{"morph", "space", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Morph - Test",
		message:  "Notification system test",
		tags:     []string{"morph", "test"},
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

func (noopService) NotifyConversionCompleted(context.Context, *task.Task) error { return nil }
func (noopService) NotifyConversionFailed(context.Context, *task.Task) error    { return nil }
func (noopService) NotifySpaceLow(context.Context, int64, int64) error          { return nil }
func (noopService) TestNotification(context.Context) error                      { return nil }
