package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"morph/internal/config"
	"morph/internal/notifications"
	"morph/internal/task"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyConversionCompleted(context.Background(), &task.Task{Name: "movie"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	var captured struct {
		title    string
		tags     string
		priority string
		body     string
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		captured.title = r.Header.Get("Title")
		captured.tags = r.Header.Get("Tags")
		captured.priority = r.Header.Get("Priority")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		captured.body = string(body)
		_ = r.Body.Close()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RequestTimeout = 5
	svc := notifications.NewService(&cfg)

	completed := &task.Task{Name: "Interstellar", OutputPath: "/output/Interstellar.mkv"}
	if err := svc.NotifyConversionCompleted(context.Background(), completed); err != nil {
		t.Fatalf("notification returned error: %v", err)
	}
	if captured.title != "Morph - Complete" {
		t.Fatalf("unexpected title %q", captured.title)
	}
	if captured.body != "Conversion complete: Interstellar\nFile: /output/Interstellar.mkv" {
		t.Fatalf("unexpected body %q", captured.body)
	}
	if captured.tags != "morph,convert,completed" {
		t.Fatalf("unexpected tags %q", captured.tags)
	}

	failed := &task.Task{Name: "Arrival", ErrorMessage: "converter exited with code 1"}
	if err := svc.NotifyConversionFailed(context.Background(), failed); err != nil {
		t.Fatalf("notification returned error: %v", err)
	}
	if captured.title != "Morph - Failed" {
		t.Fatalf("unexpected title %q", captured.title)
	}
	if captured.body != "Conversion failed: Arrival\nconverter exited with code 1" {
		t.Fatalf("unexpected body %q", captured.body)
	}
	if captured.priority != "high" {
		t.Fatalf("expected high priority for failures, got %q", captured.priority)
	}
}

func TestNtfyServiceHonorsToggles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for disabled event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Completion = false
	cfg.Notifications.Errors = false
	cfg.Notifications.Space = false
	svc := notifications.NewService(&cfg)

	ctx := context.Background()
	if err := svc.NotifyConversionCompleted(ctx, &task.Task{Name: "x"}); err != nil {
		t.Fatalf("disabled completion notification errored: %v", err)
	}
	if err := svc.NotifyConversionFailed(ctx, &task.Task{Name: "x"}); err != nil {
		t.Fatalf("disabled failure notification errored: %v", err)
	}
	if err := svc.NotifySpaceLow(ctx, 1, 2); err != nil {
		t.Fatalf("disabled space notification errored: %v", err)
	}
}
