package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"morph/internal/hub"
	"morph/internal/logging"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	group string
	event hub.Event
}

func (p *recordingPublisher) Publish(group string, evt hub.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{group: group, event: evt})
}

func (p *recordingPublisher) byGroup(group string) []hub.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []hub.Event
	for _, pe := range p.events {
		if pe.group == group {
			out = append(out, pe.event)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newMemoryRegistry(t *testing.T, opts ...RegistryOption) (*Registry, *recordingPublisher) {
	t.Helper()
	publisher := &recordingPublisher{}
	opts = append([]RegistryOption{
		WithClock(&fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}),
	}, opts...)
	registry, err := NewRegistry(context.Background(), nil, publisher, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return registry, publisher
}

func mustCreate(t *testing.T, r *Registry, name string) *Task {
	t.Helper()
	created, err := r.Create(context.Background(), CreateRequest{
		Name:       name,
		SourcePath: "/library/" + name,
		SourceSize: 1 << 20,
	})
	if err != nil {
		t.Fatalf("Create(%q): %v", name, err)
	}
	return created
}

func TestCreateValidation(t *testing.T) {
	registry, _ := newMemoryRegistry(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"empty name", CreateRequest{SourcePath: "/a", SourceSize: 1}},
		{"blank name", CreateRequest{Name: "  ", SourcePath: "/a", SourceSize: 1}},
		{"empty source", CreateRequest{Name: "a", SourceSize: 1}},
		{"zero size", CreateRequest{Name: "a", SourcePath: "/a"}},
		{"negative size", CreateRequest{Name: "a", SourcePath: "/a", SourceSize: -1}},
		{"negative retries", CreateRequest{Name: "a", SourcePath: "/a", SourceSize: 1, MaxRetries: -1}},
	}
	for _, tc := range cases {
		if _, err := registry.Create(ctx, tc.req); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: error = %v, want ErrValidation", tc.name, err)
		}
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	registry, publisher := newMemoryRegistry(t)
	ctx := context.Background()

	created := mustCreate(t, registry, "movie.mkv")
	if created.Status != StatusPending || created.Progress != 0 {
		t.Fatalf("created = %s/%d, want pending/0", created.Status, created.Progress)
	}

	started, err := registry.Start(ctx, created.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Status != StatusConverting || started.StartedAt == nil {
		t.Fatalf("started = %s startedAt=%v", started.Status, started.StartedAt)
	}

	updated, err := registry.UpdateProgress(ctx, created.ID, 55, "2.1x", "00:04:12")
	if err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if updated.Progress != 55 || updated.Speed != "2.1x" {
		t.Fatalf("progress = %d speed = %q", updated.Progress, updated.Speed)
	}

	completed, err := registry.Complete(ctx, created.ID, "/out/movie.mkv")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completed.Status != StatusCompleted || completed.Progress != 100 {
		t.Fatalf("completed = %s/%d, want completed/100", completed.Status, completed.Progress)
	}
	if completed.CompletedAt == nil || completed.OutputPath != "/out/movie.mkv" {
		t.Fatalf("completedAt=%v output=%q", completed.CompletedAt, completed.OutputPath)
	}
	if completed.Speed != "" || completed.ETA != "" {
		t.Fatalf("terminal task retains speed/eta: %q %q", completed.Speed, completed.ETA)
	}

	taskEvents := publisher.byGroup(hub.TaskGroup(created.ID))
	wantTypes := []hub.EventType{
		hub.EventTaskCreated,
		hub.EventStatusUpdate,
		hub.EventProgressUpdate,
		hub.EventTaskCompleted,
	}
	if len(taskEvents) != len(wantTypes) {
		t.Fatalf("got %d task events, want %d", len(taskEvents), len(wantTypes))
	}
	for i, want := range wantTypes {
		if taskEvents[i].Type != want {
			t.Errorf("event %d = %s, want %s", i, taskEvents[i].Type, want)
		}
	}
	if allEvents := publisher.byGroup(hub.GroupAll); len(allEvents) != len(wantTypes) {
		t.Fatalf("got %d firehose events, want %d", len(allEvents), len(wantTypes))
	}
}

func TestRejectedTransitionsLeaveTaskUntouched(t *testing.T) {
	registry, _ := newMemoryRegistry(t)
	ctx := context.Background()

	created := mustCreate(t, registry, "movie.mkv")

	// Completing straight from pending is not allowed.
	if _, err := registry.Complete(ctx, created.ID, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Complete from pending: %v", err)
	}
	var transition *TransitionError
	_, err := registry.Complete(ctx, created.ID, "")
	if !errors.As(err, &transition) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if transition.From != StatusPending || transition.Requested != StatusCompleted {
		t.Fatalf("transition detail = %s -> %s", transition.From, transition.Requested)
	}

	if _, err := registry.UpdateProgress(ctx, created.ID, 10, "", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("UpdateProgress on pending: %v", err)
	}

	current, err := registry.Get(created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if current.Status != StatusPending || current.Progress != 0 {
		t.Fatalf("rejected transitions mutated the task: %s/%d", current.Status, current.Progress)
	}
}

func TestProgressBounds(t *testing.T) {
	registry, _ := newMemoryRegistry(t)
	ctx := context.Background()

	created := mustCreate(t, registry, "movie.mkv")
	if _, err := registry.Start(ctx, created.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, progress := range []int{-1, 101, 500} {
		if _, err := registry.UpdateProgress(ctx, created.ID, progress, "", ""); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("progress %d: error = %v, want ErrOutOfRange", progress, err)
		}
	}
	for _, progress := range []int{0, 100} {
		if _, err := registry.UpdateProgress(ctx, created.ID, progress, "", ""); err != nil {
			t.Errorf("progress %d: %v", progress, err)
		}
	}

	// Non-monotonic updates are accepted as reported.
	if _, err := registry.UpdateProgress(ctx, created.ID, 40, "", ""); err != nil {
		t.Fatalf("regressing progress: %v", err)
	}
}

func TestFailAllowedFromAnyNonTerminalState(t *testing.T) {
	registry, _ := newMemoryRegistry(t)
	ctx := context.Background()

	pending := mustCreate(t, registry, "pending.mkv")
	failed, err := registry.Fail(ctx, pending.ID, "worker crashed before start")
	if err != nil {
		t.Fatalf("Fail from pending: %v", err)
	}
	if failed.Status != StatusFailed || failed.ErrorMessage == "" {
		t.Fatalf("failed = %s message=%q", failed.Status, failed.ErrorMessage)
	}

	if _, err := registry.Fail(ctx, pending.ID, "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Fail on terminal task: %v", err)
	}
}

func TestCancelIsTerminal(t *testing.T) {
	registry, _ := newMemoryRegistry(t)
	ctx := context.Background()

	created := mustCreate(t, registry, "movie.mkv")
	cancelled, err := registry.Cancel(ctx, created.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled || cancelled.CompletedAt == nil {
		t.Fatalf("cancelled = %s completedAt=%v", cancelled.Status, cancelled.CompletedAt)
	}
	if _, err := registry.Cancel(ctx, created.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double cancel: %v", err)
	}
	if _, err := registry.Start(ctx, created.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("start after cancel: %v", err)
	}
}

func TestTerminalHookFiresOncePerTask(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)
	registry, _ := newMemoryRegistry(t, WithTerminalHook(func(task *Task) {
		mu.Lock()
		seen[task.ID]++
		mu.Unlock()
	}))
	ctx := context.Background()

	completed := mustCreate(t, registry, "a.mkv")
	if _, err := registry.Start(ctx, completed.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := registry.Complete(ctx, completed.ID, ""); err != nil {
		t.Fatal(err)
	}

	// Deleting an already-terminal task must not release again.
	if err := registry.Delete(ctx, completed.ID); err != nil {
		t.Fatal(err)
	}

	deletedWhileActive := mustCreate(t, registry, "b.mkv")
	if err := registry.Delete(ctx, deletedWhileActive.ID); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen[completed.ID] != 1 {
		t.Errorf("hook ran %d times for completed task, want 1", seen[completed.ID])
	}
	if seen[deletedWhileActive.ID] != 1 {
		t.Errorf("hook ran %d times for deleted active task, want 1", seen[deletedWhileActive.ID])
	}
}

func TestListCompletedPagination(t *testing.T) {
	registry, _ := newMemoryRegistry(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		created := mustCreate(t, registry, fmt.Sprintf("movie-%d.mkv", i))
		if _, err := registry.Start(ctx, created.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := registry.Complete(ctx, created.ID, ""); err != nil {
			t.Fatal(err)
		}
	}

	first, err := registry.ListCompleted(1, 2)
	if err != nil {
		t.Fatalf("ListCompleted: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("page 1 size = %d, want 2", len(first))
	}
	// Newest completion first.
	if first[0].Name != "movie-4.mkv" || first[1].Name != "movie-3.mkv" {
		t.Fatalf("page 1 order = %s, %s", first[0].Name, first[1].Name)
	}

	last, err := registry.ListCompleted(3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 1 || last[0].Name != "movie-0.mkv" {
		t.Fatalf("page 3 = %v", last)
	}

	beyond, err := registry.ListCompleted(4, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(beyond) != 0 {
		t.Fatalf("page beyond end returned %d tasks", len(beyond))
	}

	if _, err := registry.ListCompleted(0, 2); !errors.Is(err, ErrValidation) {
		t.Fatalf("page 0: %v", err)
	}
	if _, err := registry.ListCompleted(1, 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("size 0: %v", err)
	}
	if _, err := registry.ListCompleted(1, 101); !errors.Is(err, ErrValidation) {
		t.Fatalf("size 101: %v", err)
	}
}

func TestListActiveAndStats(t *testing.T) {
	registry, _ := newMemoryRegistry(t)
	ctx := context.Background()

	a := mustCreate(t, registry, "a.mkv")
	b := mustCreate(t, registry, "b.mkv")
	if _, err := registry.Start(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	c := mustCreate(t, registry, "c.mkv")
	if _, err := registry.Cancel(ctx, c.ID); err != nil {
		t.Fatal(err)
	}

	active := registry.ListActive()
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}
	if active[0].ID != a.ID || active[1].ID != b.ID {
		t.Fatalf("active order = %s, %s", active[0].Name, active[1].Name)
	}

	stats := registry.Stats()
	if stats[StatusPending] != 1 || stats[StatusConverting] != 1 || stats[StatusCancelled] != 1 {
		t.Fatalf("stats = %v", stats)
	}
}

func TestUnknownTaskID(t *testing.T) {
	registry, _ := newMemoryRegistry(t)
	ctx := context.Background()

	if _, err := registry.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get: %v", err)
	}
	if _, err := registry.Start(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Start: %v", err)
	}
	if err := registry.Delete(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete: %v", err)
	}
}

func TestOwnerEventsReachUserGroup(t *testing.T) {
	registry, publisher := newMemoryRegistry(t)

	created, err := registry.Create(context.Background(), CreateRequest{
		Name:       "owned.mkv",
		OwnerID:    "alice",
		SourcePath: "/library/owned.mkv",
		SourceSize: 1,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	userEvents := publisher.byGroup(hub.UserGroup("alice"))
	if len(userEvents) != 1 || userEvents[0].TaskID != created.ID {
		t.Fatalf("user group events = %v", userEvents)
	}
}

func TestIncrementRetryOnlyWhileConverting(t *testing.T) {
	registry, _ := newMemoryRegistry(t)
	ctx := context.Background()
	created := mustCreate(t, registry, "movie.mkv")

	_, err := registry.IncrementRetry(ctx, created.ID)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("retry on pending task: got %v, want ErrConflict", err)
	}
	if errors.Is(err, ErrInvalidTransition) {
		t.Fatal("retry rejection must not read as a lifecycle transition")
	}

	if _, err := registry.Start(ctx, created.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	bumped, err := registry.IncrementRetry(ctx, created.ID)
	if err != nil {
		t.Fatalf("IncrementRetry: %v", err)
	}
	if bumped.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", bumped.RetryCount)
	}

	if _, err := registry.Cancel(ctx, created.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := registry.IncrementRetry(ctx, created.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("retry on cancelled task: got %v, want ErrConflict", err)
	}
}
