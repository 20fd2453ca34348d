package task

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"morph/internal/hub"
	"morph/internal/logging"
)

// Publisher receives one event per successful registry mutation.
type Publisher interface {
	Publish(group string, evt hub.Event)
}

// Clock supplies timestamps; swapped out in tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator allocates unique task identifiers.
type IDGenerator interface {
	NewID() string
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type uuidGenerator struct{}

func (uuidGenerator) NewID() string { return uuid.NewString() }

// TerminalHook observes tasks entering a terminal state (or being deleted
// while still active). The admission controller uses this to release its
// space reservation.
type TerminalHook func(t *Task)

// Registry owns the authoritative state of every task and enforces the
// lifecycle state machine. Mutations for a given task id are serialized;
// different ids proceed in parallel. Every successful mutation publishes
// exactly one event before returning.
type Registry struct {
	store     *Store
	publisher Publisher
	logger    *slog.Logger
	clock     Clock
	idgen     IDGenerator
	hooks     []TerminalHook

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	task *Task
}

// RegistryOption configures optional registry behavior.
type RegistryOption func(*Registry)

// WithClock overrides the timestamp source.
func WithClock(clock Clock) RegistryOption {
	return func(r *Registry) { r.clock = clock }
}

// WithIDGenerator overrides task id allocation.
func WithIDGenerator(gen IDGenerator) RegistryOption {
	return func(r *Registry) { r.idgen = gen }
}

// WithTerminalHook registers a hook invoked after terminal transitions.
func WithTerminalHook(hook TerminalHook) RegistryOption {
	return func(r *Registry) { r.hooks = append(r.hooks, hook) }
}

// NewRegistry constructs a registry, loading any persisted tasks from store.
// store may be nil for a purely in-memory registry (tests).
func NewRegistry(ctx context.Context, store *Store, publisher Publisher, logger *slog.Logger, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		store:     store,
		publisher: publisher,
		logger:    logging.NewComponentLogger(logger, "registry"),
		clock:     systemClock{},
		idgen:     uuidGenerator{},
		entries:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}

	if store != nil {
		tasks, err := store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("load persisted tasks: %w", err)
		}
		for _, t := range tasks {
			r.entries[t.ID] = &entry{task: t}
		}
	}
	return r, nil
}

// CreateRequest carries the inputs for a new task.
type CreateRequest struct {
	Name       string
	OwnerID    string
	SourcePath string
	SourceSize int64
	Params     Params
	MaxRetries int
}

// Create allocates a new task in Pending with progress zero.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*Task, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: task name must not be empty", ErrValidation)
	}
	if strings.TrimSpace(req.SourcePath) == "" {
		return nil, fmt.Errorf("%w: source path must not be empty", ErrValidation)
	}
	if req.SourceSize <= 0 {
		return nil, fmt.Errorf("%w: source size must be positive", ErrValidation)
	}
	if req.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries must not be negative", ErrValidation)
	}

	t := &Task{
		ID:         r.idgen.NewID(),
		Name:       name,
		OwnerID:    strings.TrimSpace(req.OwnerID),
		SourcePath: strings.TrimSpace(req.SourcePath),
		SourceSize: req.SourceSize,
		Params:     req.Params,
		Status:     StatusPending,
		Progress:   0,
		CreatedAt:  r.clock.Now(),
		MaxRetries: req.MaxRetries,
	}

	if r.store != nil {
		if err := r.store.Insert(ctx, t); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	r.entries[t.ID] = &entry{task: t}
	r.mu.Unlock()

	r.publishTask(hub.EventTaskCreated, t)
	return t.Clone(), nil
}

// Start moves a pending task into Converting, stamping the start time and
// resetting progress.
func (r *Registry) Start(ctx context.Context, id string) (*Task, error) {
	return r.mutate(ctx, id, func(t *Task) (hub.EventType, error) {
		if t.Status != StatusPending {
			return "", newTransitionError(id, t.Status, StatusConverting)
		}
		now := r.clock.Now()
		t.Status = StatusConverting
		t.StartedAt = &now
		t.Progress = 0
		return hub.EventStatusUpdate, nil
	})
}

// UpdateProgress records progress for a converting task. progress must lie in
// [0,100]; monotonicity is not enforced, matching the reporting source.
func (r *Registry) UpdateProgress(ctx context.Context, id string, progress int, speed, eta string) (*Task, error) {
	return r.mutate(ctx, id, func(t *Task) (hub.EventType, error) {
		if t.Status != StatusConverting {
			return "", newTransitionError(id, t.Status, StatusConverting)
		}
		if progress < 0 || progress > 100 {
			return "", fmt.Errorf("%w: progress %d outside [0,100]", ErrOutOfRange, progress)
		}
		t.Progress = progress
		t.Speed = speed
		t.ETA = eta
		return hub.EventProgressUpdate, nil
	})
}

// Complete finishes a converting task, forcing progress to 100.
func (r *Registry) Complete(ctx context.Context, id string, outputPath string) (*Task, error) {
	return r.mutate(ctx, id, func(t *Task) (hub.EventType, error) {
		if t.Status != StatusConverting {
			return "", newTransitionError(id, t.Status, StatusCompleted)
		}
		now := r.clock.Now()
		t.Status = StatusCompleted
		t.Progress = 100
		t.ETA = ""
		t.Speed = ""
		t.CompletedAt = &now
		if strings.TrimSpace(outputPath) != "" {
			t.OutputPath = outputPath
		}
		return hub.EventTaskCompleted, nil
	})
}

// Fail marks a task failed. Permitted from any non-terminal state.
func (r *Registry) Fail(ctx context.Context, id, message string) (*Task, error) {
	return r.mutate(ctx, id, func(t *Task) (hub.EventType, error) {
		if t.Status.IsTerminal() {
			return "", newTransitionError(id, t.Status, StatusFailed)
		}
		now := r.clock.Now()
		t.Status = StatusFailed
		t.ErrorMessage = message
		t.ETA = ""
		t.Speed = ""
		t.CompletedAt = &now
		return hub.EventStatusUpdate, nil
	})
}

// Cancel stops a pending or converting task. Cancellation is cooperative:
// the external worker observes the status change and stops itself.
func (r *Registry) Cancel(ctx context.Context, id string) (*Task, error) {
	return r.mutate(ctx, id, func(t *Task) (hub.EventType, error) {
		if !t.Status.CanTransitionTo(StatusCancelled) {
			return "", newTransitionError(id, t.Status, StatusCancelled)
		}
		now := r.clock.Now()
		t.Status = StatusCancelled
		t.ETA = ""
		t.Speed = ""
		t.CompletedAt = &now
		return hub.EventStatusUpdate, nil
	})
}

// IncrementRetry bumps the retry counter of a converting task.
func (r *Registry) IncrementRetry(ctx context.Context, id string) (*Task, error) {
	return r.mutate(ctx, id, func(t *Task) (hub.EventType, error) {
		if t.Status != StatusConverting {
			return "", fmt.Errorf("%w: task %s is %s, retries only count while converting", ErrConflict, id, t.Status)
		}
		t.RetryCount++
		return hub.EventStatusUpdate, nil
	})
}

// Get returns a copy of the task.
func (r *Registry) Get(id string) (*Task, error) {
	ent, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.task.Clone(), nil
}

// List returns copies of all tasks ordered by creation time.
func (r *Registry) List() []*Task {
	return r.collect(func(*Task) bool { return true })
}

// ListActive returns tasks not yet in a terminal state.
func (r *Registry) ListActive() []*Task {
	return r.collect(func(t *Task) bool { return !t.Status.IsTerminal() })
}

// ListCompleted returns completed tasks ordered by completion time
// descending. page is 1-indexed; size must lie in [1,100].
func (r *Registry) ListCompleted(page, size int) ([]*Task, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w: page must be at least 1", ErrValidation)
	}
	if size < 1 || size > 100 {
		return nil, fmt.Errorf("%w: page size must lie in [1,100]", ErrValidation)
	}

	completed := r.collect(func(t *Task) bool { return t.Status == StatusCompleted })
	sort.SliceStable(completed, func(i, j int) bool {
		ti, tj := completed[i].CompletedAt, completed[j].CompletedAt
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})

	start := (page - 1) * size
	if start >= len(completed) {
		return nil, nil
	}
	end := start + size
	if end > len(completed) {
		end = len(completed)
	}
	return completed[start:end], nil
}

// Delete removes a task permanently. Deleting an active task releases its
// reservation through the terminal hooks.
func (r *Registry) Delete(ctx context.Context, id string) error {
	ent, err := r.entry(id)
	if err != nil {
		return err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	r.mu.Lock()
	current, ok := r.entries[id]
	if !ok || current != ent {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.entries, id)
	r.mu.Unlock()

	if r.store != nil {
		if _, err := r.store.Remove(ctx, id); err != nil {
			r.logger.Warn("failed to remove persisted task",
				logging.String(logging.FieldTaskID, id),
				logging.Error(err),
			)
		}
	}

	wasActive := !ent.task.Status.IsTerminal()
	snapshot := ent.task.Clone()
	r.publishTask(hub.EventTaskDeleted, snapshot)
	if wasActive {
		r.runTerminalHooks(snapshot)
	}
	return nil
}

// Stats returns a count of tasks grouped by status.
func (r *Registry) Stats() map[Status]int {
	stats := make(map[Status]int)
	for _, t := range r.List() {
		stats[t.Status]++
	}
	return stats
}

func (r *Registry) entry(id string) (*entry, error) {
	r.mu.RLock()
	ent, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ent, nil
}

// mutate applies fn under the per-task lock, persists the result, and
// publishes the event fn selected. fn must either mutate and return an event
// type or return an error and leave the task untouched.
func (r *Registry) mutate(ctx context.Context, id string, fn func(*Task) (hub.EventType, error)) (*Task, error) {
	ent, err := r.entry(id)
	if err != nil {
		return nil, err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	evtType, err := fn(ent.task)
	if err != nil {
		return nil, err
	}

	if r.store != nil {
		if err := r.store.Update(ctx, ent.task); err != nil {
			// Memory stays authoritative; persistence catches up on the
			// next successful write.
			r.logger.Warn("failed to persist task update",
				logging.String(logging.FieldTaskID, id),
				logging.Error(err),
			)
		}
	}

	snapshot := ent.task.Clone()
	r.publishTask(evtType, snapshot)
	if snapshot.Status.IsTerminal() {
		r.runTerminalHooks(snapshot)
	}
	return snapshot, nil
}

func (r *Registry) publishTask(evtType hub.EventType, t *Task) {
	if r.publisher == nil {
		return
	}
	evt := hub.Event{
		Type:      evtType,
		TaskID:    t.ID,
		Payload:   t,
		Timestamp: r.clock.Now(),
	}
	r.publisher.Publish(hub.TaskGroup(t.ID), evt)
	r.publisher.Publish(hub.GroupAll, evt)
	if t.OwnerID != "" {
		r.publisher.Publish(hub.UserGroup(t.OwnerID), evt)
	}
}

func (r *Registry) runTerminalHooks(t *Task) {
	for _, hook := range r.hooks {
		hook(t)
	}
}

func (r *Registry) collect(keep func(*Task) bool) []*Task {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, ent := range r.entries {
		entries = append(entries, ent)
	}
	r.mu.RUnlock()

	tasks := make([]*Task, 0, len(entries))
	for _, ent := range entries {
		ent.mu.Lock()
		if keep(ent.task) {
			tasks = append(tasks, ent.task.Clone())
		}
		ent.mu.Unlock()
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks
}
