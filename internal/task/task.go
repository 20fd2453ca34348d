package task

import "time"

// Params holds the immutable conversion parameters. The values are opaque to
// the engine; only the admission controller inspects codec and format, and
// then only to size its reservation estimate.
type Params struct {
	Format  string
	Codec   string
	Quality string
}

// Task represents a conversion job tracked by the registry.
type Task struct {
	ID           string
	Name         string
	OwnerID      string
	SourcePath   string
	SourceSize   int64
	Params       Params
	Status       Status
	Progress     int
	Speed        string
	ETA          string
	OutputPath   string
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	RetryCount   int
	MaxRetries   int
}

// Clone returns a deep copy so callers can never mutate registry state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.StartedAt != nil {
		started := *t.StartedAt
		cp.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		cp.CompletedAt = &completed
	}
	return &cp
}

// IsActive reports whether the task still occupies reserved capacity.
func (t *Task) IsActive() bool {
	return t != nil && !t.Status.IsTerminal()
}
