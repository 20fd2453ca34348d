package api

import (
	"time"

	"morph/internal/space"
	"morph/internal/task"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// TaskSnapshot describes a task in a transport-friendly format.
type TaskSnapshot struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	OwnerID      string     `json:"ownerId,omitempty"`
	SourcePath   string     `json:"sourcePath"`
	SourceSize   int64      `json:"sourceSize"`
	Parameters   TaskParams `json:"parameters"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	Speed        string     `json:"speed,omitempty"`
	ETA          string     `json:"eta,omitempty"`
	OutputPath   string     `json:"outputPath,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    string     `json:"createdAt,omitempty"`
	StartedAt    string     `json:"startedAt,omitempty"`
	CompletedAt  string     `json:"completedAt,omitempty"`
	RetryCount   int        `json:"retryCount"`
	MaxRetries   int        `json:"maxRetries"`
}

// TaskParams carries the opaque conversion parameters.
type TaskParams struct {
	Format  string `json:"format,omitempty"`
	Codec   string `json:"codec,omitempty"`
	Quality string `json:"quality,omitempty"`
}

// StartTaskRequest is the payload for task creation.
type StartTaskRequest struct {
	Name       string     `json:"name"`
	OwnerID    string     `json:"ownerId,omitempty"`
	SourcePath string     `json:"sourcePath"`
	SourceSize int64      `json:"sourceSize"`
	Parameters TaskParams `json:"parameters"`
	MaxRetries int        `json:"maxRetries,omitempty"`
}

// StartTaskResponse returns the id of the admitted task.
type StartTaskResponse struct {
	TaskID string       `json:"taskId"`
	Task   TaskSnapshot `json:"task"`
}

// TaskResponse wraps a single task.
type TaskResponse struct {
	Task TaskSnapshot `json:"task"`
}

// TaskListResponse wraps a collection of tasks.
type TaskListResponse struct {
	Tasks []TaskSnapshot `json:"tasks"`
}

// SpaceUsageResponse reports the current usage snapshot and budget.
type SpaceUsageResponse struct {
	Budget   space.Budget        `json:"budget"`
	Snapshot space.UsageSnapshot `json:"snapshot"`
}

// SpaceCheckRequest asks whether requiredBytes additional bytes fit.
type SpaceCheckRequest struct {
	RequiredBytes int64 `json:"requiredBytes"`
}

// SpaceCheckResponse wraps the accountant's answer.
type SpaceCheckResponse struct {
	Result space.CheckResult `json:"result"`
}

// SpaceConfigRequest replaces the disk budget.
type SpaceConfigRequest struct {
	MaxTotalBytes int64 `json:"maxTotalBytes"`
	ReservedBytes int64 `json:"reservedBytes"`
	Enabled       bool  `json:"enabled"`
}

// SpaceConfigResponse acknowledges the new budget.
type SpaceConfigResponse struct {
	Budget space.Budget `json:"budget"`
}

// ErrorCode classifies failures on the wire.
type ErrorCode string

const (
	CodeValidation        ErrorCode = "ValidationError"
	CodeInvalidTransition ErrorCode = "InvalidTransition"
	CodeOutOfRange        ErrorCode = "OutOfRange"
	CodeInsufficientSpace ErrorCode = "InsufficientSpace"
	CodeNotFound          ErrorCode = "NotFound"
	CodeConflict          ErrorCode = "Conflict"
	CodeInternal          ErrorCode = "Internal"
)

// ErrorResponse is the uniform failure envelope.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the classified failure detail.
type ErrorBody struct {
	Code      ErrorCode             `json:"code"`
	Message   string                `json:"message"`
	Breakdown *space.CheckBreakdown `json:"breakdown,omitempty"`
}

// FromTask converts an engine task into its DTO.
func FromTask(t *task.Task) TaskSnapshot {
	if t == nil {
		return TaskSnapshot{}
	}
	return TaskSnapshot{
		ID:         t.ID,
		Name:       t.Name,
		OwnerID:    t.OwnerID,
		SourcePath: t.SourcePath,
		SourceSize: t.SourceSize,
		Parameters: TaskParams{
			Format:  t.Params.Format,
			Codec:   t.Params.Codec,
			Quality: t.Params.Quality,
		},
		Status:       string(t.Status),
		Progress:     t.Progress,
		Speed:        t.Speed,
		ETA:          t.ETA,
		OutputPath:   t.OutputPath,
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    formatTime(&t.CreatedAt),
		StartedAt:    formatTime(t.StartedAt),
		CompletedAt:  formatTime(t.CompletedAt),
		RetryCount:   t.RetryCount,
		MaxRetries:   t.MaxRetries,
	}
}

// FromTasks converts a slice of engine tasks.
func FromTasks(tasks []*task.Task) []TaskSnapshot {
	if len(tasks) == 0 {
		return nil
	}
	out := make([]TaskSnapshot, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, FromTask(t))
	}
	return out
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
