package ipc

import (
	"morph/internal/api"
	"morph/internal/space"
)

// TaskSnapshot mirrors the HTTP API task DTO for IPC callers.
type TaskSnapshot = api.TaskSnapshot

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon status information.
type StatusResponse struct {
	Running   bool           `json:"running"`
	PID       int            `json:"pid"`
	DBPath    string         `json:"db_path"`
	LockPath  string         `json:"lock_path"`
	APIBind   string         `json:"api_bind"`
	TaskStats map[string]int `json:"task_stats"`
}

// TaskListRequest filters task listing.
type TaskListRequest struct {
	ActiveOnly bool `json:"active_only"`
}

// TaskListResponse contains task entries.
type TaskListResponse struct {
	Tasks []TaskSnapshot `json:"tasks"`
}

// TaskDescribeRequest fetches a single task by id.
type TaskDescribeRequest struct {
	ID string `json:"id"`
}

// TaskDescribeResponse contains a single task.
type TaskDescribeResponse struct {
	Task TaskSnapshot `json:"task"`
}

// TaskStopRequest cancels a pending or converting task.
type TaskStopRequest struct {
	ID string `json:"id"`
}

// TaskStopResponse returns the task after cancellation.
type TaskStopResponse struct {
	Task TaskSnapshot `json:"task"`
}

// TaskRemoveRequest deletes a task permanently.
type TaskRemoveRequest struct {
	ID string `json:"id"`
}

// TaskRemoveResponse acknowledges the removal.
type TaskRemoveResponse struct {
	Removed bool `json:"removed"`
}

// SpaceStatusRequest fetches the budget and usage snapshot.
type SpaceStatusRequest struct{}

// SpaceStatusResponse carries the accountant's current view.
type SpaceStatusResponse struct {
	Budget   space.Budget        `json:"budget"`
	Snapshot space.UsageSnapshot `json:"snapshot"`
}

// SpaceCheckRequest asks whether requiredBytes additional bytes fit.
type SpaceCheckRequest struct {
	RequiredBytes int64 `json:"required_bytes"`
}

// SpaceCheckResponse wraps the accountant's answer.
type SpaceCheckResponse struct {
	Result space.CheckResult `json:"result"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the outcome of the test.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
