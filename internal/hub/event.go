package hub

import "time"

// EventType tags the payload carried by an Event.
type EventType string

const (
	EventTaskCreated       EventType = "task_created"
	EventProgressUpdate    EventType = "progress_update"
	EventStatusUpdate      EventType = "status_update"
	EventTaskCompleted     EventType = "task_completed"
	EventTaskDeleted       EventType = "task_deleted"
	EventSpaceStatusUpdate EventType = "space_status_update"
)

// Event is the immutable broadcast envelope. Payload holds the relevant task
// or space snapshot and is never mutated after publish.
type Event struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Well-known group names.
const (
	GroupAll          = "all"
	GroupSpaceMonitor = "space-monitor"
)

// TaskGroup returns the per-task group name.
func TaskGroup(id string) string { return "task:" + id }

// UserGroup returns the per-user group name.
func UserGroup(id string) string { return "user:" + id }
