package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"morph/internal/admission"
	"morph/internal/space"
	"morph/internal/task"
)

// TaskService exposes the engine's operations as transport-agnostic calls
// returning API DTOs. Both the HTTP surface and the IPC server sit on top
// of it.
type TaskService struct {
	registry   *task.Registry
	admission  *admission.Controller
	accountant *space.Accountant
}

// NewTaskService constructs a TaskService over the engine components.
func NewTaskService(registry *task.Registry, controller *admission.Controller, accountant *space.Accountant) *TaskService {
	return &TaskService{
		registry:   registry,
		admission:  controller,
		accountant: accountant,
	}
}

// Start admits and creates a new task.
func (s *TaskService) Start(ctx context.Context, req StartTaskRequest) (StartTaskResponse, error) {
	created, err := s.admission.Admit(ctx, task.CreateRequest{
		Name:       req.Name,
		OwnerID:    req.OwnerID,
		SourcePath: req.SourcePath,
		SourceSize: req.SourceSize,
		Params: task.Params{
			Format:  req.Parameters.Format,
			Codec:   req.Parameters.Codec,
			Quality: req.Parameters.Quality,
		},
		MaxRetries: req.MaxRetries,
	})
	if err != nil {
		return StartTaskResponse{}, err
	}
	return StartTaskResponse{TaskID: created.ID, Task: FromTask(created)}, nil
}

// Cancel stops a pending or converting task.
func (s *TaskService) Cancel(ctx context.Context, id string) (TaskResponse, error) {
	cancelled, err := s.registry.Cancel(ctx, id)
	if err != nil {
		return TaskResponse{}, err
	}
	return TaskResponse{Task: FromTask(cancelled)}, nil
}

// Delete removes a task permanently.
func (s *TaskService) Delete(ctx context.Context, id string) error {
	return s.registry.Delete(ctx, id)
}

// Get fetches a single task.
func (s *TaskService) Get(id string) (TaskResponse, error) {
	t, err := s.registry.Get(id)
	if err != nil {
		return TaskResponse{}, err
	}
	return TaskResponse{Task: FromTask(t)}, nil
}

// List returns every task.
func (s *TaskService) List() TaskListResponse {
	return TaskListResponse{Tasks: FromTasks(s.registry.List())}
}

// ListActive returns tasks not yet in a terminal state.
func (s *TaskService) ListActive() TaskListResponse {
	return TaskListResponse{Tasks: FromTasks(s.registry.ListActive())}
}

// ListCompleted returns a page of completed tasks, newest first.
func (s *TaskService) ListCompleted(page, size int) (TaskListResponse, error) {
	tasks, err := s.registry.ListCompleted(page, size)
	if err != nil {
		return TaskListResponse{}, err
	}
	return TaskListResponse{Tasks: FromTasks(tasks)}, nil
}

// Stats returns a count of tasks per status.
func (s *TaskService) Stats() map[string]int {
	counts := make(map[string]int)
	for status, n := range s.registry.Stats() {
		counts[string(status)] = n
	}
	return counts
}

// SpaceUsage reports the current budget and usage snapshot.
func (s *TaskService) SpaceUsage() SpaceUsageResponse {
	return SpaceUsageResponse{
		Budget:   s.accountant.Budget(),
		Snapshot: s.accountant.Snapshot(),
	}
}

// CheckSpace answers whether requiredBytes additional bytes fit.
func (s *TaskService) CheckSpace(req SpaceCheckRequest) SpaceCheckResponse {
	return SpaceCheckResponse{Result: s.accountant.CheckSpace(req.RequiredBytes)}
}

// SetSpaceConfig replaces the disk budget.
func (s *TaskService) SetSpaceConfig(req SpaceConfigRequest) (SpaceConfigResponse, error) {
	budget, err := s.accountant.SetBudget(req.MaxTotalBytes, req.ReservedBytes, req.Enabled)
	if err != nil {
		return SpaceConfigResponse{}, err
	}
	return SpaceConfigResponse{Budget: budget}, nil
}

// Classify maps an engine error onto its wire error body. Unexpected errors
// collapse to a generic internal message so internals never leak to callers.
func Classify(err error) ErrorBody {
	switch {
	case err == nil:
		return ErrorBody{}
	case errors.Is(err, task.ErrInsufficientSpace):
		body := ErrorBody{Code: CodeInsufficientSpace, Message: err.Error()}
		var spaceErr *admission.InsufficientSpaceError
		if errors.As(err, &spaceErr) {
			breakdown := spaceErr.Result.Breakdown
			body.Breakdown = &breakdown
		}
		return body
	case errors.Is(err, task.ErrInvalidTransition):
		return ErrorBody{Code: CodeInvalidTransition, Message: err.Error()}
	case errors.Is(err, task.ErrOutOfRange):
		return ErrorBody{Code: CodeOutOfRange, Message: err.Error()}
	case errors.Is(err, task.ErrNotFound):
		return ErrorBody{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, task.ErrConflict):
		return ErrorBody{Code: CodeConflict, Message: err.Error()}
	case errors.Is(err, task.ErrValidation):
		return ErrorBody{Code: CodeValidation, Message: err.Error()}
	default:
		return ErrorBody{Code: CodeInternal, Message: "internal error"}
	}
}

// HTTPStatus maps a wire error code onto its HTTP status.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case CodeValidation, CodeOutOfRange:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidTransition, CodeConflict:
		return http.StatusConflict
	case CodeInsufficientSpace:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// ValidateStartRequest applies the shape checks transports share before
// handing the request to the engine.
func ValidateStartRequest(req StartTaskRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(req.SourcePath) == "" {
		return errors.New("sourcePath is required")
	}
	if req.SourceSize <= 0 {
		return errors.New("sourceSize must be positive")
	}
	return nil
}
