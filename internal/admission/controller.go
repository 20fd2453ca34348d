package admission

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/google/uuid"

	"morph/internal/logging"
	"morph/internal/space"
	"morph/internal/task"
)

// InsufficientSpaceError carries the diagnostic breakdown of a rejected
// admission so callers can surface it.
type InsufficientSpaceError struct {
	Result space.CheckResult
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient space: %s", e.Result.Message)
}

func (e *InsufficientSpaceError) Unwrap() error { return task.ErrInsufficientSpace }

// Controller gates task creation on available space. It reserves the
// estimated bytes before asking the registry to create the task, and
// releases the reservation when creation fails or when the task later
// reaches a terminal state.
type Controller struct {
	accountant *space.Accountant
	registry   *task.Registry
	logger     *slog.Logger
}

// NewController builds a controller. BindRegistry must be called before
// Admit; the registry in turn needs the controller's terminal hook, so
// wiring happens in two steps.
func NewController(accountant *space.Accountant, logger *slog.Logger) *Controller {
	return &Controller{
		accountant: accountant,
		logger:     logging.NewComponentLogger(logger, "admission"),
	}
}

// BindRegistry attaches the registry the controller creates tasks in.
func (c *Controller) BindRegistry(registry *task.Registry) {
	c.registry = registry
}

// OnTaskTerminal releases the reservation held for a task. Registered as a
// registry terminal hook.
func (c *Controller) OnTaskTerminal(t *task.Task) {
	if t == nil {
		return
	}
	c.accountant.Release(t.ID)
}

// Admit runs the admission sequence: compare-and-reserve the estimated
// bytes, create the task, and re-key the reservation to the task id. If
// creation fails after the reservation was taken, the reservation is
// released as the compensating action.
func (c *Controller) Admit(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if c.registry == nil {
		return nil, fmt.Errorf("admission controller has no registry bound")
	}

	required := space.EstimateRequiredBytes(req.SourceSize, req.Params.Codec, req.Params.Format)
	key := "admission:" + uuid.NewString()

	result, err := c.accountant.Reserve(key, required)
	if err != nil {
		return nil, err
	}
	if !result.HasEnoughSpace {
		c.logger.Info("admission rejected",
			logging.String("task_name", req.Name),
			logging.Int64("required_bytes", result.RequiredBytes),
			logging.Int64("available_bytes", result.AvailableBytes),
		)
		return nil, &InsufficientSpaceError{Result: result}
	}

	t, err := c.registry.Create(ctx, req)
	if err != nil {
		c.accountant.Release(key)
		return nil, err
	}
	c.accountant.Rekey(key, t.ID)

	// The task is visible, and its created event published, before the
	// reservation moves off the provisional key. A terminal transition in that
	// window fires the release hook against the task id and misses, so
	// re-check here; Release tolerates the double call.
	if current, err := c.registry.Get(t.ID); err != nil || current.Status.IsTerminal() {
		c.accountant.Release(t.ID)
	}

	c.logger.Info("task admitted",
		logging.String(logging.FieldTaskID, t.ID),
		logging.Int64("reserved_bytes", required),
	)
	return t, nil
}

// CheckTask exposes the accountant's estimate-aware space check.
func (c *Controller) CheckTask(sourceSize int64, codec, format string) space.CheckResult {
	return c.accountant.CheckTask(sourceSize, codec, format)
}
