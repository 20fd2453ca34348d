package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"log/slog"

	"github.com/gofrs/flock"

	"morph/internal/admission"
	"morph/internal/api"
	"morph/internal/config"
	"morph/internal/hub"
	"morph/internal/ipc"
	"morph/internal/logging"
	"morph/internal/notifications"
	"morph/internal/runner"
	"morph/internal/settings"
	"morph/internal/space"
	"morph/internal/stream"
	"morph/internal/task"
)

// Setting keys for the operator-adjusted budget. Config supplies the
// defaults; values written here take precedence across restarts.
const (
	settingBudgetTotal    = "space.total_bytes"
	settingBudgetReserved = "space.reserved_bytes"
	settingBudgetEnabled  = "space.enabled"
)

// Daemon wires the engine together and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *task.Store
	settings *settings.Store

	hub        *hub.Hub
	registry   *task.Registry
	accountant *space.Accountant
	admission  *admission.Controller
	runner     *runner.Runner
	notifier   notifications.Service
	tasks      *api.TaskService
	stream     *stream.Manager

	lockPath string
	lock     *flock.Flock

	running        atomic.Bool
	cancel         context.CancelFunc
	accountantDone chan error
	wg             sync.WaitGroup
}

// New assembles a daemon from configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	store, err := task.OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	settingsStore, err := settings.Open(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open settings store: %w", err)
	}

	broadcast := hub.New(logger, cfg.Stream.SendBuffer)
	accountant := space.NewAccountant(cfg, broadcast, logger)
	controller := admission.NewController(accountant, logger)

	registry, err := task.NewRegistry(ctx, store, broadcast, logger,
		task.WithTerminalHook(controller.OnTaskTerminal),
	)
	if err != nil {
		settingsStore.Close()
		store.Close()
		return nil, fmt.Errorf("open registry: %w", err)
	}
	controller.BindRegistry(registry)

	notifier := notifications.NewService(cfg)

	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      store,
		settings:   settingsStore,
		hub:        broadcast,
		registry:   registry,
		accountant: accountant,
		admission:  controller,
		runner:     runner.New(cfg, registry, notifier, logger),
		notifier:   notifier,
		tasks:      api.NewTaskService(registry, controller, accountant),
		stream:     stream.NewManager(cfg, broadcast, logger),
		lockPath:   filepath.Join(cfg.Paths.LogDir, "morphd.lock"),
	}
	d.lock = flock.New(d.lockPath)

	if err := d.loadBudget(ctx); err != nil {
		d.logger.Warn("could not load persisted budget, using config values", logging.Error(err))
	}
	return d, nil
}

// Tasks exposes the shared task service.
func (d *Daemon) Tasks() *api.TaskService { return d.tasks }

// Stream exposes the websocket connection manager.
func (d *Daemon) Stream() *stream.Manager { return d.stream }

// Notifier exposes the notification service.
func (d *Daemon) Notifier() notifications.Service { return d.notifier }

// StatusInfo reports daemon runtime detail for the control socket.
func (d *Daemon) StatusInfo() ipc.StatusInfo {
	return ipc.StatusInfo{
		Running:  d.running.Load(),
		PID:      os.Getpid(),
		DBPath:   d.store.Path(),
		LockPath: d.lockPath,
		APIBind:  d.cfg.Paths.APIBind,
	}
}

// Start acquires the daemon lock and launches the background services: the
// space accountant refresh loop and the conversion runner.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another morph daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.accountantDone = make(chan error, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		err := d.accountant.Run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("space accountant stopped", logging.Error(err))
		}
		d.accountantDone <- err
	}()

	if err := d.runner.Start(runCtx); err != nil {
		cancel()
		d.wg.Wait()
		_ = d.lock.Unlock()
		d.cancel = nil
		return fmt.Errorf("start runner: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("morph daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop winds down background services and releases the daemon lock. Errors
// collected from the supervised services surface in the log here rather
// than being dropped.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.runner.Stop()
	if err := d.runner.LastError(); err != nil {
		d.logger.Warn("runner finished with error", logging.Error(err))
	}
	d.wg.Wait()
	select {
	case err := <-d.accountantDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("accountant finished with error", logging.Error(err))
		}
	default:
	}
	d.stream.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("morph daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.settings != nil {
		errs = append(errs, d.settings.Close())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}

// SetSpaceConfig replaces the disk budget and persists it so the new values
// survive restarts.
func (d *Daemon) SetSpaceConfig(ctx context.Context, req api.SpaceConfigRequest) (api.SpaceConfigResponse, error) {
	resp, err := d.tasks.SetSpaceConfig(req)
	if err != nil {
		return resp, err
	}
	if err := d.persistBudget(ctx, req); err != nil {
		d.logger.Warn("could not persist budget", logging.Error(err))
	}
	return resp, nil
}

func (d *Daemon) persistBudget(ctx context.Context, req api.SpaceConfigRequest) error {
	if err := d.settings.SetInt64(ctx, settingBudgetTotal, req.MaxTotalBytes); err != nil {
		return err
	}
	if err := d.settings.SetInt64(ctx, settingBudgetReserved, req.ReservedBytes); err != nil {
		return err
	}
	return d.settings.SetBool(ctx, settingBudgetEnabled, req.Enabled)
}

func (d *Daemon) loadBudget(ctx context.Context) error {
	if _, found, err := d.settings.Get(ctx, settingBudgetTotal); err != nil || !found {
		return err
	}

	current := d.accountant.Budget()
	total, err := d.settings.GetInt64(ctx, settingBudgetTotal, current.TotalBytes)
	if err != nil {
		return err
	}
	reserved, err := d.settings.GetInt64(ctx, settingBudgetReserved, current.ReservedBytes)
	if err != nil {
		return err
	}
	enabled, err := d.settings.GetBool(ctx, settingBudgetEnabled, current.Enabled)
	if err != nil {
		return err
	}
	if _, err := d.accountant.SetBudget(total, reserved, enabled); err != nil {
		return fmt.Errorf("apply persisted budget: %w", err)
	}
	return nil
}
