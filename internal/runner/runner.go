package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"morph/internal/config"
	"morph/internal/logging"
	"morph/internal/notifications"
	"morph/internal/task"
)

// Runner drives pending tasks through the external converter. It polls the
// registry, claims work by moving tasks into Converting, and reports
// progress and outcomes back through registry transitions. Cancellation is
// cooperative: a watcher observes the task status and kills the converter
// when the task leaves Converting.
type Runner struct {
	cfg       *config.Config
	registry  *task.Registry
	converter Converter
	notifier  notifications.Service
	logger    *slog.Logger

	pollInterval time.Duration
	errorRetry   time.Duration
	timeout      time.Duration

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	inFlight map[string]struct{}
	slots    chan struct{}
}

// New constructs a runner over the registry.
func New(cfg *config.Config, registry *task.Registry, notifier notifications.Service, logger *slog.Logger) *Runner {
	concurrent := cfg.Converter.MaxConcurrent
	if concurrent < 1 {
		concurrent = 1
	}
	return &Runner{
		cfg:          cfg,
		registry:     registry,
		converter:    NewCLI(cfg.Converter.Command),
		notifier:     notifier,
		logger:       logging.NewComponentLogger(logger, "runner"),
		pollInterval: time.Duration(cfg.Workflow.PollInterval) * time.Second,
		errorRetry:   time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		timeout:      time.Duration(cfg.Converter.TimeoutSecs) * time.Second,
		inFlight:     make(map[string]struct{}),
		slots:        make(chan struct{}, concurrent),
	}
}

// SetConverter overrides the external converter. Used in tests.
func (r *Runner) SetConverter(converter Converter) {
	r.converter = converter
}

// Start begins background processing.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("runner already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.lastErr = nil

	r.wg.Add(1)
	go r.run(runCtx)
	return nil
}

// Stop terminates background processing and waits for in-flight conversions
// to wind down.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

// LastError reports the most recent processing failure, observable at
// shutdown.
func (r *Runner) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Runner) setLastError(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

func (r *Runner) run(ctx context.Context) {
	defer r.wg.Done()

	poll := r.pollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}

	for {
		claimed := r.claimNext(ctx)
		if ctx.Err() != nil {
			return
		}
		if claimed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(poll):
		}
	}
}

// claimNext picks the oldest pending task not already in flight and launches
// a conversion for it. Returns false when nothing was claimable.
func (r *Runner) claimNext(ctx context.Context) bool {
	var next *task.Task
	r.mu.Lock()
	for _, t := range r.registry.ListActive() {
		if t.Status != task.StatusPending {
			continue
		}
		if _, busy := r.inFlight[t.ID]; busy {
			continue
		}
		next = t
		break
	}
	if next != nil {
		r.inFlight[next.ID] = struct{}{}
	}
	r.mu.Unlock()

	if next == nil {
		return false
	}

	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		r.release(next.ID)
		return false
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { <-r.slots }()
		defer r.release(next.ID)
		r.process(ctx, next.ID)
	}()
	return true
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	delete(r.inFlight, id)
	r.mu.Unlock()
}

func (r *Runner) process(ctx context.Context, id string) {
	logger := r.logger.With(logging.String(logging.FieldTaskID, id))

	started, err := r.registry.Start(ctx, id)
	if err != nil {
		// Claimed by someone else or already moved on.
		logger.Debug("could not claim task", logging.Error(err))
		return
	}
	logger.Info("conversion started")

	for attempt := 0; ; attempt++ {
		outputPath, convErr := r.convertOnce(ctx, started)
		if convErr == nil {
			completed, err := r.registry.Complete(ctx, id, outputPath)
			if err != nil {
				logger.Warn("could not complete task", logging.Error(err))
				return
			}
			logger.Info("conversion completed", logging.String("output_path", outputPath))
			r.notifyCompleted(ctx, completed)
			return
		}

		if r.taskLeftConverting(id) {
			// Cancelled (or failed) out from under us; nothing to report.
			logger.Info("conversion stopped by status change")
			return
		}
		if ctx.Err() != nil {
			return
		}

		current, err := r.registry.Get(id)
		if err != nil {
			return
		}
		if current.RetryCount < current.MaxRetries {
			if _, err := r.registry.IncrementRetry(ctx, id); err != nil {
				logger.Warn("could not record retry", logging.Error(err))
			}
			logger.Warn("conversion attempt failed, retrying",
				logging.Int("attempt", attempt+1),
				logging.Error(convErr),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.errorRetry):
			}
			continue
		}

		r.setLastError(convErr)
		failed, err := r.registry.Fail(ctx, id, convErr.Error())
		if err != nil {
			logger.Warn("could not fail task", logging.Error(err))
			return
		}
		logger.Error("conversion failed", logging.Error(convErr))
		r.notifyFailed(ctx, failed)
		return
	}
}

// convertOnce runs a single converter invocation, streaming progress into
// the registry and honoring cooperative cancellation.
func (r *Runner) convertOnce(ctx context.Context, t *task.Task) (string, error) {
	convCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.timeout > 0 {
		var timeoutCancel context.CancelFunc
		convCtx, timeoutCancel = context.WithTimeout(convCtx, r.timeout)
		defer timeoutCancel()
	}

	watchDone := make(chan struct{})
	defer close(watchDone)
	go r.watchForCancellation(convCtx, cancel, t.ID, watchDone)

	req := ConvertRequest{
		SourcePath: t.SourcePath,
		OutputDir:  r.cfg.Paths.OutputDir,
		Format:     t.Params.Format,
		Codec:      t.Params.Codec,
		Quality:    t.Params.Quality,
	}
	return r.converter.Convert(convCtx, req, func(update ProgressUpdate) {
		percent := int(update.Percent)
		if percent < 0 || percent > 100 {
			return
		}
		if _, err := r.registry.UpdateProgress(ctx, t.ID, percent, update.Speed, update.ETA); err != nil {
			// Status changed; the watcher will stop the converter.
			return
		}
	})
}

// watchForCancellation cancels the conversion context once the task is no
// longer Converting.
func (r *Runner) watchForCancellation(ctx context.Context, cancel context.CancelFunc, id string, done <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.taskLeftConverting(id) {
				cancel()
				return
			}
		}
	}
}

func (r *Runner) taskLeftConverting(id string) bool {
	current, err := r.registry.Get(id)
	if err != nil {
		return true
	}
	return current.Status != task.StatusConverting
}

func (r *Runner) notifyCompleted(ctx context.Context, t *task.Task) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.NotifyConversionCompleted(ctx, t); err != nil {
		r.logger.Warn("completion notification failed", logging.Error(err))
	}
}

func (r *Runner) notifyFailed(ctx context.Context, t *task.Task) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.NotifyConversionFailed(ctx, t); err != nil {
		r.logger.Warn("failure notification failed", logging.Error(err))
	}
}
