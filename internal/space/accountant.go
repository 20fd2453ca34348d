package space

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"log/slog"

	"morph/internal/config"
	"morph/internal/hub"
	"morph/internal/logging"
)

// Publisher receives space status events.
type Publisher interface {
	Publish(group string, evt hub.Event)
}

// Budget is the process-wide space configuration. It changes only through
// SetBudget.
type Budget struct {
	TotalBytes    int64     `json:"total_bytes"`
	ReservedBytes int64     `json:"reserved_bytes"`
	Enabled       bool      `json:"enabled"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Breakdown itemizes disk usage by category.
type Breakdown struct {
	SourceBytes int64 `json:"source_bytes"`
	OutputBytes int64 `json:"output_bytes"`
	TempBytes   int64 `json:"temp_bytes"`
}

// UsageSnapshot is an atomically replaced view of current disk usage.
// When a recomputation fails the previous snapshot is kept and marked stale
// rather than reporting a wrong value.
type UsageSnapshot struct {
	TotalBytes     int64     `json:"total_bytes"`
	UsedBytes      int64     `json:"used_bytes"`
	AvailableBytes int64     `json:"available_bytes"`
	PercentUsed    float64   `json:"percent_used"`
	Breakdown      Breakdown `json:"breakdown"`
	FSFreeBytes    int64     `json:"fs_free_bytes"`
	ComputedAt     time.Time `json:"computed_at"`
	Stale          bool      `json:"stale"`
}

// CheckBreakdown carries the diagnostic detail attached to a space check.
type CheckBreakdown struct {
	SourceBytes          int64 `json:"source_bytes"`
	EstimatedOutputBytes int64 `json:"estimated_output_bytes"`
	TempOverheadBytes    int64 `json:"temp_overhead_bytes"`
	PendingReservedBytes int64 `json:"pending_reserved_bytes"`
	BudgetReservedBytes  int64 `json:"budget_reserved_bytes"`
	UsedBytes            int64 `json:"used_bytes"`
	TotalBytes           int64 `json:"total_bytes"`
}

// CheckResult answers a space admission query.
type CheckResult struct {
	HasEnoughSpace bool           `json:"has_enough_space"`
	RequiredBytes  int64          `json:"required_bytes"`
	AvailableBytes int64          `json:"available_bytes"`
	Message        string         `json:"message"`
	Breakdown      CheckBreakdown `json:"breakdown"`
}

// Accountant computes disk usage against the configured budget and holds the
// reservation ledger for in-flight admissions. The snapshot recomputation
// walks the storage roots and never holds any task lock.
type Accountant struct {
	sourceDir string
	outputDir string
	tempDir   string
	logger    *slog.Logger
	publisher Publisher
	statfs    statfsFunc
	interval  time.Duration

	mu           sync.Mutex
	budget       Budget
	snapshot     UsageSnapshot
	reservations map[string]int64
}

// NewAccountant builds an accountant from configuration. The first snapshot
// is computed lazily on Refresh or Run.
func NewAccountant(cfg *config.Config, publisher Publisher, logger *slog.Logger) *Accountant {
	return &Accountant{
		sourceDir: cfg.Paths.SourceDir,
		outputDir: cfg.Paths.OutputDir,
		tempDir:   cfg.Paths.TempDir,
		logger:    logging.NewComponentLogger(logger, "space"),
		publisher: publisher,
		statfs:    realStatfs,
		interval:  time.Duration(cfg.Space.RefreshInterval) * time.Second,
		budget: Budget{
			TotalBytes:    cfg.MaxTotalBytes(),
			ReservedBytes: cfg.ReservedBytes(),
			Enabled:       cfg.Space.Enabled,
			UpdatedAt:     time.Now().UTC(),
		},
		reservations: make(map[string]int64),
	}
}

// Budget returns the current budget configuration.
func (a *Accountant) Budget() Budget {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.budget
}

// SetBudget replaces the budget. Values must be coherent: total positive and
// reserved smaller than total.
func (a *Accountant) SetBudget(totalBytes, reservedBytes int64, enabled bool) (Budget, error) {
	if totalBytes <= 0 {
		return Budget{}, errors.New("budget total must be positive")
	}
	if reservedBytes < 0 || reservedBytes >= totalBytes {
		return Budget{}, errors.New("budget reserved must lie in [0, total)")
	}

	a.mu.Lock()
	a.budget = Budget{
		TotalBytes:    totalBytes,
		ReservedBytes: reservedBytes,
		Enabled:       enabled,
		UpdatedAt:     time.Now().UTC(),
	}
	budget := a.budget
	a.recomputeAvailabilityLocked()
	snapshot := a.snapshot
	a.mu.Unlock()

	a.publishSpace(snapshot)
	return budget, nil
}

// Snapshot returns the latest usage snapshot.
func (a *Accountant) Snapshot() UsageSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot
}

// Refresh recomputes the usage snapshot by walking the storage roots. On
// failure the previous snapshot is retained and marked stale.
func (a *Accountant) Refresh(ctx context.Context) (UsageSnapshot, error) {
	source, errSource := dirSize(ctx, a.sourceDir)
	output, errOutput := dirSize(ctx, a.outputDir)
	temp, errTemp := dirSize(ctx, a.tempDir)
	walkErr := errors.Join(errSource, errOutput, errTemp)

	var fsFree int64
	if walkErr == nil {
		if _, free, err := a.statfs(a.outputDir); err == nil {
			fsFree = int64(free)
		} else {
			walkErr = fmt.Errorf("statfs %s: %w", a.outputDir, err)
		}
	}

	a.mu.Lock()
	if walkErr != nil {
		a.snapshot.Stale = true
		snapshot := a.snapshot
		a.mu.Unlock()
		a.logger.Warn("space snapshot refresh failed, keeping previous snapshot",
			logging.Error(walkErr),
		)
		return snapshot, walkErr
	}

	a.snapshot = UsageSnapshot{
		Breakdown: Breakdown{
			SourceBytes: source,
			OutputBytes: output,
			TempBytes:   temp,
		},
		FSFreeBytes: fsFree,
		ComputedAt:  time.Now().UTC(),
	}
	a.recomputeAvailabilityLocked()
	snapshot := a.snapshot
	a.mu.Unlock()

	a.publishSpace(snapshot)
	return snapshot, nil
}

// recomputeAvailabilityLocked derives the budget-relative fields from the
// current breakdown, budget, and ledger. Caller holds a.mu.
func (a *Accountant) recomputeAvailabilityLocked() {
	used := a.snapshot.Breakdown.SourceBytes + a.snapshot.Breakdown.OutputBytes + a.snapshot.Breakdown.TempBytes
	available := a.budget.TotalBytes - a.budget.ReservedBytes - used - a.pendingLocked()
	if a.snapshot.FSFreeBytes > 0 && available > a.snapshot.FSFreeBytes {
		available = a.snapshot.FSFreeBytes
	}

	a.snapshot.TotalBytes = a.budget.TotalBytes
	a.snapshot.UsedBytes = used
	a.snapshot.AvailableBytes = available
	if a.budget.TotalBytes > 0 {
		a.snapshot.PercentUsed = float64(used) / float64(a.budget.TotalBytes) * 100
	} else {
		a.snapshot.PercentUsed = 0
	}
}

// CheckSpace answers whether requiredBytes additional bytes fit. It is a
// pure query against the latest snapshot; it reserves nothing.
func (a *Accountant) CheckSpace(requiredBytes int64) CheckResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkLocked(requiredBytes, CheckBreakdown{})
}

// CheckTask answers whether a conversion of the given source fits, with the
// estimate itemized in the breakdown.
func (a *Accountant) CheckTask(sourceSize int64, codec, format string) CheckResult {
	breakdown := CheckBreakdown{
		SourceBytes:          sourceSize,
		EstimatedOutputBytes: EstimateOutputSize(sourceSize, codec, format),
		TempOverheadBytes:    EstimateTempOverhead(sourceSize),
	}
	required := breakdown.EstimatedOutputBytes + breakdown.TempOverheadBytes

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkLocked(required, breakdown)
}

func (a *Accountant) checkLocked(requiredBytes int64, breakdown CheckBreakdown) CheckResult {
	breakdown.PendingReservedBytes = a.pendingLocked()
	breakdown.BudgetReservedBytes = a.budget.ReservedBytes
	breakdown.UsedBytes = a.snapshot.UsedBytes
	breakdown.TotalBytes = a.budget.TotalBytes

	result := CheckResult{
		RequiredBytes:  requiredBytes,
		AvailableBytes: a.snapshot.AvailableBytes,
		Breakdown:      breakdown,
	}

	if !a.budget.Enabled {
		result.HasEnoughSpace = true
		result.Message = "space accounting disabled"
		return result
	}

	if requiredBytes <= result.AvailableBytes {
		result.HasEnoughSpace = true
		result.Message = "sufficient space available"
	} else {
		result.Message = fmt.Sprintf("requires %d bytes but only %d available", requiredBytes, result.AvailableBytes)
	}
	return result
}

// Reserve atomically checks availability and records a pending reservation
// for the key. It fails without side effects when the bytes do not fit.
func (a *Accountant) Reserve(key string, bytes int64) (CheckResult, error) {
	if bytes < 0 {
		return CheckResult{}, errors.New("reservation bytes must not be negative")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.reservations[key]; exists {
		return CheckResult{}, fmt.Errorf("reservation already held for %s", key)
	}

	result := a.checkLocked(bytes, CheckBreakdown{})
	if !result.HasEnoughSpace {
		return result, nil
	}

	a.reservations[key] = bytes
	a.recomputeAvailabilityLocked()
	return result, nil
}

// Rekey renames a reservation, preserving its bytes. Used once admission
// learns the id of the task the reservation was made for.
func (a *Accountant) Rekey(oldKey, newKey string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	bytes, ok := a.reservations[oldKey]
	if !ok {
		return
	}
	delete(a.reservations, oldKey)
	a.reservations[newKey] = bytes
}

// Release drops a pending reservation. Unknown keys are ignored so release
// is safe to call from both the compensation path and the terminal hook.
func (a *Accountant) Release(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.reservations[key]; !ok {
		return
	}
	delete(a.reservations, key)
	a.recomputeAvailabilityLocked()
}

// PendingReservations returns the total bytes currently reserved.
func (a *Accountant) PendingReservations() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pendingLocked()
}

func (a *Accountant) pendingLocked() int64 {
	var total int64
	for _, bytes := range a.reservations {
		total += bytes
	}
	return total
}

// Run refreshes the snapshot on the configured interval until ctx ends.
func (a *Accountant) Run(ctx context.Context) error {
	interval := a.interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	if _, err := a.Refresh(ctx); err != nil {
		a.logger.Warn("initial space snapshot failed", logging.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.Refresh(ctx); err != nil {
				a.logger.Warn("space snapshot refresh failed", logging.Error(err))
			}
		}
	}
}

func (a *Accountant) publishSpace(snapshot UsageSnapshot) {
	if a.publisher == nil {
		return
	}
	evt := hub.Event{
		Type:      hub.EventSpaceStatusUpdate,
		Payload:   snapshot,
		Timestamp: time.Now().UTC(),
	}
	a.publisher.Publish(hub.GroupSpaceMonitor, evt)
	a.publisher.Publish(hub.GroupAll, evt)
}

// dirSize sums regular file sizes under root. A missing root counts as zero.
func dirSize(ctx context.Context, root string) (int64, error) {
	if root == "" {
		return 0, nil
	}
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("walk %s: %w", root, err)
	}
	return total, nil
}
