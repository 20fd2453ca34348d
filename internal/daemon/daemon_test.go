package daemon

import (
	"context"
	"testing"

	"morph/internal/api"
	"morph/internal/config"
	"morph/internal/logging"
	"morph/internal/testsupport"
)

func newTestDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()
	if cfg == nil {
		cfg = testsupport.NewConfig(t, testsupport.WithStubbedConverter())
	}
	d, err := New(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := d.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return d
}

func TestDaemonStartStop(t *testing.T) {
	d := newTestDaemon(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !d.StatusInfo().Running {
		t.Fatal("expected daemon to report running after Start")
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}

	d.Stop()
	if d.StatusInfo().Running {
		t.Fatal("expected daemon to report stopped after Stop")
	}
}

func TestDaemonSingleInstanceLock(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedConverter())
	first := newTestDaemon(t, cfg)
	second := newTestDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := first.Start(ctx); err != nil {
		t.Fatalf("start first instance: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected second instance to be rejected while lock is held")
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("start second instance after lock release: %v", err)
	}
	second.Stop()
}

func TestBudgetPersistsAcrossRestart(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedConverter())
	ctx := context.Background()

	first, err := New(ctx, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req := api.SpaceConfigRequest{
		MaxTotalBytes: 5 << 30,
		ReservedBytes: 1 << 30,
		Enabled:       true,
	}
	if _, err := first.SetSpaceConfig(ctx, req); err != nil {
		t.Fatalf("SetSpaceConfig: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close first daemon: %v", err)
	}

	second := newTestDaemon(t, cfg)
	budget := second.Tasks().SpaceUsage().Budget
	if budget.TotalBytes != req.MaxTotalBytes {
		t.Fatalf("TotalBytes = %d, want %d", budget.TotalBytes, req.MaxTotalBytes)
	}
	if budget.ReservedBytes != req.ReservedBytes {
		t.Fatalf("ReservedBytes = %d, want %d", budget.ReservedBytes, req.ReservedBytes)
	}
	if !budget.Enabled {
		t.Fatal("expected persisted budget to remain enabled")
	}
}
