package task

import (
	"context"
	"path/filepath"
	"testing"

	"morph/internal/config"
	"morph/internal/logging"
)

func newStoreConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.SourceDir = filepath.Join(base, "source")
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	cfg.Paths.TempDir = filepath.Join(base, "tmp")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	return &cfg
}

func TestRegistryReloadsPersistedTasks(t *testing.T) {
	cfg := newStoreConfig(t)
	ctx := context.Background()

	store, err := OpenStore(cfg)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}

	registry, err := NewRegistry(ctx, store, nil, logging.NewNop())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	created, err := registry.Create(ctx, CreateRequest{
		Name:       "movie.mkv",
		OwnerID:    "bob",
		SourcePath: "/library/movie.mkv",
		SourceSize: 42 << 20,
		Params:     Params{Format: "mp4", Codec: "av1", Quality: "high"},
		MaxRetries: 2,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := registry.Start(ctx, created.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := registry.UpdateProgress(ctx, created.ID, 73, "1.4x", "00:02:40"); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	other, err := registry.Create(ctx, CreateRequest{
		Name:       "episode.mkv",
		SourcePath: "/library/episode.mkv",
		SourceSize: 7 << 20,
	})
	if err != nil {
		t.Fatalf("Create second: %v", err)
	}
	if _, err := registry.Cancel(ctx, other.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := OpenStore(cfg)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	reloaded, err := NewRegistry(ctx, reopened, nil, logging.NewNop())
	if err != nil {
		t.Fatalf("reload registry: %v", err)
	}

	got, err := reloaded.Get(created.ID)
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if got.Status != StatusConverting || got.Progress != 73 {
		t.Fatalf("reloaded = %s/%d, want converting/73", got.Status, got.Progress)
	}
	if got.Params.Codec != "av1" || got.OwnerID != "bob" || got.MaxRetries != 2 {
		t.Fatalf("reloaded detail lost: %+v", got)
	}
	if got.StartedAt == nil {
		t.Fatal("reloaded task lost its start time")
	}

	gotOther, err := reloaded.Get(other.ID)
	if err != nil {
		t.Fatalf("Get second after reload: %v", err)
	}
	if gotOther.Status != StatusCancelled || gotOther.CompletedAt == nil {
		t.Fatalf("second reloaded = %s completedAt=%v", gotOther.Status, gotOther.CompletedAt)
	}
}

func TestStoreRemove(t *testing.T) {
	cfg := newStoreConfig(t)
	ctx := context.Background()

	store, err := OpenStore(cfg)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	registry, err := NewRegistry(ctx, store, nil, logging.NewNop())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	created, err := registry.Create(ctx, CreateRequest{
		Name:       "gone.mkv",
		SourcePath: "/library/gone.mkv",
		SourceSize: 1,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := registry.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	remaining, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("store still holds %d tasks after delete", len(remaining))
	}
}
