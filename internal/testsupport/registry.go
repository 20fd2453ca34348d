package testsupport

import (
	"context"
	"testing"

	"morph/internal/config"
	"morph/internal/logging"
	"morph/internal/task"
)

// MustOpenStore opens a task.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *task.Store {
	t.Helper()

	store, err := task.OpenStore(cfg)
	if err != nil {
		t.Fatalf("task.OpenStore: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenRegistry builds a persisted registry for tests.
func MustOpenRegistry(t testing.TB, cfg *config.Config, publisher task.Publisher, opts ...task.RegistryOption) *task.Registry {
	t.Helper()

	store := MustOpenStore(t, cfg)
	registry, err := task.NewRegistry(context.Background(), store, publisher, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("task.NewRegistry: %v", err)
	}
	return registry
}

// NewTask creates a pending task for tests using the provided registry.
func NewTask(t testing.TB, registry *task.Registry, name string, sourceSize int64) *task.Task {
	t.Helper()

	created, err := registry.Create(context.Background(), task.CreateRequest{
		Name:       name,
		SourcePath: "/library/" + name,
		SourceSize: sourceSize,
	})
	if err != nil {
		t.Fatalf("registry.Create: %v", err)
	}
	return created
}
