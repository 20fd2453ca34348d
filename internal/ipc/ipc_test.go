package ipc_test

import (
	"context"
	"strings"
	"testing"

	"morph/internal/admission"
	"morph/internal/api"
	"morph/internal/ipc"
	"morph/internal/logging"
	"morph/internal/space"
	"morph/internal/task"
	"morph/internal/testsupport"
)

type stubStatus struct{}

func (stubStatus) StatusInfo() ipc.StatusInfo {
	return ipc.StatusInfo{Running: true, PID: 1234, DBPath: "/tmp/morph.db", LockPath: "/tmp/morphd.lock"}
}

func startServer(t *testing.T) (*ipc.Client, *api.TaskService) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	accountant := space.NewAccountant(cfg, nil, logging.NewNop())
	if _, err := accountant.SetBudget(10<<30, 0, true); err != nil {
		t.Fatalf("set budget: %v", err)
	}
	controller := admission.NewController(accountant, logging.NewNop())
	registry := testsupport.MustOpenRegistry(t, cfg, nil, task.WithTerminalHook(controller.OnTaskTerminal))
	controller.BindRegistry(registry)
	svc := api.NewTaskService(registry, controller, accountant)

	ctx, cancel := context.WithCancel(context.Background())
	server, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, svc, stubStatus{}, nil, logging.NewNop())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	server.Serve()
	t.Cleanup(func() {
		server.Close()
		cancel()
	})

	client, err := ipc.Dial(cfg.Paths.SocketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, svc
}

func TestStatusRoundTrip(t *testing.T) {
	client, svc := startServer(t)

	if _, err := svc.Start(context.Background(), api.StartTaskRequest{
		Name:       "movie",
		SourcePath: "/library/movie.mkv",
		SourceSize: 1 << 20,
	}); err != nil {
		t.Fatalf("seed task: %v", err)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running || status.PID != 1234 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.TaskStats["pending"] != 1 {
		t.Fatalf("expected one pending task, got %v", status.TaskStats)
	}
}

func TestTaskLifecycleOverSocket(t *testing.T) {
	client, svc := startServer(t)

	created, err := svc.Start(context.Background(), api.StartTaskRequest{
		Name:       "episode",
		SourcePath: "/library/episode.mkv",
		SourceSize: 1 << 20,
	})
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}

	list, err := client.TaskList(true)
	if err != nil {
		t.Fatalf("task list: %v", err)
	}
	if len(list.Tasks) != 1 || list.Tasks[0].ID != created.TaskID {
		t.Fatalf("unexpected list: %+v", list.Tasks)
	}

	describe, err := client.TaskDescribe(created.TaskID)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if describe.Task.Name != "episode" {
		t.Fatalf("unexpected task: %+v", describe.Task)
	}

	stopped, err := client.TaskStop(created.TaskID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.Task.Status != string(task.StatusCancelled) {
		t.Fatalf("expected cancelled, got %s", stopped.Task.Status)
	}

	removed, err := client.TaskRemove(created.TaskID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !removed.Removed {
		t.Fatal("expected removal acknowledged")
	}

	if _, err := client.TaskDescribe(created.TaskID); err == nil {
		t.Fatal("expected error describing removed task")
	} else if !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestSpaceOverSocket(t *testing.T) {
	client, _ := startServer(t)

	status, err := client.SpaceStatus()
	if err != nil {
		t.Fatalf("space status: %v", err)
	}
	if status.Budget.TotalBytes != 10<<30 {
		t.Fatalf("unexpected budget: %+v", status.Budget)
	}

	check, err := client.SpaceCheck(1 << 20)
	if err != nil {
		t.Fatalf("space check: %v", err)
	}
	if !check.Result.HasEnoughSpace {
		t.Fatalf("expected space available, got %+v", check.Result)
	}

	if _, err := client.SpaceCheck(-1); err == nil {
		t.Fatal("expected rejection of negative bytes")
	}
}

func TestMissingIDRejected(t *testing.T) {
	client, _ := startServer(t)
	if _, err := client.TaskDescribe(""); err == nil {
		t.Fatal("expected error for empty id")
	}
	if _, err := client.TaskStop(" "); err == nil {
		t.Fatal("expected error for blank id")
	}
}
