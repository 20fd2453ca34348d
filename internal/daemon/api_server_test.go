package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"morph/internal/api"
	"morph/internal/logging"
	"morph/internal/testsupport"
)

func startTestAPI(t *testing.T) (string, *Daemon) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	d := newTestDaemon(t, cfg)

	srv := NewAPIServer(cfg, d, logging.NewNop())
	if srv == nil {
		t.Fatal("expected an api server for a bound config")
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("start api server: %v", err)
	}
	t.Cleanup(srv.Stop)

	return "http://" + srv.Addr(), d
}

func doJSON(t *testing.T, method, url string, payload any) *http.Response {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestAPITaskLifecycle(t *testing.T) {
	base, _ := startTestAPI(t)

	resp := doJSON(t, http.MethodPost, base+"/api/tasks", api.StartTaskRequest{
		Name:       "movie.mkv",
		SourcePath: "/library/movie.mkv",
		SourceSize: 1 << 20,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	created := decodeBody[api.StartTaskResponse](t, resp)
	if created.TaskID == "" {
		t.Fatal("expected a task id")
	}

	resp = doJSON(t, http.MethodGet, base+"/api/tasks/"+created.TaskID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	fetched := decodeBody[api.TaskResponse](t, resp)
	if fetched.Task.Status != "pending" {
		t.Fatalf("status = %q, want pending", fetched.Task.Status)
	}

	resp = doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/tasks/%s/cancel", base, created.TaskID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	cancelled := decodeBody[api.TaskResponse](t, resp)
	if cancelled.Task.Status != "cancelled" {
		t.Fatalf("status after cancel = %q", cancelled.Task.Status)
	}

	resp = doJSON(t, http.MethodGet, base+"/api/tasks/active", nil)
	active := decodeBody[api.TaskListResponse](t, resp)
	if len(active.Tasks) != 0 {
		t.Fatalf("expected no active tasks, got %d", len(active.Tasks))
	}

	resp = doJSON(t, http.MethodDelete, base+"/api/tasks/"+created.TaskID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, base+"/api/tasks/"+created.TaskID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	failure := decodeBody[api.ErrorResponse](t, resp)
	if failure.Error.Code != api.CodeNotFound {
		t.Fatalf("error code = %q, want %q", failure.Error.Code, api.CodeNotFound)
	}
}

func TestAPIRejectsInvalidRequests(t *testing.T) {
	base, _ := startTestAPI(t)

	resp := doJSON(t, http.MethodPost, base+"/api/tasks", api.StartTaskRequest{Name: "no-source"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing source status = %d", resp.StatusCode)
	}
	failure := decodeBody[api.ErrorResponse](t, resp)
	if failure.Error.Code != api.CodeValidation {
		t.Fatalf("error code = %q, want %q", failure.Error.Code, api.CodeValidation)
	}

	resp = doJSON(t, http.MethodGet, base+"/api/tasks/completed?page=abc", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad page status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, base+"/api/tasks/completed?pageSize=500", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("oversized page status = %d", resp.StatusCode)
	}
	failure = decodeBody[api.ErrorResponse](t, resp)
	if failure.Error.Code != api.CodeValidation {
		t.Fatalf("error code = %q, want %q", failure.Error.Code, api.CodeValidation)
	}
}

func TestAPISpaceEndpoints(t *testing.T) {
	base, d := startTestAPI(t)

	resp := doJSON(t, http.MethodGet, base+"/api/space", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("space status = %d", resp.StatusCode)
	}
	usage := decodeBody[api.SpaceUsageResponse](t, resp)
	if usage.Budget.TotalBytes <= 0 {
		t.Fatalf("budget total = %d, want > 0", usage.Budget.TotalBytes)
	}

	resp = doJSON(t, http.MethodPost, base+"/api/space/check", api.SpaceCheckRequest{RequiredBytes: 1})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, base+"/api/space/check", api.SpaceCheckRequest{RequiredBytes: -1})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative check status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPut, base+"/api/space/config", api.SpaceConfigRequest{
		MaxTotalBytes: 2 << 30,
		ReservedBytes: 1 << 20,
		Enabled:       true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("config status = %d", resp.StatusCode)
	}
	updated := decodeBody[api.SpaceConfigResponse](t, resp)
	if updated.Budget.TotalBytes != 2<<30 {
		t.Fatalf("updated total = %d", updated.Budget.TotalBytes)
	}
	if got := d.Tasks().SpaceUsage().Budget.TotalBytes; got != 2<<30 {
		t.Fatalf("daemon budget total = %d after config update", got)
	}
}

func TestAPIStatus(t *testing.T) {
	base, _ := startTestAPI(t)

	resp := doJSON(t, http.MethodGet, base+"/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	payload := decodeBody[map[string]any](t, resp)
	if payload["running"] != false {
		t.Fatalf("running = %v, want false before Start", payload["running"])
	}
	if pid, ok := payload["pid"].(float64); !ok || pid <= 0 {
		t.Fatalf("pid = %v", payload["pid"])
	}
}
