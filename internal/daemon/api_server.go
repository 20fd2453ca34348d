package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"morph/internal/api"
	"morph/internal/config"
	"morph/internal/logging"
)

// APIServer exposes the engine over HTTP: task CRUD, space queries, and the
// websocket event stream.
type APIServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

// NewAPIServer builds the HTTP surface; returns nil when no bind address is
// configured.
func NewAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *APIServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &APIServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/tasks", srv.handleTasks)
	mux.HandleFunc("/api/tasks/", srv.handleTaskItem)
	mux.HandleFunc("/api/space", srv.handleSpace)
	mux.HandleFunc("/api/space/check", srv.handleSpaceCheck)
	mux.HandleFunc("/api/space/config", srv.handleSpaceConfig)
	mux.HandleFunc("/api/events", d.Stream().HandleWS)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// Start begins serving until ctx is cancelled.
func (s *APIServer) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound listen address once Start has succeeded.
func (s *APIServer) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *APIServer) Stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w)
		return
	}
	info := s.daemon.StatusInfo()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"running":   info.Running,
		"pid":       info.PID,
		"dbPath":    info.DBPath,
		"lockPath":  info.LockPath,
		"taskStats": s.daemon.Tasks().Stats(),
	})
}

func (s *APIServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.daemon.Tasks().List())
	case http.MethodPost:
		var req api.StartTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeErrorBody(w, api.ErrorBody{Code: api.CodeValidation, Message: "invalid request body"})
			return
		}
		if err := api.ValidateStartRequest(req); err != nil {
			s.writeErrorBody(w, api.ErrorBody{Code: api.CodeValidation, Message: err.Error()})
			return
		}
		resp, err := s.daemon.Tasks().Start(r.Context(), req)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, resp)
	default:
		s.writeMethodNotAllowed(w)
	}
}

// handleTaskItem routes /api/tasks/active, /api/tasks/completed,
// /api/tasks/{id}, and /api/tasks/{id}/cancel.
func (s *APIServer) handleTaskItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	switch rest {
	case "active":
		if r.Method != http.MethodGet {
			s.writeMethodNotAllowed(w)
			return
		}
		s.writeJSON(w, http.StatusOK, s.daemon.Tasks().ListActive())
		return
	case "completed":
		if r.Method != http.MethodGet {
			s.writeMethodNotAllowed(w)
			return
		}
		s.handleCompleted(w, r)
		return
	}

	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		s.writeErrorBody(w, api.ErrorBody{Code: api.CodeNotFound, Message: "task not found"})
		return
	}

	switch {
	case action == "cancel" && r.Method == http.MethodPost:
		resp, err := s.daemon.Tasks().Cancel(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
	case action == "" && r.Method == http.MethodGet:
		resp, err := s.daemon.Tasks().Get(id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
	case action == "" && r.Method == http.MethodDelete:
		if err := s.daemon.Tasks().Delete(r.Context(), id); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeMethodNotAllowed(w)
	}
}

func (s *APIServer) handleCompleted(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := 1
	if raw := query.Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeErrorBody(w, api.ErrorBody{Code: api.CodeValidation, Message: "invalid page"})
			return
		}
		page = parsed
	}
	size := 20
	if raw := query.Get("pageSize"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeErrorBody(w, api.ErrorBody{Code: api.CodeValidation, Message: "invalid pageSize"})
			return
		}
		size = parsed
	}

	resp, err := s.daemon.Tasks().ListCompleted(page, size)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleSpace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w)
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Tasks().SpaceUsage())
}

func (s *APIServer) handleSpaceCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w)
		return
	}
	var req api.SpaceCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorBody(w, api.ErrorBody{Code: api.CodeValidation, Message: "invalid request body"})
		return
	}
	if req.RequiredBytes < 0 {
		s.writeErrorBody(w, api.ErrorBody{Code: api.CodeValidation, Message: "requiredBytes must not be negative"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Tasks().CheckSpace(req))
}

func (s *APIServer) handleSpaceConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w)
		return
	}
	var req api.SpaceConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorBody(w, api.ErrorBody{Code: api.CodeValidation, Message: "invalid request body"})
		return
	}
	resp, err := s.daemon.SetSpaceConfig(r.Context(), req)
	if err != nil {
		s.writeErrorBody(w, api.ErrorBody{Code: api.CodeValidation, Message: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, err error) {
	body := api.Classify(err)
	if body.Code == api.CodeInternal {
		s.logger.Error("request failed", logging.Error(err))
	}
	s.writeErrorBody(w, body)
}

func (s *APIServer) writeErrorBody(w http.ResponseWriter, body api.ErrorBody) {
	s.writeJSON(w, api.HTTPStatus(body.Code), api.ErrorResponse{Error: body})
}

func (s *APIServer) writeMethodNotAllowed(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusMethodNotAllowed, api.ErrorResponse{Error: api.ErrorBody{
		Code:    api.CodeValidation,
		Message: "method not allowed",
	}})
}
