package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"

	"log/slog"

	"morph/internal/api"
	"morph/internal/logging"
	"morph/internal/notifications"
)

// StatusInfo is the daemon runtime detail the IPC surface reports.
type StatusInfo struct {
	Running  bool
	PID      int
	DBPath   string
	LockPath string
	APIBind  string
}

// StatusProvider supplies daemon runtime detail without coupling the IPC
// server to the daemon package.
type StatusProvider interface {
	StatusInfo() StatusInfo
}

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path     string
	logger   *slog.Logger
	listener net.Listener
	rpc      *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, tasks *api.TaskService, status StatusProvider, notifier notifications.Service, logger *slog.Logger) (*Server, error) {
	if tasks == nil {
		return nil, errors.New("ipc server requires a task service")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	svc := &service{
		tasks:    tasks,
		status:   status,
		notifier: notifier,
		logger:   logger,
		ctx:      serverCtx,
	}
	if err := rpcServer.RegisterName("Morph", svc); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:     path,
		logger:   logger,
		listener: listener,
		rpc:      rpcServer,
		ctx:      serverCtx,
		cancel:   cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("control socket listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed", logging.Error(err))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpc.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
		)
	}
}

type service struct {
	tasks    *api.TaskService
	status   StatusProvider
	notifier notifications.Service
	logger   *slog.Logger
	ctx      context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	if s.status != nil {
		info := s.status.StatusInfo()
		resp.Running = info.Running
		resp.PID = info.PID
		resp.DBPath = info.DBPath
		resp.LockPath = info.LockPath
		resp.APIBind = info.APIBind
	}
	resp.TaskStats = s.tasks.Stats()
	return nil
}

func (s *service) TaskList(req TaskListRequest, resp *TaskListResponse) error {
	if req.ActiveOnly {
		resp.Tasks = s.tasks.ListActive().Tasks
	} else {
		resp.Tasks = s.tasks.List().Tasks
	}
	return nil
}

func (s *service) TaskDescribe(req TaskDescribeRequest, resp *TaskDescribeResponse) error {
	if strings.TrimSpace(req.ID) == "" {
		return errors.New("task id is required")
	}
	result, err := s.tasks.Get(req.ID)
	if err != nil {
		return err
	}
	resp.Task = result.Task
	return nil
}

func (s *service) TaskStop(req TaskStopRequest, resp *TaskStopResponse) error {
	if strings.TrimSpace(req.ID) == "" {
		return errors.New("task id is required")
	}
	s.logger.Debug("task stop requested", logging.String(logging.FieldTaskID, req.ID))
	result, err := s.tasks.Cancel(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Task = result.Task
	s.logger.Info("task stopped via control socket",
		logging.String(logging.FieldTaskID, req.ID),
	)
	return nil
}

func (s *service) TaskRemove(req TaskRemoveRequest, resp *TaskRemoveResponse) error {
	if strings.TrimSpace(req.ID) == "" {
		return errors.New("task id is required")
	}
	if err := s.tasks.Delete(s.ctx, req.ID); err != nil {
		return err
	}
	resp.Removed = true
	s.logger.Info("task removed via control socket",
		logging.String(logging.FieldTaskID, req.ID),
	)
	return nil
}

func (s *service) SpaceStatus(_ SpaceStatusRequest, resp *SpaceStatusResponse) error {
	usage := s.tasks.SpaceUsage()
	resp.Budget = usage.Budget
	resp.Snapshot = usage.Snapshot
	return nil
}

func (s *service) SpaceCheck(req SpaceCheckRequest, resp *SpaceCheckResponse) error {
	if req.RequiredBytes < 0 {
		return errors.New("required bytes must not be negative")
	}
	resp.Result = s.tasks.CheckSpace(api.SpaceCheckRequest{RequiredBytes: req.RequiredBytes}).Result
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	if s.notifier == nil {
		resp.Message = "notifications not configured"
		return nil
	}
	if err := s.notifier.TestNotification(s.ctx); err != nil {
		resp.Message = err.Error()
		return nil
	}
	resp.Sent = true
	resp.Message = "notification sent"
	return nil
}
