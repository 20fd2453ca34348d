package stream

import (
	"net/http"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"morph/internal/config"
	"morph/internal/hub"
	"morph/internal/logging"
)

// Manager accepts websocket connections and bridges them onto the broadcast
// hub. Each connection gets an id, an implicit membership in the "all"
// group, and a single writer goroutine draining its hub queue. Liveness is
// tracked with websocket pings; a missed pong drops the connection and all
// of its memberships.
type Manager struct {
	hub          *hub.Hub
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongTimeout  time.Duration

	wg sync.WaitGroup
}

// NewManager builds a connection manager bound to the hub.
func NewManager(cfg *config.Config, h *hub.Hub, logger *slog.Logger) *Manager {
	return &Manager{
		hub:          h,
		logger:       logging.NewComponentLogger(logger, "stream"),
		pingInterval: time.Duration(cfg.Stream.PingInterval) * time.Second,
		pongTimeout:  time.Duration(cfg.Stream.PongTimeout) * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Wait blocks until every connection goroutine has finished.
func (m *Manager) Wait() { m.wg.Wait() }

// HandleWS upgrades the request and serves the connection until either side
// closes it.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	connID := uuid.NewString()
	sub := m.hub.Subscribe(connID)
	m.hub.Join(connID, hub.GroupAll)

	logger := m.logger.With(logging.String(logging.FieldConnID, connID))
	logger.Info("connection established")

	pongs := make(chan struct{}, 1)
	done := make(chan struct{})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.writePump(ws, sub, pongs, done, logger)
	}()

	m.readPump(ws, connID, pongs, logger)

	close(done)
	m.hub.Unsubscribe(connID)
	_ = ws.Close()
	logger.Info("connection closed", logging.Int64("events_dropped", sub.Dropped()))
}

func (m *Manager) readPump(ws *websocket.Conn, connID string, pongs chan<- struct{}, logger *slog.Logger) {
	ws.SetReadLimit(1 << 20)
	_ = ws.SetReadDeadline(time.Now().Add(m.pongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(m.pongTimeout))
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := ParseClientMessage(data)
		if err != nil {
			logger.Warn("invalid client message", logging.Error(err))
			continue
		}
		// Any well-formed traffic counts as liveness.
		_ = ws.SetReadDeadline(time.Now().Add(m.pongTimeout))

		switch msg.Type {
		case TypeJoinGroup:
			m.hub.Join(connID, msg.Group)
			logger.Debug("joined group", logging.String(logging.FieldGroup, msg.Group))
		case TypeLeaveGroup:
			m.hub.Leave(connID, msg.Group)
			logger.Debug("left group", logging.String(logging.FieldGroup, msg.Group))
		case TypePing:
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}

func (m *Manager) writePump(ws *websocket.Conn, sub *hub.Subscriber, pongs <-chan struct{}, done <-chan struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteJSON(evt); err != nil {
				logger.Debug("event write failed", logging.Error(err))
				_ = ws.Close()
				return
			}
		case <-pongs:
			_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteJSON(PongMessage{Type: "pong"}); err != nil {
				_ = ws.Close()
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}
