package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"morph/internal/logging"
)

// ErrReconnectFailed is returned by Run after the reconnect attempt ceiling
// is exhausted.
var ErrReconnectFailed = errors.New("reconnect failed: attempt limit reached")

// ClientOptions configures a reconnecting event stream client.
type ClientOptions struct {
	// URL of the websocket event endpoint (ws:// or wss://).
	URL string
	// Resync is invoked after every successful (re)connection, once prior
	// group memberships have been re-joined. Implementations typically
	// re-fetch the active task snapshot; missed events are not replayed.
	Resync func(ctx context.Context) error

	ReconnectInterval    time.Duration
	ReconnectMaxInterval time.Duration
	ReconnectMaxAttempts int

	Logger *slog.Logger
}

// Client maintains a websocket subscription to the event stream, transparently
// reconnecting with exponential backoff. Events arrive on Events(); a
// permanent connection loss surfaces as the error returned by Run.
type Client struct {
	opts   ClientOptions
	logger *slog.Logger
	dialer websocket.Dialer
	events chan Envelope

	mu     sync.Mutex
	ws     *websocket.Conn
	groups map[string]struct{}
}

// NewClient builds a client; Run must be called to connect.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("stream client requires a URL")
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = time.Second
	}
	if opts.ReconnectMaxInterval <= 0 {
		opts.ReconnectMaxInterval = 30 * time.Second
	}
	if opts.ReconnectMaxAttempts <= 0 {
		opts.ReconnectMaxAttempts = 10
	}
	return &Client{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "stream-client"),
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		events: make(chan Envelope, 64),
		groups: make(map[string]struct{}),
	}, nil
}

// Events returns the stream of decoded event envelopes. The channel closes
// when Run returns.
func (c *Client) Events() <-chan Envelope { return c.events }

// Join subscribes to a group, remembering it for resubscription after a
// reconnect.
func (c *Client) Join(group string) error {
	c.mu.Lock()
	c.groups[group] = struct{}{}
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return nil
	}
	return c.send(ClientMessage{Type: TypeJoinGroup, Group: group})
}

// Leave unsubscribes from a group and forgets it.
func (c *Client) Leave(group string) error {
	c.mu.Lock()
	delete(c.groups, group)
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return nil
	}
	return c.send(ClientMessage{Type: TypeLeaveGroup, Group: group})
}

func (c *Client) send(msg ClientMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return nil
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(msg)
}

// Run connects and consumes events until ctx is cancelled or reconnection
// permanently fails. On every unexpected disconnect it retries with
// exponential backoff up to the configured attempt ceiling, then returns
// ErrReconnectFailed.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	attempts := 0
	delay := c.opts.ReconnectInterval

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ws, _, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
		if err != nil {
			attempts++
			if attempts >= c.opts.ReconnectMaxAttempts {
				c.logger.Error("giving up after repeated connection failures",
					logging.Int("attempts", attempts),
					logging.Error(err),
				)
				return fmt.Errorf("%w: %v", ErrReconnectFailed, err)
			}
			c.logger.Warn("connection failed, retrying",
				logging.Int("attempt", attempts),
				logging.Duration("backoff", delay),
				logging.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			if next := delay * 2; next <= c.opts.ReconnectMaxInterval {
				delay = next
			} else {
				delay = c.opts.ReconnectMaxInterval
			}
			continue
		}

		attempts = 0
		delay = c.opts.ReconnectInterval

		if err := c.resubscribe(ctx, ws); err != nil {
			c.logger.Warn("resubscription failed", logging.Error(err))
			_ = ws.Close()
			continue
		}

		// ReadMessage only unblocks when the connection dies, so a watchdog
		// closes it on cancellation to let the read loop return promptly.
		readDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = ws.Close()
			case <-readDone:
			}
		}()

		c.readLoop(ctx, ws)
		close(readDone)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		_ = ws.Close()

		if err := ctx.Err(); err != nil {
			return err
		}
		c.logger.Info("connection lost, reconnecting")
	}
}

// resubscribe installs the connection, re-joins every remembered group, and
// runs the caller's resync to recover state missed while disconnected.
func (c *Client) resubscribe(ctx context.Context, ws *websocket.Conn) error {
	c.mu.Lock()
	c.ws = ws
	groups := make([]string, 0, len(c.groups))
	for group := range c.groups {
		groups = append(groups, group)
	}
	c.mu.Unlock()

	for _, group := range groups {
		if err := c.send(ClientMessage{Type: TypeJoinGroup, Group: group}); err != nil {
			return fmt.Errorf("rejoin group %s: %w", group, err)
		}
	}

	if c.opts.Resync != nil {
		if err := c.opts.Resync(ctx); err != nil {
			return fmt.Errorf("resync: %w", err)
		}
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var envelope Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			c.logger.Warn("undecodable event frame", logging.Error(err))
			continue
		}
		if envelope.Type == "pong" {
			continue
		}

		select {
		case c.events <- envelope:
		case <-ctx.Done():
			return
		}
	}
}
