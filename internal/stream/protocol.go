package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ClientMessageType tags messages sent from consumer to server.
type ClientMessageType string

const (
	TypeJoinGroup  ClientMessageType = "join_group"
	TypeLeaveGroup ClientMessageType = "leave_group"
	TypePing       ClientMessageType = "ping"
)

// ClientMessage is the consumer-to-server frame.
type ClientMessage struct {
	Type  ClientMessageType `json:"type"`
	Group string            `json:"group,omitempty"`
}

// PongMessage answers an application-level ping.
type PongMessage struct {
	Type string `json:"type"`
}

// Envelope is the server-to-consumer event frame as decoded by clients. The
// payload stays raw so consumers unmarshal only the event types they use.
type Envelope struct {
	Type      string          `json:"type"`
	TaskID    string          `json:"task_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ParseClientMessage decodes and validates a consumer frame.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("decode client message: %w", err)
	}
	switch msg.Type {
	case TypeJoinGroup, TypeLeaveGroup:
		if strings.TrimSpace(msg.Group) == "" {
			return ClientMessage{}, fmt.Errorf("%s requires a group name", msg.Type)
		}
	case TypePing:
	default:
		return ClientMessage{}, fmt.Errorf("unknown client message type %q", msg.Type)
	}
	return msg, nil
}
