// Package realtime implements the WebSocket session gateway and the
// delivery path that fans committed messages out to subscribed sessions.
//
// Frames are JSON objects discriminated by "type". Inbound frames share one
// decoding struct; outbound frames each have their own shape.
package realtime

import (
	"time"

	"github.com/tbourn/go-consult-chat/internal/domain"
)

// Client → server frame types.
const (
	FrameAuth  = "auth"
	FrameJoin  = "join"
	FrameLeave = "leave"
	FrameSend  = "message:send"
	FrameRead  = "read"
)

// Server → client frame types.
const (
	FrameReady      = "ready"
	FrameJoined     = "joined"
	FrameLeft       = "left"
	FrameMessageNew = "message:new"
	FrameMessageAck = "message:ack"
	FrameReadAck    = "read:ack"
	FrameError      = "error"
	FrameDisconnect = "disconnect"
)

// CloseUnauthenticated is the close code sent when a session fails or loses
// authentication.
const CloseUnauthenticated = 4401

// Disconnect reasons.
const (
	ReasonServerShutdown = "server_shutdown"
	ReasonSlowConsumer   = "slow_consumer"
)

// inbound is the union of every client frame.
type inbound struct {
	Type       string `json:"type"`
	Token      string `json:"token,omitempty"`
	RoomID     string `json:"room_id,omitempty"`
	LastSeq    *int64 `json:"last_seq,omitempty"`
	Body       string `json:"body,omitempty"`
	ClientRef  string `json:"client_ref,omitempty"`
	ThroughSeq *int64 `json:"through_seq,omitempty"`
}

type readyFrame struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

type joinedFrame struct {
	Type    string `json:"type"`
	RoomID  string `json:"room_id"`
	LastSeq int64  `json:"last_seq"`
}

type leftFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type messageFrame struct {
	Type      string         `json:"type"`
	ClientRef string         `json:"client_ref,omitempty"`
	Message   domain.Message `json:"message"`
}

type readAckFrame struct {
	Type        string `json:"type"`
	RoomID      string `json:"room_id"`
	LastReadSeq int64  `json:"last_read_seq"`
	UnreadCount int64  `json:"unread_count"`
}

type errorFrame struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RoomID    string `json:"room_id,omitempty"`
	ClientRef string `json:"client_ref,omitempty"`
}

type disconnectFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func newError(code, msg string) errorFrame {
	return errorFrame{Type: FrameError, Code: code, Message: msg}
}
