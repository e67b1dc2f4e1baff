package hostbridge

import (
	"github.com/go-go-golems/punku-chat/pkg/session"
	"github.com/go-go-golems/punku-chat/pkg/widget"
)

// Client frame types.
const (
	FrameOpen       = "open"
	FrameClose      = "close"
	FrameToggle     = "toggle"
	FrameSend       = "send"
	FrameNewSession = "new_session"
	FrameFeedback   = "feedback"
	FramePing       = "ping"
)

// Server-only frame types; widget events are forwarded with their own type.
const (
	FrameHello = "hello"
	FramePong  = "pong"
	FrameError = "error"
)

type ClientFrame struct {
	Type      string           `json:"type"`
	Text      string           `json:"text,omitempty"`
	MessageID string           `json:"message_id,omitempty"`
	Feedback  session.Feedback `json:"feedback,omitempty"`
}

type helloFrame struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"server_time"`
	widget.Snapshot
}

type errorFrame struct {
	Type  string `json:"type"`
	Op    string `json:"op,omitempty"`
	Error string `json:"error"`
}

type pongFrame struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"server_time"`
}
