// Package events carries widget controller notifications over a watermill
// publisher so hosts (terminal UI, websocket bridge) can follow a widget
// without polling it.
package events

import (
	"time"

	"github.com/go-go-golems/punku-chat/pkg/session"
)

type Type string

const (
	TypeMessageAdded    Type = "message_added"
	TypeMessageUpdated  Type = "message_updated"
	TypeMessagesReset   Type = "messages_reset"
	TypeStateChanged    Type = "state_changed"
	TypeSessionStarted  Type = "session_started"
	TypeSessionUpdated  Type = "session_updated"
	TypeFeedbackChanged Type = "feedback_changed"
	TypeOpened          Type = "opened"
	TypeClosed          Type = "closed"
)

type Event struct {
	Type      Type   `json:"type"`
	WidgetID  string `json:"widget_id"`
	SessionID string `json:"session_id,omitempty"`
	State     string `json:"state,omitempty"`
	Open      bool   `json:"open"`
	// Index is the position of Message in the widget's message list.
	Index       int              `json:"index"`
	Message     *session.Message `json:"message,omitempty"`
	MessagesLen int              `json:"messages_len"`
	AtMs        int64            `json:"at_ms"`
}

// Topic is the watermill topic a widget publishes on.
func Topic(widgetID string) string {
	return "punku-chat." + widgetID
}

func Now() int64 { return time.Now().UnixMilli() }
