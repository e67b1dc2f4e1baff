package session

import (
	"time"
)

const (
	// KeyPrefix namespaces every record this package writes.
	KeyPrefix = "punku-chat-session"

	DefaultExpiryHours     = 24.0
	DefaultIdleExpiryHours = 0.5
)

type Feedback string

const (
	FeedbackNone     Feedback = ""
	FeedbackPositive Feedback = "positive"
	FeedbackNegative Feedback = "negative"
)

// Message is a single entry of the conversation as shown to the user.
// JSON field names match the records written by the browser widget.
type Message struct {
	Text       string   `json:"message"`
	IsOutgoing bool     `json:"isSend"`
	Error      bool     `json:"error,omitempty"`
	ID         string   `json:"message_id,omitempty"`
	Feedback   Feedback `json:"feedback,omitempty"`
	Streaming  bool     `json:"streaming,omitempty"`
}

// Session is the durable record kept per (domain, flow). Timestamps are
// epoch milliseconds.
type Session struct {
	SessionID    string    `json:"sessionId"`
	Messages     []Message `json:"messages"`
	CreatedAt    int64     `json:"createdAt"`
	LastActiveAt int64     `json:"lastActiveAt"`
	ExpiresAt    int64     `json:"expiresAt"`
	Domain       string    `json:"domain"`
	FlowID       string    `json:"flowId"`
}

// Config controls expiry. Zero or negative values fall back to the defaults.
type Config struct {
	ExpiryHours     float64 `json:"expiryHours,omitempty" yaml:"expiry_hours,omitempty"`
	IdleExpiryHours float64 `json:"idleExpiryHours,omitempty" yaml:"idle_expiry_hours,omitempty"`
}

func (c Config) expiry() time.Duration {
	h := c.ExpiryHours
	if h <= 0 {
		h = DefaultExpiryHours
	}
	return hours(h)
}

func (c Config) idleExpiry() time.Duration {
	h := c.IdleExpiryHours
	if h <= 0 {
		h = DefaultIdleExpiryHours
	}
	return hours(h)
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

// Result is what GetOrCreateSession hands back to the controller.
type Result struct {
	SessionID    string
	Messages     []Message
	IsNewSession bool
}

// Storage is the durable key/value port the store persists records to.
// Implementations return an error when the backing storage is unusable;
// the store degrades instead of propagating it.
type Storage interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
	// Keys lists every key starting with prefix.
	Keys(prefix string) ([]string, error)
}

// StorageKey builds "punku-chat-session-{domain}-{flowId}".
func StorageKey(prefix, domain, flowID string) string {
	if prefix == "" {
		prefix = KeyPrefix
	}
	return prefix + "-" + domain + "-" + flowID
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	copy(out, in)
	return out
}
