// Package widget holds the chat widget controller: open state, the session
// handle, the message list, and the send/stream/feedback flows that keep
// them in sync with the flow API and the session store.
package widget

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/punku-chat/pkg/flowapi"
	"github.com/go-go-golems/punku-chat/pkg/session"
	"github.com/go-go-golems/punku-chat/pkg/widget/events"
)

const (
	NetworkErrorMessage = "Network error"
	GenericErrorMessage = "Something went wrong, please try again."

	// WelcomeMessageID marks the synthetic greeting; it never takes feedback.
	WelcomeMessageID = "welcome-message"
)

var (
	ErrEmptyInput         = errors.New("widget: empty input")
	ErrBusy               = errors.New("widget: a message is already in flight")
	ErrDisposed           = errors.New("widget: controller disposed")
	ErrMessageNotFound    = errors.New("widget: message not found")
	ErrFeedbackNotAllowed = errors.New("widget: feedback not allowed on this message")
	ErrInvalidFeedback    = errors.New("widget: feedback must be positive or negative")
)

// Transport is the subset of *flowapi.Client the controller uses.
type Transport interface {
	SendMessage(ctx context.Context, flowID string, req flowapi.RunRequest) (*flowapi.Response, error)
	StreamMessage(ctx context.Context, flowID string, req flowapi.RunRequest, h flowapi.StreamHandlers) error
	SendFeedback(ctx context.Context, messageID string, fb session.Feedback) error
}

// SessionStore is the subset of *session.Store the controller uses.
type SessionStore interface {
	GetOrCreateSession(flowID, explicitID string, cfg session.Config) session.Result
	GetStoredSession(flowID string) *session.Session
	UpdateMessages(flowID string, messages []session.Message) bool
	UpdateSessionID(flowID, newID string) bool
	ClearSession(flowID string)
	IsSessionExpired(sess *session.Session, cfg session.Config) bool
	CleanupExpiredSessions(cfg session.Config) int
}

type EventPublisher interface {
	Publish(ev events.Event) error
}

var (
	_ Transport    = &flowapi.Client{}
	_ SessionStore = &session.Store{}
	_ Handle       = &Controller{}
)

type Options struct {
	WidgetID        string
	FlowID          string
	InputType       string
	OutputType      string
	OutputComponent string
	Tweaks          map[string]any
	// SessionID forces a fresh session with this id.
	SessionID     string
	SessionConfig session.Config
	Streaming     bool
	StartOpen     bool

	// Validator reports whether the current session may still be used.
	// Defaults to checking the stored record for expiry.
	Validator func() bool
	// OnMessagesChange receives a copy of the message list after every change.
	OnMessagesChange func(messages []session.Message)
	// OnFeedbackChange is told about optimistic feedback and its rollback.
	OnFeedbackChange func(messageID string, fb session.Feedback)

	Events   EventPublisher
	Registry *Registry
}

// Snapshot is a point-in-time copy of the controller state.
type Snapshot struct {
	WidgetID          string            `json:"widget_id"`
	SessionID         string            `json:"session_id"`
	Open              bool              `json:"open"`
	State             string            `json:"state"`
	RefreshingSession bool              `json:"refreshing_session"`
	Messages          []session.Message `json:"messages"`
}

type Controller struct {
	opts   Options
	client Transport
	store  SessionStore

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	open       bool
	state      State
	messages   []session.Message
	sessionID  string
	persisted  bool
	refreshing bool
	disposed   bool
	// epoch changes whenever in-flight results must be dropped.
	epoch      uint64
	unregister func()

	pending        []events.Event
	messagesDirty  bool
	feedbackNotice []feedbackNotice
}

type feedbackNotice struct {
	id string
	fb session.Feedback
}

func NewController(client Transport, store SessionStore, opts Options) (*Controller, error) {
	if client == nil {
		return nil, errors.New("widget: transport is nil")
	}
	if store == nil {
		return nil, errors.New("widget: session store is nil")
	}
	opts.FlowID = strings.TrimSpace(opts.FlowID)
	if opts.FlowID == "" {
		return nil, errors.New("widget: flow id is empty")
	}
	if opts.WidgetID == "" {
		opts.WidgetID = DefaultWidgetID
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		opts:   opts,
		client: client,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
		open:   opts.StartOpen,
	}

	if n := store.CleanupExpiredSessions(opts.SessionConfig); n > 0 {
		log.Debug().Str("component", "widget").Str("widget_id", opts.WidgetID).Int("removed", n).Msg("removed expired sessions")
	}
	res := store.GetOrCreateSession(opts.FlowID, opts.SessionID, opts.SessionConfig)
	c.sessionID = res.SessionID
	c.messages = cloneMessages(res.Messages)
	c.persisted = store.GetStoredSession(opts.FlowID) != nil

	if opts.Registry != nil {
		c.unregister = opts.Registry.Publish(APIKey(opts.WidgetID), c)
	}

	c.mu.Lock()
	c.emitLocked(events.TypeSessionStarted, -1, nil)
	c.unlock()

	log.Info().Str("component", "widget").Str("widget_id", opts.WidgetID).Str("session_id", res.SessionID).Bool("new_session", res.IsNewSession).Int("messages", len(res.Messages)).Msg("widget ready")
	return c, nil
}

func (c *Controller) WidgetID() string { return c.opts.WidgetID }
func (c *Controller) FlowID() string   { return c.opts.FlowID }

func (c *Controller) Open()   { c.setOpen(true) }
func (c *Controller) Close()  { c.setOpen(false) }
func (c *Controller) Toggle() { c.setOpen(!c.IsOpen()) }

func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Controller) setOpen(v bool) {
	c.mu.Lock()
	if c.disposed || c.open == v {
		c.unlock()
		return
	}
	c.open = v
	if v {
		c.emitLocked(events.TypeOpened, -1, nil)
	} else {
		c.emitLocked(events.TypeClosed, -1, nil)
	}
	c.unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Controller) Messages() []session.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneMessages(c.messages)
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		WidgetID:          c.opts.WidgetID,
		SessionID:         c.sessionID,
		Open:              c.open,
		State:             c.state.String(),
		RefreshingSession: c.refreshing,
		Messages:          cloneMessages(c.messages),
	}
}

// AddMessage appends msg and persists the list.
func (c *Controller) AddMessage(msg session.Message) {
	c.mu.Lock()
	if !c.disposed {
		c.appendLocked(msg)
	}
	c.unlock()
}

// UpdateLastMessage replaces the last message, or appends msg to an empty
// list.
func (c *Controller) UpdateLastMessage(msg session.Message) {
	c.mu.Lock()
	if !c.disposed {
		if n := len(c.messages); n > 0 {
			c.updateLocked(n-1, msg)
		} else {
			c.appendLocked(msg)
		}
	}
	c.unlock()
}

// StartNewSession drops the stored session and the local messages and
// starts over with a fresh session id. Results of requests still in flight
// are discarded.
func (c *Controller) StartNewSession() {
	c.mu.Lock()
	if !c.disposed {
		c.startNewSessionLocked()
	}
	c.unlock()
}

// Dispose cancels in-flight requests, unpublishes the handle, and makes
// every later result a no-op.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.epoch++
	unregister := c.unregister
	c.unregister = nil
	c.pending = nil
	c.mu.Unlock()

	c.cancel()
	if unregister != nil {
		unregister()
	}
	log.Debug().Str("component", "widget").Str("widget_id", c.opts.WidgetID).Msg("widget disposed")
}

func (c *Controller) startNewSessionLocked() {
	c.epoch++
	c.store.ClearSession(c.opts.FlowID)
	res := c.store.GetOrCreateSession(c.opts.FlowID, "", c.opts.SessionConfig)
	c.sessionID = res.SessionID
	c.messages = nil
	c.persisted = false
	c.persistLocked()
	c.refreshing = true
	c.messagesDirty = true
	c.emitLocked(events.TypeMessagesReset, -1, nil)
	c.emitLocked(events.TypeSessionStarted, -1, nil)
	log.Info().Str("component", "widget").Str("widget_id", c.opts.WidgetID).Str("session_id", c.sessionID).Msg("started new session")
}

func (c *Controller) appendLocked(msg session.Message) int {
	c.messages = append(c.messages, msg)
	idx := len(c.messages) - 1
	c.persistLocked()
	c.messagesDirty = true
	c.emitLocked(events.TypeMessageAdded, idx, &msg)
	return idx
}

func (c *Controller) updateLocked(idx int, msg session.Message) {
	c.messages[idx] = msg
	c.persistLocked()
	c.messagesDirty = true
	c.emitLocked(events.TypeMessageUpdated, idx, &msg)
}

func (c *Controller) persistLocked() {
	if c.store.UpdateMessages(c.opts.FlowID, cloneMessages(c.messages)) {
		c.persisted = true
	}
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.emitLocked(events.TypeStateChanged, -1, nil)
}

func (c *Controller) adoptSessionIDLocked(id string) {
	if id == "" || id == c.sessionID {
		return
	}
	c.sessionID = id
	if c.store.UpdateSessionID(c.opts.FlowID, id) {
		c.persisted = true
	}
	c.emitLocked(events.TypeSessionUpdated, -1, nil)
}

func (c *Controller) staleLocked(epoch uint64) bool {
	return c.disposed || c.epoch != epoch
}

func (c *Controller) indexOfLocked(messageID string) int {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

func (c *Controller) emitLocked(typ events.Type, idx int, msg *session.Message) {
	if c.opts.Events == nil {
		return
	}
	c.pending = append(c.pending, events.Event{
		Type:        typ,
		WidgetID:    c.opts.WidgetID,
		SessionID:   c.sessionID,
		State:       c.state.String(),
		Open:        c.open,
		Index:       idx,
		Message:     msg,
		MessagesLen: len(c.messages),
		AtMs:        events.Now(),
	})
}

// unlock releases c.mu and then delivers whatever the critical section
// queued: bus events, the message list callback, feedback callbacks.
func (c *Controller) unlock() {
	evs := c.pending
	c.pending = nil
	var msgs []session.Message
	notify := c.messagesDirty && c.opts.OnMessagesChange != nil
	if notify {
		msgs = cloneMessages(c.messages)
	}
	c.messagesDirty = false
	fbs := c.feedbackNotice
	c.feedbackNotice = nil
	c.mu.Unlock()

	for _, ev := range evs {
		if err := c.opts.Events.Publish(ev); err != nil {
			log.Warn().Err(err).Str("component", "widget").Str("widget_id", c.opts.WidgetID).Str("event", string(ev.Type)).Msg("failed to publish widget event")
		}
	}
	if notify {
		c.opts.OnMessagesChange(msgs)
	}
	if c.opts.OnFeedbackChange != nil {
		for _, n := range fbs {
			c.opts.OnFeedbackChange(n.id, n.fb)
		}
	}
}

func cloneMessages(in []session.Message) []session.Message {
	if in == nil {
		return nil
	}
	out := make([]session.Message, len(in))
	copy(out, in)
	return out
}
