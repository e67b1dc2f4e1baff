package widget

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/punku-chat/pkg/flowapi"
	"github.com/go-go-golems/punku-chat/pkg/session"
)

const machineSender = "Machine"

// Submit sends text to the flow and blocks until the reply (or the error
// message) is in the message list. Only one submission runs at a time;
// concurrent calls get ErrBusy. Blank input is rejected with ErrEmptyInput.
func (c *Controller) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.disposed {
		c.unlock()
		return ErrDisposed
	}
	if c.state != StateIdle {
		c.unlock()
		return ErrBusy
	}
	c.setStateLocked(StateSending)
	c.unlock()

	valid := c.sessionValid()

	c.mu.Lock()
	if c.disposed {
		c.unlock()
		return ErrDisposed
	}
	if !valid {
		log.Info().Str("component", "widget").Str("widget_id", c.opts.WidgetID).Msg("session no longer valid, starting a new one before sending")
		c.startNewSessionLocked()
	}
	c.refreshing = false
	c.appendLocked(session.Message{Text: text, IsOutgoing: true})
	epoch := c.epoch
	req := flowapi.RunRequest{
		InputType:       c.opts.InputType,
		InputValue:      text,
		OutputType:      c.opts.OutputType,
		SessionID:       c.sessionID,
		Tweaks:          c.opts.Tweaks,
		OutputComponent: c.opts.OutputComponent,
	}
	c.unlock()

	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	var err error
	if c.opts.Streaming {
		err = c.sendStreaming(runCtx, epoch, req)
	} else {
		err = c.sendBuffered(runCtx, epoch, req)
	}

	c.mu.Lock()
	if !c.disposed {
		c.setStateLocked(StateIdle)
	}
	c.unlock()
	return err
}

func (c *Controller) sessionValid() bool {
	if c.opts.Validator != nil {
		return c.opts.Validator()
	}
	c.mu.Lock()
	persisted := c.persisted
	c.unlock()

	stored := c.store.GetStoredSession(c.opts.FlowID)
	if stored == nil {
		// Nothing stored: either storage is unusable, which is fine, or the
		// record was removed after we wrote it.
		return !persisted
	}
	return !c.store.IsSessionExpired(stored, c.opts.SessionConfig)
}

func (c *Controller) sendBuffered(ctx context.Context, epoch uint64, req flowapi.RunRequest) error {
	resp, err := c.client.SendMessage(ctx, c.opts.FlowID, req)

	c.mu.Lock()
	defer c.unlock()
	if c.staleLocked(epoch) {
		return err
	}
	if err != nil {
		c.reportErrorLocked(err)
		return err
	}
	for _, m := range FanOut(resp.Data, c.opts.OutputComponent) {
		c.appendLocked(m)
	}
	c.adoptSessionIDLocked(resp.SessionID())
	return nil
}

// streamRun tracks the messages one streamed reply created.
type streamRun struct {
	epoch      uint64
	fallbackID string
	open       map[string]int
	finished   map[string]bool
}

func (c *Controller) sendStreaming(ctx context.Context, epoch uint64, req flowapi.RunRequest) error {
	run := &streamRun{
		epoch:      epoch,
		fallbackID: uuid.NewString(),
		open:       map[string]int{},
		finished:   map[string]bool{},
	}
	err := c.client.StreamMessage(ctx, c.opts.FlowID, req, flowapi.StreamHandlers{
		OnData: func(record map[string]any) { c.handleStreamRecord(run, record) },
		OnEnd: func() {
			c.mu.Lock()
			if !c.staleLocked(run.epoch) {
				c.finalizeStreamLocked(run)
			}
			c.unlock()
		},
	})
	if err == nil {
		return nil
	}

	c.mu.Lock()
	defer c.unlock()
	if c.staleLocked(epoch) {
		return err
	}
	c.finalizeStreamLocked(run)
	c.reportErrorLocked(err)
	return err
}

// handleStreamRecord interprets one record of a streamed reply:
//
//	{"event":"add_message","data":{"sender":"Machine","text":"...","id":"..."}}
//	{"event":"token","data":{"chunk":"...","id":"..."}}
//	{"event":"end","data":{"result":{"session_id":"..."}}}
//	{"event":"error","data":{"error":"..."}}
//
// Messages from other senders and unknown events are ignored.
func (c *Controller) handleStreamRecord(run *streamRun, record map[string]any) {
	ev, _ := record["event"].(string)
	data, _ := record["data"].(map[string]any)

	c.mu.Lock()
	defer c.unlock()
	if c.staleLocked(run.epoch) {
		return
	}

	switch ev {
	case "add_message":
		if sender, _ := data["sender"].(string); sender != machineSender {
			return
		}
		text, _ := data["text"].(string)
		c.upsertStreamLocked(run, streamID(run, data), func(m *session.Message) { m.Text = text })
	case "token":
		chunk, _ := data["chunk"].(string)
		c.upsertStreamLocked(run, streamID(run, data), func(m *session.Message) { m.Text += chunk })
	case "end":
		if result, ok := data["result"].(map[string]any); ok {
			sid, _ := result["session_id"].(string)
			c.adoptSessionIDLocked(sid)
		}
		c.finalizeStreamLocked(run)
	case "error":
		c.finalizeStreamLocked(run)
		text, _ := data["error"].(string)
		if text == "" {
			text, _ = data["text"].(string)
		}
		if text == "" {
			text = GenericErrorMessage
		}
		c.appendLocked(session.Message{Text: text, Error: true})
	}
}

func streamID(run *streamRun, data map[string]any) string {
	if id, ok := data["id"].(string); ok && id != "" {
		return id
	}
	return run.fallbackID
}

func (c *Controller) upsertStreamLocked(run *streamRun, id string, apply func(*session.Message)) {
	if run.finished[id] {
		return
	}
	if idx, ok := run.open[id]; ok && idx < len(c.messages) {
		m := c.messages[idx]
		apply(&m)
		c.updateLocked(idx, m)
		return
	}
	m := session.Message{ID: id, Streaming: true}
	apply(&m)
	run.open[id] = c.appendLocked(m)
	c.setStateLocked(StateStreamingReply)
}

// finalizeStreamLocked clears the streaming flag on every message the run
// still has open. Each message is finalized exactly once.
func (c *Controller) finalizeStreamLocked(run *streamRun) {
	ids := make([]string, 0, len(run.open))
	for id := range run.open {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return run.open[ids[i]] < run.open[ids[j]] })
	for _, id := range ids {
		idx := run.open[id]
		delete(run.open, id)
		run.finished[id] = true
		if idx >= len(c.messages) {
			continue
		}
		m := c.messages[idx]
		m.Streaming = false
		c.updateLocked(idx, m)
	}
}

func (c *Controller) reportErrorLocked(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	log.Warn().Err(err).Str("component", "widget").Str("widget_id", c.opts.WidgetID).Msg("send failed")
	c.appendLocked(session.Message{Text: ErrorText(err), Error: true})
}

// ErrorText is the user-facing text for a failed send.
func ErrorText(err error) string {
	if flowapi.IsNetworkError(err) {
		return NetworkErrorMessage
	}
	if he, ok := flowapi.AsHTTPError(err); ok && he.StatusCode == 500 && he.Detail != "" {
		return he.Detail
	}
	return GenericErrorMessage
}
