package widget

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/punku-chat/pkg/session"
	"github.com/go-go-golems/punku-chat/pkg/widget/events"
)

// FeedbackAllowed reports whether m can be rated: finished bot replies
// with a server message id.
func FeedbackAllowed(m session.Message) bool {
	return !m.IsOutgoing && !m.Error && !m.Streaming && m.ID != "" && m.ID != WelcomeMessageID
}

// SubmitFeedback applies fb to the message locally, then submits it. When
// the submission fails the local feedback is reset to none and
// OnFeedbackChange is told about the rollback.
func (c *Controller) SubmitFeedback(ctx context.Context, messageID string, fb session.Feedback) error {
	if fb != session.FeedbackPositive && fb != session.FeedbackNegative {
		return ErrInvalidFeedback
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.disposed {
		c.unlock()
		return ErrDisposed
	}
	idx := c.indexOfLocked(messageID)
	if idx < 0 {
		c.unlock()
		return ErrMessageNotFound
	}
	m := c.messages[idx]
	if !FeedbackAllowed(m) {
		c.unlock()
		return ErrFeedbackNotAllowed
	}
	c.setFeedbackLocked(idx, fb)
	epoch := c.epoch
	c.unlock()

	err := c.client.SendFeedback(ctx, messageID, fb)
	if err == nil {
		return nil
	}
	log.Warn().Err(err).Str("component", "widget").Str("message_id", messageID).Msg("feedback submit failed, rolling back")

	c.mu.Lock()
	if !c.staleLocked(epoch) {
		if idx := c.indexOfLocked(messageID); idx >= 0 {
			c.setFeedbackLocked(idx, session.FeedbackNone)
		}
	}
	c.unlock()
	return err
}

func (c *Controller) setFeedbackLocked(idx int, fb session.Feedback) {
	m := c.messages[idx]
	m.Feedback = fb
	c.messages[idx] = m
	c.persistLocked()
	c.messagesDirty = true
	c.emitLocked(events.TypeFeedbackChanged, idx, &m)
	c.feedbackNotice = append(c.feedbackNotice, feedbackNotice{id: m.ID, fb: fb})
}
