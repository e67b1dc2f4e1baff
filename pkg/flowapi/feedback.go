package flowapi

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"github.com/go-go-golems/punku-chat/pkg/session"
)

type feedbackBody struct {
	Properties struct {
		PositiveFeedback bool `json:"positive_feedback"`
	} `json:"properties"`
}

// SendFeedback stores a thumbs up/down on a bot message. Failures are
// returned as *FeedbackSubmitError.
func (c *Client) SendFeedback(ctx context.Context, messageID string, fb session.Feedback) error {
	if c == nil {
		return &FeedbackSubmitError{MessageID: messageID, Err: errors.New("flowapi: client is nil")}
	}
	if messageID == "" {
		return &FeedbackSubmitError{Err: errors.New("empty message id")}
	}
	var body feedbackBody
	body.Properties.PositiveFeedback = fb == session.FeedbackPositive

	u := c.baseURL + "/api/v1/monitor/messages/" + url.PathEscape(messageID)
	req, err := c.newRequest(ctx, http.MethodPut, u, body)
	if err != nil {
		return &FeedbackSubmitError{MessageID: messageID, Err: err}
	}
	resp, err := c.do(req)
	if err != nil {
		return &FeedbackSubmitError{MessageID: messageID, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &FeedbackSubmitError{MessageID: messageID, Err: newHTTPError(resp, true)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
