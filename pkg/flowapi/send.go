package flowapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Response is the decoded result of a buffered run.
type Response struct {
	// Data is the decoded body when it is a JSON object.
	Data       map[string]any
	Raw        json.RawMessage
	StatusCode int
	Status     string
	Header     http.Header
}

// SessionID returns the server-assigned session id, if any.
func (r *Response) SessionID() string {
	if r == nil || r.Data == nil {
		return ""
	}
	s, _ := r.Data["session_id"].(string)
	return s
}

// SendMessage runs flowID once and returns the complete response. Non-2xx
// statuses yield an *HTTPError; there are no retries.
func (c *Client) SendMessage(ctx context.Context, flowID string, req RunRequest) (*Response, error) {
	if c == nil {
		return nil, errors.New("flowapi: client is nil")
	}
	req = normalizeRunRequest(req)
	httpReq, err := c.newRequest(ctx, http.MethodPost, c.runURL(flowID, false), req)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("component", "flowapi").Str("flow_id", flowID).Bool("has_session", req.SessionID != "").Msg("sending message")

	resp, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newHTTPError(resp, false)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: http.MethodPost, URL: httpReq.URL.Redacted(), Err: err}
	}
	out := &Response{
		Raw:        raw,
		StatusCode: resp.StatusCode,
		Status:     statusText(resp),
		Header:     resp.Header,
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrap(err, "decode run response")
	}
	if m, ok := v.(map[string]any); ok {
		out.Data = m
	}
	return out, nil
}
