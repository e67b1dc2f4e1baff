// Package flowapi talks to the remote flow-execution API: buffered runs,
// streamed runs over a newline-delimited JSON body, and message feedback.
package flowapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

const (
	DefaultInputType  = "chat"
	DefaultOutputType = "chat"
)

// RunRequest is the body posted to /api/v1/run/{flowId}.
type RunRequest struct {
	InputType       string         `json:"input_type"`
	InputValue      string         `json:"input_value"`
	OutputType      string         `json:"output_type"`
	SessionID       string         `json:"session_id,omitempty"`
	Tweaks          map[string]any `json:"tweaks,omitempty"`
	OutputComponent string         `json:"output_component,omitempty"`
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	headers map[string]string
	http    *http.Client
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHeaders adds headers to every request. They are applied last and
// win over the defaults.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			c.headers[k] = v
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		headers: map[string]string{},
		http:    http.DefaultClient,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	if c == nil {
		return ""
	}
	return c.baseURL
}

func (c *Client) runURL(flowID string, stream bool) string {
	u := c.baseURL + "/api/v1/run/" + url.PathEscape(flowID)
	if stream {
		u += "?stream=true"
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, u string, body any) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encode request body")
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err == nil {
		return resp, nil
	}
	if ctxErr := req.Context().Err(); ctxErr != nil {
		return nil, errors.Wrapf(ctxErr, "%s %s", req.Method, req.URL.Redacted())
	}
	return nil, &NetworkError{Op: req.Method, URL: req.URL.Redacted(), Err: err}
}

func normalizeRunRequest(req RunRequest) RunRequest {
	if req.InputType == "" {
		req.InputType = DefaultInputType
	}
	if req.OutputType == "" {
		req.OutputType = DefaultOutputType
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	return req
}
