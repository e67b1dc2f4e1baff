package flowapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

const maxErrorBody = 4096

var (
	// ErrStreamUnsupported means the response carried no readable body.
	ErrStreamUnsupported = errors.New("stream not supported")
	// ErrFeedbackSubmit matches every *FeedbackSubmitError.
	ErrFeedbackSubmit = errors.New("feedback submit failed")
)

// HTTPError reports a non-2xx response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
	// Detail is the "detail" field of a JSON error body, if any.
	Detail string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP error! status: %d, body: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
}

// NetworkError is a transport-level failure: DNS, refused or reset
// connections, TLS errors.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

type FeedbackSubmitError struct {
	MessageID string
	Err       error
}

func (e *FeedbackSubmitError) Error() string {
	return fmt.Sprintf("submit feedback for message %s: %v", e.MessageID, e.Err)
}

func (e *FeedbackSubmitError) Unwrap() error { return e.Err }

func (e *FeedbackSubmitError) Is(target error) bool { return target == ErrFeedbackSubmit }

// newHTTPError drains up to maxErrorBody bytes of resp.Body. The body text
// is only kept on the error when keepBody is set.
func newHTTPError(resp *http.Response, keepBody bool) *HTTPError {
	e := &HTTPError{StatusCode: resp.StatusCode, Status: statusText(resp)}
	if resp.Body == nil {
		return e
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	body := strings.TrimSpace(string(b))
	e.Detail = detailFromBody(b)
	if keepBody {
		e.Body = body
	}
	return e
}

func detailFromBody(b []byte) string {
	var payload struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(b, &payload); err != nil || payload.Detail == nil {
		return ""
	}
	if s, ok := payload.Detail.(string); ok {
		return s
	}
	out, err := json.Marshal(payload.Detail)
	if err != nil {
		return ""
	}
	return string(out)
}

func statusText(resp *http.Response) string {
	if t := http.StatusText(resp.StatusCode); t != "" {
		return t
	}
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
}

// AsHTTPError unwraps err to an *HTTPError.
func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// IsNetworkError reports whether err is or wraps a *NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
