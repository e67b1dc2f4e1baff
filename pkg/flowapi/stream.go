package flowapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const doneToken = "[DONE]"

// StreamHandlers receive stream callbacks on the goroutine that called
// StreamMessage. Nil handlers are skipped.
type StreamHandlers struct {
	OnData  func(record map[string]any)
	OnEnd   func()
	OnError func(err error)
}

// StreamMessage runs flowID in streaming mode and delivers every JSON record
// of the response body to h.OnData as soon as it is complete. OnEnd fires
// once, on [DONE] or at the end of the body. Any failure is reported to
// h.OnError before being returned.
func (c *Client) StreamMessage(ctx context.Context, flowID string, req RunRequest, h StreamHandlers) (err error) {
	defer func() {
		if err != nil && h.OnError != nil {
			h.OnError(err)
		}
	}()
	if c == nil {
		return errors.New("flowapi: client is nil")
	}
	req = normalizeRunRequest(req)
	httpReq, err := c.newRequest(ctx, http.MethodPost, c.runURL(flowID, true), req)
	if err != nil {
		return err
	}
	log.Debug().Str("component", "flowapi").Str("flow_id", flowID).Bool("has_session", req.SessionID != "").Msg("streaming message")

	resp, err := c.do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		herr := newHTTPError(resp, true)
		log.Warn().Str("component", "flowapi").Int("status", herr.StatusCode).Str("body", herr.Body).Msg("stream request failed")
		return herr
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return ErrStreamUnsupported
	}

	onData := h.OnData
	if onData == nil {
		onData = func(map[string]any) {}
	}
	if _, err := ReadRecords(resp.Body, onData); err != nil {
		if ctxErr := httpReq.Context().Err(); ctxErr != nil {
			return errors.Wrap(ctxErr, "stream aborted")
		}
		return err
	}
	if h.OnEnd != nil {
		h.OnEnd()
	}
	return nil
}

// ReadRecords reads newline-delimited JSON objects from r. Lines have no
// length limit. Blank lines are ignored, lines that do not decode to an
// object are skipped, and a line holding [DONE] stops reading. A final
// record without a trailing newline is still delivered. done reports
// whether [DONE] was seen.
func ReadRecords(r io.Reader, onRecord func(map[string]any)) (done bool, err error) {
	br := bufio.NewReader(r)
	for {
		raw, readErr := br.ReadBytes('\n')
		if line := bytes.TrimSpace(raw); len(line) > 0 {
			if string(line) == doneToken {
				return true, nil
			}
			var record map[string]any
			if err := json.Unmarshal(line, &record); err != nil || record == nil {
				log.Debug().Err(err).Str("component", "flowapi").Int("len", len(line)).Msg("skipping malformed stream record")
			} else {
				onRecord(record)
			}
		}
		if readErr == io.EOF {
			return false, nil
		}
		if readErr != nil {
			return false, errors.Wrap(readErr, "read stream")
		}
	}
}
