package flowapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/punku-chat/pkg/session"
)

// chunkReader returns each chunk from a separate Read call.
type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

type recorder struct {
	calls []string
}

func (r *recorder) handlers() StreamHandlers {
	return StreamHandlers{
		OnData: func(m map[string]any) {
			b, _ := json.Marshal(m)
			r.calls = append(r.calls, "data:"+string(b))
		},
		OnEnd:   func() { r.calls = append(r.calls, "end") },
		OnError: func(err error) { r.calls = append(r.calls, "error") },
	}
}

func TestReadRecords_ChunkReassembly(t *testing.T) {
	var got []map[string]any
	done, err := ReadRecords(&chunkReader{chunks: []string{"{\"a\":1}\n{\"b\"", ":2}\n[DONE]\n"}}, func(m map[string]any) {
		got = append(got, m)
	})
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, []map[string]any{{"a": float64(1)}, {"b": float64(2)}}, got)
}

func TestReadRecords_SkipsBlankAndMalformed(t *testing.T) {
	var got []map[string]any
	body := "\n  \n{broken\n[1,2]\n  {\"ok\":true}  \r\n{\"tail\":1}"
	done, err := ReadRecords(strings.NewReader(body), func(m map[string]any) { got = append(got, m) })
	require.NoError(t, err)
	require.False(t, done)
	require.Equal(t, []map[string]any{{"ok": true}, {"tail": float64(1)}}, got)
}

func TestReadRecords_StopsAtDone(t *testing.T) {
	n := 0
	done, err := ReadRecords(strings.NewReader("{\"a\":1}\n[DONE]\n{\"b\":2}\n"), func(map[string]any) { n++ })
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, 1, n)
}

func TestReadRecords_LongRecord(t *testing.T) {
	long := `{"text":"` + strings.Repeat("x", 9<<20) + `"}`
	body := "{\"a\":1}\n" + long + "\n{\"b\":2}\n[DONE]\n"

	var got []map[string]any
	done, err := ReadRecords(strings.NewReader(body), func(m map[string]any) { got = append(got, m) })
	require.NoError(t, err)
	require.True(t, done)
	require.Len(t, got, 3)
	require.Len(t, got[1]["text"], 9<<20)
	require.Equal(t, map[string]any{"b": float64(2)}, got[2])
}

type failingReader struct{ data string }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.data == "" {
		return 0, errors.New("connection reset")
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestReadRecords_ReadError(t *testing.T) {
	n := 0
	done, err := ReadRecords(&failingReader{data: "{\"a\":1}\n{\"b\""}, func(map[string]any) { n++ })
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")
	require.False(t, done)
	require.Equal(t, 1, n)
}

func TestSendMessage_RequestShape(t *testing.T) {
	var (
		gotPath    string
		gotHeaders http.Header
		gotBody    map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"session_id":"srv-1","outputs":[]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", WithAPIKey("secret"), WithHeaders(map[string]string{
		"X-Tenant":     "acme",
		"Content-Type": "application/json; charset=utf-8",
	}))
	resp, err := c.SendMessage(context.Background(), "flow-1", RunRequest{
		InputValue:      "hello",
		SessionID:       "s-1",
		Tweaks:          map[string]any{"k": "v"},
		OutputComponent: "ChatOutput-1",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "OK", resp.Status)
	require.Equal(t, "srv-1", resp.SessionID())

	require.Equal(t, "/api/v1/run/flow-1", gotPath)
	require.Equal(t, "secret", gotHeaders.Get("x-api-key"))
	require.Equal(t, "acme", gotHeaders.Get("X-Tenant"))
	require.Equal(t, "application/json; charset=utf-8", gotHeaders.Get("Content-Type"))
	require.Equal(t, map[string]any{
		"input_type":       "chat",
		"input_value":      "hello",
		"output_type":      "chat",
		"session_id":       "s-1",
		"tweaks":           map[string]any{"k": "v"},
		"output_component": "ChatOutput-1",
	}, gotBody)
}

func TestSendMessage_OmitsEmptyOptionalFields(t *testing.T) {
	var (
		gotBody    map[string]any
		gotHeaders http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).SendMessage(context.Background(), "f", RunRequest{InputValue: "x", InputType: "text", OutputType: "text"})
	require.NoError(t, err)
	require.NotContains(t, gotBody, "session_id")
	require.NotContains(t, gotBody, "tweaks")
	require.NotContains(t, gotBody, "output_component")
	require.Equal(t, "text", gotBody["input_type"])
	require.Empty(t, gotHeaders.Get("x-api-key"))
	require.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
}

func TestSendMessage_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"detail":"flow crashed"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).SendMessage(context.Background(), "f", RunRequest{InputValue: "x"})
	require.Error(t, err)
	he, ok := AsHTTPError(err)
	require.True(t, ok)
	require.Equal(t, 500, he.StatusCode)
	require.Equal(t, "flow crashed", he.Detail)
	require.Equal(t, "HTTP error! status: 500", he.Error())
}

func TestSendMessage_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).SendMessage(context.Background(), "f", RunRequest{InputValue: "x"})
	require.Error(t, err)
	require.True(t, IsNetworkError(err))
}

func TestStreamMessage_Flow(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fl := w.(http.Flusher)
		_, _ = io.WriteString(w, "{\"a\":1}\n{\"b\"")
		fl.Flush()
		_, _ = io.WriteString(w, ":2}\nnot-json\n[DONE]\n{\"c\":3}\n")
		fl.Flush()
	}))
	defer srv.Close()

	rec := &recorder{}
	err := NewClient(srv.URL).StreamMessage(context.Background(), "f", RunRequest{InputValue: "x"}, rec.handlers())
	require.NoError(t, err)
	require.Equal(t, "stream=true", gotQuery)
	require.Equal(t, []string{`data:{"a":1}`, `data:{"b":2}`, "end"}, rec.calls)
}

func TestStreamMessage_NaturalEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "{\"a\":1}\n")
	}))
	defer srv.Close()

	rec := &recorder{}
	require.NoError(t, NewClient(srv.URL).StreamMessage(context.Background(), "f", RunRequest{}, rec.handlers()))
	require.Equal(t, []string{`data:{"a":1}`, "end"}, rec.calls)
}

func TestStreamMessage_HTTPErrorIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream down")
	}))
	defer srv.Close()

	rec := &recorder{}
	err := NewClient(srv.URL).StreamMessage(context.Background(), "f", RunRequest{}, rec.handlers())
	require.Error(t, err)
	require.Equal(t, []string{"error"}, rec.calls)
	he, ok := AsHTTPError(err)
	require.True(t, ok)
	require.Equal(t, "upstream down", he.Body)
	require.Equal(t, "HTTP error! status: 502, body: upstream down", err.Error())
}

func TestStreamMessage_NoBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rec := &recorder{}
	err := NewClient(srv.URL).StreamMessage(context.Background(), "f", RunRequest{}, rec.handlers())
	require.ErrorIs(t, err, ErrStreamUnsupported)
	require.Equal(t, []string{"error"}, rec.calls)
}

func TestSendFeedback(t *testing.T) {
	var (
		gotMethod string
		gotPath   string
		gotBody   map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	require.NoError(t, c.SendFeedback(context.Background(), "m-1", session.FeedbackPositive))
	require.Equal(t, http.MethodPut, gotMethod)
	require.Equal(t, "/api/v1/monitor/messages/m-1", gotPath)
	require.Equal(t, map[string]any{"properties": map[string]any{"positive_feedback": true}}, gotBody)

	require.NoError(t, c.SendFeedback(context.Background(), "m-2", session.FeedbackNegative))
	require.Equal(t, map[string]any{"properties": map[string]any{"positive_feedback": false}}, gotBody)

	err := c.SendFeedback(context.Background(), "missing", session.FeedbackPositive)
	require.ErrorIs(t, err, ErrFeedbackSubmit)
	var fe *FeedbackSubmitError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, "missing", fe.MessageID)
	_, ok := AsHTTPError(err)
	require.True(t, ok)
}
