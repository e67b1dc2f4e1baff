package widget

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeMap(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func texts(t *testing.T, data map[string]any, component string) []string {
	t.Helper()
	var out []string
	for _, m := range FanOut(data, component) {
		require.False(t, m.IsOutgoing)
		out = append(out, m.Text)
	}
	return out
}

func TestFanOut_SingleOutput(t *testing.T) {
	data := decodeMap(t, `{"outputs":[{"outputs":[
		{"component_id":"ChatOutput-1","outputs":{"message":{"type":"text","message":"hello","id":"m-1"}}}
	]}]}`)
	msgs := FanOut(data, "")
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", msgs[0].Text)
	require.Equal(t, "m-1", msgs[0].ID)
}

func TestFanOut_OrdersByEarliestTimestamp(t *testing.T) {
	data := decodeMap(t, `{"outputs":[{"outputs":[
		{"component_id":"c3","outputs":{"message":{"type":"message","message":{"text":"T3","timestamp":"2024-01-01T10:00:03Z"}}}},
		{"component_id":"c1","outputs":{"message":{"type":"message","message":{"text":"T1","timestamp":"2024-01-01T10:00:01Z"}}}},
		{"component_id":"c2","outputs":{"message":{"type":"message","message":{"text":"T2","timestamp":"2024-01-01 10:00:02 UTC"}}}}
	]}]}`)
	require.Equal(t, []string{"T1", "T2", "T3"}, texts(t, data, ""))
}

func TestFanOut_UnparsableTimestampsSortLast(t *testing.T) {
	data := decodeMap(t, `{"outputs":[{"outputs":[
		{"component_id":"a","outputs":{"message":{"type":"text","message":"no ts"}}},
		{"component_id":"b","outputs":{"message":{"type":"object","message":{"text":"dated","timestamp":"2024-01-01T10:00:00Z"}}}}
	]}]}`)
	require.Equal(t, []string{"dated", "no ts"}, texts(t, data, ""))
}

func TestFanOut_OutputComponent(t *testing.T) {
	data := decodeMap(t, `{"outputs":[{"outputs":[
		{"component_id":"first","outputs":{"message":{"type":"text","message":"ignored"}}},
		{"component_id":"wanted","outputs":{
			"a":{"type":"text","message":"one"},
			"b":{"type":"image","message":"x"}
		}}
	]}]}`)
	msgs := FanOut(data, "wanted")
	require.Len(t, msgs, 2)
	require.Equal(t, "one", msgs[0].Text)
	require.Equal(t, "Unknown message structure", msgs[1].Text)
	require.Equal(t, "wanted", msgs[0].ID)

	// unknown component falls back to the multi-output rule
	require.Len(t, FanOut(data, "missing"), 3)
}

func TestFanOut_EmptyShapes(t *testing.T) {
	require.Nil(t, FanOut(nil, ""))
	require.Nil(t, FanOut(decodeMap(t, `{"outputs":[]}`), ""))
	require.Nil(t, FanOut(decodeMap(t, `{"outputs":[{"outputs":[]}]}`), ""))
	require.Nil(t, FanOut(decodeMap(t, `{"session_id":"x"}`), ""))
}
