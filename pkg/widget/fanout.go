package widget

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/go-go-golems/punku-chat/pkg/normalize"
	"github.com/go-go-golems/punku-chat/pkg/session"
)

// FanOut turns a buffered run response into bot messages.
//
// With outputComponent set and present among outputs[0].outputs, only that
// output is used. A single output is used as is. Several outputs are
// ordered by the earliest message timestamp each of them carries.
func FanOut(data map[string]any, outputComponent string) []session.Message {
	flowOutputs := flowOutputsOf(data)
	if len(flowOutputs) == 0 {
		return nil
	}

	if outputComponent != "" {
		for _, fo := range flowOutputs {
			if id, _ := fo["component_id"].(string); id == outputComponent {
				return messagesFromOutput(fo)
			}
		}
	}
	if len(flowOutputs) == 1 {
		return messagesFromOutput(flowOutputs[0])
	}

	type ranked struct {
		output   map[string]any
		earliest float64
	}
	rs := make([]ranked, 0, len(flowOutputs))
	for _, fo := range flowOutputs {
		rs = append(rs, ranked{output: fo, earliest: earliestTimestamp(fo)})
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].earliest < rs[j].earliest })

	var out []session.Message
	for _, r := range rs {
		out = append(out, messagesFromOutput(r.output)...)
	}
	return out
}

func flowOutputsOf(data map[string]any) []map[string]any {
	outputs, ok := data["outputs"].([]any)
	if !ok || len(outputs) == 0 {
		return nil
	}
	first, ok := outputs[0].(map[string]any)
	if !ok {
		return nil
	}
	items, ok := first["outputs"].([]any)
	if !ok {
		return nil
	}
	ret := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			ret = append(ret, m)
		}
	}
	return ret
}

// outputValues returns the values of a flow output's "outputs" map in key
// order.
func outputValues(fo map[string]any) []map[string]any {
	inner, ok := fo["outputs"].(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(inner))
	for k := range inner {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ret := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		if m, ok := inner[k].(map[string]any); ok {
			ret = append(ret, m)
		}
	}
	return ret
}

func messagesFromOutput(fo map[string]any) []session.Message {
	var out []session.Message
	for _, v := range outputValues(fo) {
		out = append(out, session.Message{
			Text: normalize.ExtractOutputMessage(v),
			ID:   outputMessageID(v, fo),
		})
	}
	return out
}

func outputMessageID(v, fo map[string]any) string {
	if id, ok := v["id"].(string); ok && id != "" {
		return id
	}
	if id, ok := v["component_id"].(string); ok && id != "" {
		return id
	}
	if msg, ok := v["message"].(map[string]any); ok {
		if id, ok := msg["id"].(string); ok && id != "" {
			return id
		}
	}
	if id, ok := fo["component_id"].(string); ok {
		return id
	}
	return ""
}

// earliestTimestamp returns the smallest message.timestamp across the
// output's values, in epoch milliseconds. Outputs without a parsable
// timestamp sort last.
func earliestTimestamp(fo map[string]any) float64 {
	earliest := math.Inf(1)
	for _, v := range outputValues(fo) {
		msg, ok := v["message"].(map[string]any)
		if !ok {
			continue
		}
		if ts, ok := parseTimestamp(msg["timestamp"]); ok && ts < earliest {
			earliest = ts
		}
	}
	return earliest
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseTimestamp(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return float64(ts.UnixMilli()), true
			}
		}
		if n, err := strconv.ParseFloat(t, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
