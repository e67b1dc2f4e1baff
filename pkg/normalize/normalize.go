package normalize

import (
	"encoding/json"
	"sort"

	"github.com/rs/zerolog/log"
)

const (
	FallbackNil   = "No message available"
	FallbackError = "Error displaying message"

	// MaxDepth bounds the recursive descent over nested objects.
	MaxDepth = 32
)

// Matcher inspects a single object level and reports the text it found.
// Matchers must not mutate obj.
type Matcher func(obj map[string]any) (string, bool)

// Matchers is the resolution order applied at every object level before
// the recursive descent kicks in. First match wins.
var Matchers = []Matcher{
	MatchText,
	MatchArtifactsMessage,
	MatchMessagesArray,
	MatchFlowOutputs,
	MatchResultsMessageText,
}

// Normalize extracts display text from payload. It never panics.
func Normalize(payload any) (out string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("component", "normalize").Interface("panic", r).Msg("payload traversal failed")
			out = FallbackError
		}
	}()

	if payload == nil {
		return FallbackNil
	}
	if s, ok := payload.(string); ok {
		return s
	}

	v, err := toGeneric(payload)
	if err != nil {
		return FallbackError
	}
	if v == nil {
		return FallbackNil
	}
	if s, ok := v.(string); ok {
		return s
	}
	if s, ok := resolve(v, 0); ok {
		return s
	}

	b, err := json.Marshal(v)
	if err != nil {
		return FallbackError
	}
	return string(b)
}

// NormalizeJSON decodes raw and normalizes the result. Bodies that are not
// valid JSON are returned verbatim.
func NormalizeJSON(raw []byte) string {
	if len(raw) == 0 {
		return FallbackNil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return Normalize(v)
}

// resolve runs the matcher chain on objects and descends into nested
// containers. Strings found while descending are not matches on their own.
func resolve(v any, depth int) (string, bool) {
	if depth > MaxDepth {
		return "", false
	}
	switch t := v.(type) {
	case map[string]any:
		for _, m := range Matchers {
			if s, ok := m(t); ok {
				return s, true
			}
		}
		for _, k := range sortedKeys(t) {
			if !isContainer(t[k]) {
				continue
			}
			if s, ok := resolve(t[k], depth+1); ok {
				return s, true
			}
		}
	case []any:
		for _, item := range t {
			if !isContainer(item) {
				continue
			}
			if s, ok := resolve(item, depth+1); ok {
				return s, true
			}
		}
	}
	return "", false
}

// toGeneric converts typed values (structs, typed maps) into the
// map[string]any / []any shape the matchers expect.
func toGeneric(payload any) (any, error) {
	switch payload.(type) {
	case map[string]any, []any, float64, bool:
		return payload, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

// sortedKeys gives descent a stable order; decoded JSON objects do not keep
// their key order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
