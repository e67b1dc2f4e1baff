package normalize

// MatchText matches {"text": "..."}.
func MatchText(obj map[string]any) (string, bool) {
	return stringField(obj, "text")
}

// MatchArtifactsMessage matches {"artifacts": {"message": "..."}}.
func MatchArtifactsMessage(obj map[string]any) (string, bool) {
	artifacts, ok := obj["artifacts"].(map[string]any)
	if !ok {
		return "", false
	}
	return stringField(artifacts, "message")
}

// MatchMessagesArray returns the "message" of the first element of a
// "messages" array that carries one.
func MatchMessagesArray(obj map[string]any) (string, bool) {
	items, ok := obj["messages"].([]any)
	if !ok {
		return "", false
	}
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := stringField(m, "message"); ok {
			return s, true
		}
	}
	return "", false
}

// MatchFlowOutputs handles outputs[0].outputs, which is either the text
// itself or a collection whose members may carry message.text.
func MatchFlowOutputs(obj map[string]any) (string, bool) {
	outputs, ok := obj["outputs"].([]any)
	if !ok || len(outputs) == 0 {
		return "", false
	}
	first, ok := outputs[0].(map[string]any)
	if !ok {
		return "", false
	}
	switch inner := first["outputs"].(type) {
	case string:
		return inner, true
	case map[string]any:
		for _, k := range sortedKeys(inner) {
			if s, ok := messageText(inner[k]); ok {
				return s, true
			}
		}
	case []any:
		for _, item := range inner {
			if s, ok := messageText(item); ok {
				return s, true
			}
		}
	}
	return "", false
}

// MatchResultsMessageText matches {"results": {"message": {"text": "..."}}}.
func MatchResultsMessageText(obj map[string]any) (string, bool) {
	results, ok := obj["results"].(map[string]any)
	if !ok {
		return "", false
	}
	return messageText(results)
}

func messageText(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	msg, ok := m["message"].(map[string]any)
	if !ok {
		return "", false
	}
	return stringField(msg, "text")
}

func stringField(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
