package normalize

const UnknownStructure = "Unknown message structure"

// ExtractOutputMessage reads the text of a completed flow output, keyed by
// its "type" discriminator:
//
//	"text"              -> message
//	"message", "object" -> message.text
//
// Anything else yields UnknownStructure.
func ExtractOutputMessage(output map[string]any) string {
	if output == nil {
		return UnknownStructure
	}
	typ, _ := output["type"].(string)
	switch typ {
	case "text":
		return asText(output["message"])
	case "message", "object":
		msg, ok := output["message"].(map[string]any)
		if !ok {
			return ""
		}
		return asText(msg["text"])
	default:
		return UnknownStructure
	}
}

func asText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return Normalize(t)
	}
}
