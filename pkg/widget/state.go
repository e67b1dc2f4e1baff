package widget

type State int

const (
	StateIdle State = iota
	StateSending
	StateStreamingReply
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreamingReply:
		return "streaming_reply"
	default:
		return "unknown"
	}
}
