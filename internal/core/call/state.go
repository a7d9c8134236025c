package call

// State is the per-call turn-taking state.
type State int

const (
	StateConnected State = iota
	StateGreeting
	StateListening
	StateSpeaking
	StateIdle
	StateSilence
	StateEscalating
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateGreeting:
		return "greeting"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	case StateIdle:
		return "idle"
	case StateSilence:
		return "silence"
	case StateEscalating:
		return "escalating"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// MarshalText lets State appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// End reasons reported in call.ended and logs.
const (
	ReasonTelephonyClosed = "telephony_closed"
	ReasonModelClosed     = "model_closed"
	ReasonModelFailed     = "model_failed"
	ReasonEscalated       = "escalated"
	ReasonEndCall         = "end_call"
	ReasonSilence         = "silence"
	ReasonMaxDuration     = "max_duration"
	ReasonRateLimited     = "rate_limited"
	ReasonModelErrors     = "model_errors"
	ReasonToolLimit       = "function_call_limit"
	ReasonHangupRequest   = "hangup_requested"
	ReasonShutdown        = "shutdown"
)
