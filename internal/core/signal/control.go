// Package signal detects the control sentinels the model appends to the text
// transcript of a spoken turn.
package signal

import "strings"

// Sentinel tokens. They are matched as plain substrings anywhere in a transcript.
const (
	EscalateToken = "[[ESCALATE_TO_HUMAN]]"
	EndCallToken  = "[[END_CALL]]"
)

// Action is the call-control transition requested by a transcript.
type Action int

const (
	None Action = iota
	Escalate
	EndCall
)

func (a Action) String() string {
	switch a {
	case Escalate:
		return "escalate"
	case EndCall:
		return "end_call"
	default:
		return "none"
	}
}

// Parse returns the control action embedded in transcript, if any.
// Escalation wins when both tokens are present.
func Parse(transcript string) Action {
	if strings.Contains(transcript, EscalateToken) {
		return Escalate
	}
	if strings.Contains(transcript, EndCallToken) {
		return EndCall
	}
	return None
}

// Strip removes every sentinel from transcript so it can be shown or stored.
func Strip(transcript string) string {
	out := strings.ReplaceAll(transcript, EscalateToken, "")
	out = strings.ReplaceAll(out, EndCallToken, "")
	return strings.TrimSpace(out)
}
