package broadcast

import (
	"encoding/json"
	"time"
)

// Lifecycle notice types pushed to observers alongside raw protocol events.
const (
	TypeCallStarted         = "call.started"
	TypeCallUpdated         = "call.updated"
	TypeCallEscalated       = "call.escalated"
	TypeCallEnded           = "call.ended"
	TypeError               = "error"
	TypeSessionDisconnected = "session.disconnected"
	TypeObserverAttached    = "observer.attached"
)

// Protocol event types that carry transcript text.
const (
	EventAssistantTranscriptDone       = "response.audio_transcript.done"
	EventAssistantOutputTranscriptDone = "response.output_audio_transcript.done"
	EventCallerTranscriptDone          = "conversation.item.input_audio_transcription.completed"
	EventSessionUpdate                 = "session.update"
)

// Message is the envelope every observer receives.
type Message struct {
	Type       string          `json:"type"`
	StreamSID  string          `json:"streamSid,omitempty"`
	CallSID    string          `json:"callSid,omitempty"`
	FromNumber string          `json:"fromNumber,omitempty"`
	ToNumber   string          `json:"toNumber,omitempty"`
	Event      json.RawMessage `json:"event,omitempty"`
	Error      string          `json:"error,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// transcriptOf extracts the "transcript" field of a protocol event.
func transcriptOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var ev struct {
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ""
	}
	return ev.Transcript
}
