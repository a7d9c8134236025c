package event

import (
	"time"
)

// EventType represents the type of event
type EventType string

// Call lifecycle events
const (
	CallStarted   EventType = "call.started"
	CallEscalated EventType = "call.escalated"
	CallEnded     EventType = "call.ended"

	// Internal/system events
	HandlerPanic EventType = "handler.panic"
)

// TranscriptLine is one spoken turn as recorded by the session.
type TranscriptLine struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// CallEvent is published on the bus at call lifecycle edges.
type CallEvent struct {
	Type       EventType        `json:"type"`
	StreamSID  string           `json:"stream_sid"`
	CallSID    string           `json:"call_sid,omitempty"`
	From       string           `json:"from,omitempty"`
	To         string           `json:"to,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	Timestamp  time.Time        `json:"timestamp"`
	Transcript []TranscriptLine `json:"transcript,omitempty"`
	Error      error            `json:"-"`
}

// NewCallEvent creates a new call event stamped with the current time.
func NewCallEvent(eventType EventType, streamSID string) *CallEvent {
	return &CallEvent{
		Type:      eventType,
		StreamSID: streamSID,
		Timestamp: time.Now(),
	}
}

// WithCall adds the call identifier and phone numbers.
func (e *CallEvent) WithCall(callSID, from, to string) *CallEvent {
	e.CallSID = callSID
	e.From = from
	e.To = to
	return e
}

// WithReason records why the call ended or escalated.
func (e *CallEvent) WithReason(reason string) *CallEvent {
	e.Reason = reason
	return e
}

// WithError adds error to the event
func (e *CallEvent) WithError(err error) *CallEvent {
	e.Error = err
	return e
}

// IsError returns true if the event contains an error
func (e *CallEvent) IsError() bool {
	return e.Error != nil
}

// Duration is the wall-clock length of the call up to the event.
func (e *CallEvent) Duration() time.Duration {
	if e.StartedAt.IsZero() {
		return 0
	}
	return e.Timestamp.Sub(e.StartedAt)
}
