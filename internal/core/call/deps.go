package call

import (
	"context"
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/config"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/broadcast"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/event"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/tool"
	"github.com/google/uuid"
)

// TelephonyConn is the Twilio side of a call.
type TelephonyConn interface {
	SendMedia(payload string) error
	SendMark(name string) error
	SendClear() error
	Close() error
}

// ModelConn is the realtime model side of a call. Send serializes event as JSON.
type ModelConn interface {
	Send(event interface{}) error
	Close() error
}

// Broadcaster receives every annotated session event.
type Broadcaster interface {
	Broadcast(msg broadcast.Message)
}

// CallController issues call-level instructions to the telephony provider.
type CallController interface {
	Transfer(ctx context.Context, callSID string) error
	Hangup(ctx context.Context, callSID string) error
}

// ToolExecutor lists and runs the model's function tools.
type ToolExecutor interface {
	Definitions() []interface{}
	Execute(ctx context.Context, call tool.CallContext, name, argumentsJSON string) (string, error)
}

// Timer is a pending single-shot callback.
type Timer interface {
	Stop() bool
}

// Clock schedules timer callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SessionConfig is what the model is told at session.update time.
type SessionConfig struct {
	Instructions string
	Voice        string
	AudioFormat  string
}

// Deps are shared by every session the registry creates. Nil collaborators are skipped.
type Deps struct {
	Broadcaster Broadcaster
	Controller  CallController
	Tools       ToolExecutor
	Events      event.EventBus
	Clock       Clock
	Timing      config.TimingConfig
	Session     SessionConfig

	// ControlTimeout bounds Transfer and Hangup requests.
	ControlTimeout time.Duration
	// ToolTimeout bounds a single function call.
	ToolTimeout time.Duration
	// MarkName generates playback marker names.
	MarkName func() string
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = realClock{}
	}
	if d.Timing == (config.TimingConfig{}) {
		d.Timing = config.DefaultTimingConfig()
	}
	if d.Session.Voice == "" {
		d.Session.Voice = config.DefaultVoice
	}
	if d.Session.AudioFormat == "" {
		d.Session.AudioFormat = config.DefaultAudioFormat
	}
	if d.ControlTimeout <= 0 {
		d.ControlTimeout = 15 * time.Second
	}
	if d.ToolTimeout <= 0 {
		d.ToolTimeout = 20 * time.Second
	}
	if d.MarkName == nil {
		d.MarkName = func() string { return "turn-" + uuid.NewString() }
	}
	return d
}
