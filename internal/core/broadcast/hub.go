// Package broadcast fans call events out to dashboard observers and hands
// transcript lines to the persistence side channels.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/signal"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/task"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/domain"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sessions is the view of the live call registry the hub needs for inbound
// observer messages.
type Sessions interface {
	// BroadcastModelEvent forwards raw to every live model connection and
	// returns how many sessions received it.
	BroadcastModelEvent(raw []byte) int
	// AttachObserver associates o with a single session.
	AttachObserver(streamSID string, o Observer) bool
}

// TranscriptWriter persists one transcript line.
type TranscriptWriter interface {
	InsertTranscript(ctx context.Context, t domain.Transcript) error
}

// Registrar records a caller with the customer registration API.
type Registrar interface {
	RegisterCaller(ctx context.Context, callerPhone, companyPhone, callSID string) error
}

// Submitter runs side-effect work off the broadcast path.
type Submitter interface {
	Submit(name string, fn task.Func) error
}

// Hub holds the observer set. The value of each entry is the stream the
// observer is bound to, or "" for observers that receive every call.
type Hub struct {
	mu        sync.RWMutex
	observers map[Observer]string

	sessions    Sessions
	transcripts TranscriptWriter
	registrar   Registrar
	tasks       Submitter
	now         func() time.Time
	log         *zap.Logger
}

// HubOption configures optional collaborators.
type HubOption func(*Hub)

func WithTranscriptWriter(w TranscriptWriter) HubOption {
	return func(h *Hub) { h.transcripts = w }
}

func WithRegistrar(r Registrar) HubOption {
	return func(h *Hub) { h.registrar = r }
}

func WithSubmitter(s Submitter) HubOption {
	return func(h *Hub) { h.tasks = s }
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		observers: make(map[Observer]string),
		now:       time.Now,
		log:       logger.Base().With(zap.String("component", "broadcast")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetSessions wires the registry after both sides exist.
func (h *Hub) SetSessions(s Sessions) {
	h.mu.Lock()
	h.sessions = s
	h.mu.Unlock()
}

// Add registers an observer that receives every call's events.
func (h *Hub) Add(o Observer) {
	h.mu.Lock()
	h.observers[o] = ""
	n := len(h.observers)
	h.mu.Unlock()
	h.log.Info("Observer connected", zap.Int("observers", n))
}

// Remove drops o and closes it. Removing an unknown observer is a no-op.
func (h *Hub) Remove(o Observer) {
	h.mu.Lock()
	_, ok := h.observers[o]
	delete(h.observers, o)
	n := len(h.observers)
	h.mu.Unlock()

	if ok {
		_ = o.Close()
		h.log.Info("Observer disconnected", zap.Int("observers", n))
	}
}

// Bind restricts o to a single stream's events.
func (h *Hub) Bind(o Observer, streamSID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.observers[o]; ok {
		h.observers[o] = streamSID
	}
}

// Len returns the number of connected observers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Broadcast pushes msg to every interested observer and prunes the ones that
// fail. It never blocks on an observer and never returns an error to the call.
func (h *Hub) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}

	h.dispatchSideEffects(msg)

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("Failed to marshal broadcast message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]Observer, 0, len(h.observers))
	for o, bound := range h.observers {
		if bound == "" || bound == msg.StreamSID {
			targets = append(targets, o)
		}
	}
	h.mu.RUnlock()

	var failed []Observer
	for _, o := range targets {
		if err := o.Send(data); err != nil {
			failed = append(failed, o)
		}
	}
	for _, o := range failed {
		h.Remove(o)
	}
}

// HandleInbound processes one frame received from an observer.
func (h *Hub) HandleInbound(o Observer, data []byte) {
	var in struct {
		Type      string `json:"type"`
		StreamSID string `json:"streamSid"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		h.log.Warn("Dropping malformed observer message", zap.Error(err))
		return
	}

	h.mu.RLock()
	sessions := h.sessions
	h.mu.RUnlock()
	if sessions == nil {
		return
	}

	switch {
	case in.Type == EventSessionUpdate:
		n := sessions.BroadcastModelEvent(data)
		h.log.Info("Forwarded session configuration to live calls", zap.Int("sessions", n))
	case in.StreamSID != "":
		if !sessions.AttachObserver(in.StreamSID, o) {
			h.sendTo(o, Message{Type: TypeError, StreamSID: in.StreamSID, Error: "session not found"})
			return
		}
		h.Bind(o, in.StreamSID)
		h.sendTo(o, Message{Type: TypeObserverAttached, StreamSID: in.StreamSID})
	default:
		h.log.Warn("Dropping unrecognized observer message", zap.String("type", in.Type))
	}
}

func (h *Hub) sendTo(o Observer, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := o.Send(data); err != nil {
		h.Remove(o)
	}
}

func (h *Hub) dispatchSideEffects(msg Message) {
	switch msg.Type {
	case EventAssistantTranscriptDone, EventAssistantOutputTranscriptDone:
		h.persist(msg, domain.SpeakerAssistant, signal.Strip(transcriptOf(msg.Event)))
	case EventCallerTranscriptDone:
		h.persist(msg, domain.SpeakerCaller, transcriptOf(msg.Event))
	case TypeCallStarted, TypeCallUpdated:
		h.register(msg)
	}
}

func (h *Hub) persist(msg Message, speaker, text string) {
	if h.transcripts == nil || text == "" {
		return
	}
	row := domain.Transcript{
		ID:           uuid.NewString(),
		CallSID:      msg.CallSID,
		CompanyPhone: msg.ToNumber,
		CallerPhone:  msg.FromNumber,
		Speaker:      speaker,
		Text:         text,
		CreatedAt:    msg.Timestamp,
	}
	writer := h.transcripts
	h.submit("persist-transcript", func(ctx context.Context) error {
		return writer.InsertTranscript(ctx, row)
	})
}

func (h *Hub) register(msg Message) {
	if h.registrar == nil || msg.FromNumber == "" {
		return
	}
	registrar := h.registrar
	h.submit("register-caller", func(ctx context.Context) error {
		return registrar.RegisterCaller(ctx, msg.FromNumber, msg.ToNumber, msg.CallSID)
	})
}

func (h *Hub) submit(name string, fn task.Func) {
	if h.tasks == nil {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					h.log.Error("Side effect panic", zap.String("task", name), zap.Any("panic", r))
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := fn(ctx); err != nil {
				h.log.Warn("Side effect failed", zap.String("task", name), zap.Error(err))
			}
		}()
		return
	}
	if err := h.tasks.Submit(name, fn); err != nil {
		h.log.Warn("Side effect not scheduled", zap.String("task", name), zap.Error(err))
	}
}
