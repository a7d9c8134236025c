package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/broadcast"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/event"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/signal"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/tool"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/prompts"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"go.uber.org/zap"
)

var (
	ErrSessionEnded = errors.New("session ended")
	ErrNoModel      = errors.New("model connection not attached")
)

type timerSlot struct {
	name  string
	timer Timer
	gen   uint64
}

// Info is a read-only snapshot of a session.
type Info struct {
	StreamSID string    `json:"streamSid"`
	CallSID   string    `json:"callSid,omitempty"`
	From      string    `json:"fromNumber,omitempty"`
	To        string    `json:"toNumber,omitempty"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"startedAt"`
}

// Session orchestrates one call. Every field below mu is guarded by it; methods
// suffixed Locked expect it held. Work that must run without the lock (closing
// connections, talking to observers) is queued on post and run by unlock.
type Session struct {
	deps  Deps
	onEnd func(*Session)

	mu   sync.Mutex
	post []func()

	streamSID string
	callSID   string
	from      string
	to        string

	telephony TelephonyConn
	model     ModelConn
	observer  broadcast.Observer

	state State
	begun bool
	ended bool

	latestMediaTS       int64
	responseStartTS     int64
	lastAssistantItemID string
	bargeInArmed        bool
	pendingInterrupt    bool

	callerSpeaking    bool
	callerSpoke       bool
	assistantSpoke    bool
	assistantSpeaking bool

	fallbackCount     int
	functionCallCount int

	turnMark      string
	pendingAction signal.Action

	greeting    timerSlot
	silence     timerSlot
	settle      timerSlot
	grace       timerSlot
	maxDuration timerSlot

	startedAt  time.Time
	transcript []event.TranscriptLine

	log *zap.Logger
}

func newSession(streamSID, callSID string, tel TelephonyConn, deps Deps, onEnd func(*Session)) *Session {
	return &Session{
		deps:        deps,
		onEnd:       onEnd,
		streamSID:   streamSID,
		callSID:     callSID,
		telephony:   tel,
		state:       StateConnected,
		startedAt:   time.Now(),
		greeting:    timerSlot{name: "greeting"},
		silence:     timerSlot{name: "silence"},
		settle:      timerSlot{name: "speech_settle"},
		grace:       timerSlot{name: "barge_in_grace"},
		maxDuration: timerSlot{name: "max_duration"},
		log:         logger.ForCall(streamSID, callSID),
	}
}

func (s *Session) unlock() {
	post := s.post
	s.post = nil
	s.mu.Unlock()
	for _, fn := range post {
		fn()
	}
}

func (s *Session) StreamSID() string {
	return s.streamSID
}

func (s *Session) CallSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a snapshot for listings.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		StreamSID: s.streamSID,
		CallSID:   s.callSID,
		From:      s.from,
		To:        s.to,
		State:     s.state,
		StartedAt: s.startedAt,
	}
}

// JoinCallInfo records the phone numbers reported by the call webhook.
func (s *Session) JoinCallInfo(from, to string) {
	s.mu.Lock()
	defer s.unlock()

	if s.ended {
		return
	}
	s.from, s.to = from, to
	s.log.Info("Joined call info", zap.String("from", from), zap.String("to", to))
	if s.begun {
		s.broadcastLocked(broadcast.Message{Type: broadcast.TypeCallUpdated})
	}
}

// AttachObserver associates a legacy single-call dashboard connection.
func (s *Session) AttachObserver(o broadcast.Observer) bool {
	s.mu.Lock()
	defer s.unlock()
	if s.ended {
		return false
	}
	s.observer = o
	return true
}

// Begin announces the call and starts the call duration cap.
func (s *Session) Begin() {
	s.mu.Lock()
	defer s.unlock()

	if s.ended || s.begun {
		return
	}
	s.begun = true
	s.broadcastLocked(broadcast.Message{Type: broadcast.TypeCallStarted})
	s.publishLocked(event.CallStarted, "")

	if d := s.deps.Timing.MaxCallDuration; d > 0 {
		s.armLocked(&s.maxDuration, d, func() {
			s.log.Info("Maximum call duration reached")
			s.executeControlLocked(signal.EndCall, ReasonMaxDuration)
		})
	}
}

// AttachModel hands the open model connection to the session, configures it
// and starts the greeting timer. The connection is closed if the call already ended.
func (s *Session) AttachModel(m ModelConn) error {
	s.mu.Lock()
	defer s.unlock()

	if s.ended {
		s.post = append(s.post, func() { _ = m.Close() })
		return ErrSessionEnded
	}

	s.model = m
	if err := m.Send(s.sessionUpdateLocked()); err != nil {
		s.log.Warn("Failed to send session.update", zap.Error(err))
	}

	s.setStateLocked(StateGreeting)
	s.armLocked(&s.greeting, s.deps.Timing.GreetingDelay, s.onGreetingTimerLocked)
	return nil
}

// SendModelEvent forwards a raw client event, such as an observer's global
// session.update, to this call's model connection.
func (s *Session) SendModelEvent(raw json.RawMessage) error {
	s.mu.Lock()
	defer s.unlock()
	if s.ended {
		return ErrSessionEnded
	}
	if s.model == nil {
		return ErrNoModel
	}
	return s.model.Send(raw)
}

// HandleMedia forwards one inbound telephony frame to the model.
func (s *Session) HandleMedia(timestampMs int64, payload string) {
	s.mu.Lock()
	defer s.unlock()

	if s.ended {
		return
	}
	if timestampMs > s.latestMediaTS {
		s.latestMediaTS = timestampMs
	}
	if s.model == nil {
		return
	}
	if err := s.model.Send(map[string]interface{}{
		"type":  "input_audio_buffer.append",
		"audio": payload,
	}); err != nil {
		s.log.Debug("Failed to forward media", zap.Error(err))
	}
}

// HandleMark processes a playback marker echoed back by Twilio.
func (s *Session) HandleMark(name string) {
	s.mu.Lock()
	defer s.unlock()

	if s.ended || name == "" || name != s.turnMark {
		return
	}

	s.turnMark = ""
	s.clearItemLocked()
	s.assistantSpeaking = false

	if a := s.pendingAction; a != signal.None {
		s.pendingAction = signal.None
		s.log.Info("Playback drained, running control action", zap.Stringer("action", a))
		s.executeControlLocked(a, reasonFor(a))
		return
	}

	switch {
	case s.state == StateEscalating:
	case s.state == StateSpeaking && s.callerSpeaking:
		// caller is mid-utterance; their turn produces the next marker
		s.setStateLocked(StateIdle)
	case s.state == StateSilence:
		s.armSilenceLocked()
	default:
		s.setStateLocked(StateIdle)
		s.armSilenceLocked()
	}
}

// HandleModelClosed is called when the model connection goes away. A clean
// close ends the call; a failure hands the caller to a human.
func (s *Session) HandleModelClosed(err error) {
	s.mu.Lock()
	defer s.unlock()

	if s.ended || s.state == StateEscalating {
		return
	}
	if err == nil {
		s.endLocked(ReasonModelClosed)
		return
	}
	s.log.Warn("Model connection failed", zap.Error(err))
	s.executeControlLocked(signal.Escalate, ReasonModelFailed)
}

// Escalate hands the call to a human right away.
func (s *Session) Escalate(reason string) {
	s.mu.Lock()
	defer s.unlock()
	s.executeControlLocked(signal.Escalate, reason)
}

// Close ends the session. It is safe to call from any path, any number of times.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	defer s.unlock()
	s.endLocked(reason)
}

func (s *Session) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.log.Debug("State transition", zap.Stringer("from", s.state), zap.Stringer("to", st))
	s.state = st
}

// armLocked replaces the slot's timer. A replaced or cancelled timer that
// fires late sees a different generation and does nothing.
func (s *Session) armLocked(slot *timerSlot, d time.Duration, fn func()) {
	s.cancelLocked(slot)
	slot.gen++
	gen := slot.gen
	slot.timer = s.deps.Clock.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.unlock()
		if s.ended || slot.gen != gen {
			return
		}
		slot.timer = nil
		fn()
	})
}

func (s *Session) cancelLocked(slot *timerSlot) {
	if slot.timer != nil {
		slot.timer.Stop()
		slot.timer = nil
	}
	slot.gen++
}

func (s *Session) cancelAllTimersLocked() {
	for _, slot := range []*timerSlot{&s.greeting, &s.silence, &s.settle, &s.grace, &s.maxDuration} {
		s.cancelLocked(slot)
	}
}

func (s *Session) armSilenceLocked() {
	s.armLocked(&s.silence, s.deps.Timing.SilenceTimeout, s.onSilenceTimerLocked)
}

func (s *Session) onGreetingTimerLocked() {
	if !s.callerSpoke && !s.assistantSpoke {
		s.log.Info("No speech yet, greeting the caller")
		s.injectPromptLocked(prompts.GreetingPrompt)
	}
	if s.state == StateGreeting {
		s.setStateLocked(StateListening)
	}
}

func (s *Session) onSilenceTimerLocked() {
	if s.callerSpeaking || s.assistantSpeaking {
		return
	}
	switch s.state {
	case StateIdle, StateListening:
		s.setStateLocked(StateSilence)
		s.log.Info("Silence window elapsed, prompting caller")
		s.injectPromptLocked(prompts.SilencePrompt)
		s.armSilenceLocked()
	case StateSilence:
		s.log.Info("Caller silent for a second window, ending call")
		s.executeControlLocked(signal.EndCall, ReasonSilence)
	}
}

func (s *Session) onSettleTimerLocked() {
	if !s.callerSpeaking {
		return
	}
	s.cancelLocked(&s.greeting)
	s.cancelLocked(&s.silence)

	if s.lastAssistantItemID == "" {
		return
	}
	if s.bargeInArmed {
		s.interruptLocked()
		return
	}
	// assistant turn too young to truncate; the grace timer finishes the job
	s.pendingInterrupt = true
}

func (s *Session) onGraceTimerLocked() {
	if s.lastAssistantItemID == "" {
		return
	}
	s.bargeInArmed = true
	if s.pendingInterrupt {
		s.interruptLocked()
	}
}

// interruptLocked truncates the in-flight assistant item at the point the
// caller actually heard and drops Twilio's buffered audio.
func (s *Session) interruptLocked() {
	if s.lastAssistantItemID == "" {
		return
	}

	elapsed := s.latestMediaTS - s.responseStartTS
	if elapsed < 0 {
		elapsed = 0
	}

	if s.model != nil {
		if err := s.model.Send(map[string]interface{}{
			"type":          "conversation.item.truncate",
			"item_id":       s.lastAssistantItemID,
			"content_index": 0,
			"audio_end_ms":  elapsed,
		}); err != nil {
			s.log.Warn("Failed to send truncate", zap.Error(err))
		}
	}
	if err := s.telephony.SendClear(); err != nil {
		s.log.Warn("Failed to clear telephony audio", zap.Error(err))
	}
	s.log.Info("Caller barged in", zap.String("item_id", s.lastAssistantItemID), zap.Int64("audio_end_ms", elapsed))

	s.clearItemLocked()
	s.assistantSpeaking = false

	if s.pendingAction == signal.EndCall {
		s.log.Info("Dropping end-call, caller interrupted the goodbye")
		s.pendingAction = signal.None
	}
	// Twilio echoes outstanding marks after a clear; keep ours only when an
	// escalation still has to run on it.
	if s.pendingAction != signal.Escalate {
		s.turnMark = ""
	}
}

func (s *Session) clearItemLocked() {
	s.lastAssistantItemID = ""
	s.responseStartTS = 0
	s.bargeInArmed = false
	s.pendingInterrupt = false
	s.cancelLocked(&s.grace)
}

func (s *Session) requestTurnMarkLocked() {
	name := s.deps.MarkName()
	s.turnMark = name
	if err := s.telephony.SendMark(name); err != nil {
		s.log.Warn("Failed to send mark", zap.String("mark", name), zap.Error(err))
	}
}

// scheduleControlLocked defers a to the next playback-drain marker.
func (s *Session) scheduleControlLocked(a signal.Action) {
	if a == signal.None {
		return
	}
	if s.state == StateEscalating || s.state == StateEnded {
		return
	}
	if s.pendingAction != signal.None {
		s.log.Debug("Control action already pending", zap.Stringer("pending", s.pendingAction), zap.Stringer("ignored", a))
		return
	}
	if a == signal.EndCall && s.state == StateSpeaking && s.callerSpeaking {
		s.log.Info("Caller is speaking, not scheduling end-call")
		return
	}

	s.pendingAction = a
	s.log.Info("Control action scheduled", zap.Stringer("action", a))

	// Audio already played out: ask Twilio for a fresh marker to anchor on.
	if s.turnMark == "" && s.lastAssistantItemID == "" {
		s.requestTurnMarkLocked()
	}
}

func (s *Session) executeControlLocked(a signal.Action, reason string) {
	if s.ended || s.state == StateEscalating {
		return
	}

	callSID := s.callSID
	ctrl := s.deps.Controller
	timeout := s.deps.ControlTimeout

	switch a {
	case signal.Escalate:
		s.setStateLocked(StateEscalating)
		s.pendingAction = signal.None
		s.cancelAllTimersLocked()
		s.log.Info("Escalating to human agent", zap.String("reason", reason))
		s.broadcastLocked(broadcast.Message{Type: broadcast.TypeCallEscalated, Reason: reason})
		s.publishLocked(event.CallEscalated, reason)

		if ctrl == nil || callSID == "" {
			s.endLocked(ReasonEscalated)
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := ctrl.Transfer(ctx, callSID); err != nil {
				s.log.Error("Failed to transfer call", zap.Error(err))
			}
			s.Close(ReasonEscalated)
		}()

	case signal.EndCall:
		s.endLocked(reason)
		if ctrl == nil || callSID == "" {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := ctrl.Hangup(ctx, callSID); err != nil {
				s.log.Error("Failed to hang up call", zap.Error(err))
			}
		}()
	}
}

// endLocked is the single cleanup path.
func (s *Session) endLocked(reason string) {
	if s.ended {
		return
	}
	s.ended = true
	s.setStateLocked(StateEnded)
	s.cancelAllTimersLocked()
	s.pendingAction = signal.None

	tel, model, obs := s.telephony, s.model, s.observer
	s.post = append(s.post, func() {
		if tel != nil {
			_ = tel.Close()
		}
		if model != nil {
			_ = model.Close()
		}
	})

	if s.onEnd != nil {
		s.onEnd(s)
	}

	s.broadcastLocked(broadcast.Message{Type: broadcast.TypeCallEnded, Reason: reason})
	if obs != nil {
		notice := s.annotateLocked(broadcast.Message{Type: broadcast.TypeSessionDisconnected, Reason: reason})
		s.post = append(s.post, func() {
			if data, err := json.Marshal(notice); err == nil {
				_ = obs.Send(data)
			}
		})
	}
	s.publishLocked(event.CallEnded, reason)

	s.log.Info("Call ended", zap.String("reason", reason), zap.Duration("duration", time.Since(s.startedAt)))
}

func (s *Session) injectPromptLocked(text string) {
	if s.model == nil {
		return
	}
	item := map[string]interface{}{
		"type": "conversation.item.create",
		"item": map[string]interface{}{
			"type": "message",
			"role": "user",
			"content": []map[string]interface{}{
				{"type": "input_text", "text": text},
			},
		},
	}
	if err := s.model.Send(item); err != nil {
		s.log.Warn("Failed to inject prompt", zap.Error(err))
		return
	}
	if err := s.model.Send(map[string]interface{}{"type": "response.create"}); err != nil {
		s.log.Warn("Failed to request response", zap.Error(err))
	}
}

func (s *Session) sessionUpdateLocked() map[string]interface{} {
	cfg := s.deps.Session
	session := map[string]interface{}{
		"turn_detection":            map[string]interface{}{"type": "server_vad"},
		"input_audio_format":        cfg.AudioFormat,
		"output_audio_format":       cfg.AudioFormat,
		"voice":                     cfg.Voice,
		"instructions":              prompts.BuildInstructions(cfg.Instructions),
		"modalities":                []string{"text", "audio"},
		"input_audio_transcription": map[string]interface{}{"model": "whisper-1"},
	}
	if s.deps.Tools != nil {
		session["tools"] = s.deps.Tools.Definitions()
		session["tool_choice"] = "auto"
	}
	return map[string]interface{}{
		"type":    "session.update",
		"session": session,
	}
}

func (s *Session) toolContextLocked() tool.CallContext {
	return tool.CallContext{StreamSID: s.streamSID, CallSID: s.callSID, From: s.from, To: s.to}
}

func (s *Session) appendTranscriptLocked(speaker, text string) {
	if text == "" {
		return
	}
	s.transcript = append(s.transcript, event.TranscriptLine{Speaker: speaker, Text: text, At: time.Now()})
}

func (s *Session) annotateLocked(msg broadcast.Message) broadcast.Message {
	msg.StreamSID = s.streamSID
	msg.CallSID = s.callSID
	msg.FromNumber = s.from
	msg.ToNumber = s.to
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return msg
}

func (s *Session) broadcastLocked(msg broadcast.Message) {
	if s.deps.Broadcaster == nil {
		return
	}
	s.deps.Broadcaster.Broadcast(s.annotateLocked(msg))
}

func (s *Session) publishLocked(t event.EventType, reason string) {
	if s.deps.Events == nil {
		return
	}
	ev := event.NewCallEvent(t, s.streamSID).WithCall(s.callSID, s.from, s.to).WithReason(reason)
	ev.StartedAt = s.startedAt
	if t == event.CallEnded {
		ev.Transcript = append([]event.TranscriptLine(nil), s.transcript...)
	}
	if err := s.deps.Events.PublishEvent(ev); err != nil {
		s.log.Debug("Lifecycle event not published", zap.String("event", string(t)), zap.Error(err))
	}
}

func reasonFor(a signal.Action) string {
	if a == signal.Escalate {
		return ReasonEscalated
	}
	return ReasonEndCall
}
