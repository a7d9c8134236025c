package call

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/broadcast"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/signal"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/tool"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/domain"
	"go.uber.org/zap"
)

// Realtime server events the session reacts to.
const (
	EventError                    = "error"
	EventSpeechStarted            = "input_audio_buffer.speech_started"
	EventSpeechStopped            = "input_audio_buffer.speech_stopped"
	EventAudioDelta               = "response.audio.delta"
	EventOutputAudioDelta         = "response.output_audio.delta"
	EventAudioDone                = "response.audio.done"
	EventOutputAudioDone          = "response.output_audio.done"
	EventAudioTranscriptDone      = "response.audio_transcript.done"
	EventOutputTranscriptDone     = "response.output_audio_transcript.done"
	EventInputTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	EventInputTranscriptFailed    = "conversation.item.input_audio_transcription.failed"
	EventResponseDone             = "response.done"
	EventRateLimitsUpdated        = "rate_limits.updated"
)

type modelError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e modelError) isRateLimit() bool {
	return strings.Contains(e.Code, "rate_limit") || strings.Contains(e.Type, "rate_limit")
}

type serverEvent struct {
	Type       string      `json:"type"`
	ItemID     string      `json:"item_id"`
	Delta      string      `json:"delta"`
	Transcript string      `json:"transcript"`
	Error      *modelError `json:"error"`
	Response   *struct {
		Output []struct {
			Type      string `json:"type"`
			Name      string `json:"name"`
			CallID    string `json:"call_id"`
			Arguments string `json:"arguments"`
		} `json:"output"`
	} `json:"response"`
}

// HandleModelEvent processes one server event from the model connection.
func (s *Session) HandleModelEvent(raw []byte) {
	var ev serverEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		s.log.Warn("Dropping malformed model event", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.unlock()

	if s.ended {
		return
	}

	s.broadcastLocked(broadcast.Message{Type: ev.Type, Event: json.RawMessage(raw)})

	switch ev.Type {
	case EventSpeechStarted:
		s.onSpeechStartedLocked()
	case EventSpeechStopped:
		s.callerSpeaking = false
	case EventAudioDelta, EventOutputAudioDelta:
		s.onAudioDeltaLocked(ev.ItemID, ev.Delta)
	case EventAudioDone, EventOutputAudioDone:
		s.requestTurnMarkLocked()
	case EventAudioTranscriptDone, EventOutputTranscriptDone:
		s.appendTranscriptLocked(domain.SpeakerAssistant, signal.Strip(ev.Transcript))
		s.scheduleControlLocked(signal.Parse(ev.Transcript))
	case EventInputTranscriptCompleted:
		s.appendTranscriptLocked(domain.SpeakerCaller, strings.TrimSpace(ev.Transcript))
	case EventInputTranscriptFailed:
		if ev.Error != nil && ev.Error.isRateLimit() {
			s.log.Warn("Transcription rate limited", zap.String("message", ev.Error.Message))
			s.executeControlLocked(signal.Escalate, ReasonRateLimited)
		}
	case EventResponseDone:
		s.onResponseDoneLocked(ev)
	case EventError:
		s.onModelErrorLocked(ev.Error)
	case EventRateLimitsUpdated:
		s.log.Debug("Rate limits updated", zap.ByteString("event", raw))
	}
}

func (s *Session) onSpeechStartedLocked() {
	s.callerSpoke = true
	s.callerSpeaking = true
	s.cancelLocked(&s.silence)
	if s.state != StateEscalating {
		s.setStateLocked(StateSpeaking)
	}
	s.armLocked(&s.settle, s.deps.Timing.SpeechSettle, s.onSettleTimerLocked)
}

func (s *Session) onAudioDeltaLocked(itemID, delta string) {
	if itemID != "" && itemID != s.lastAssistantItemID {
		s.lastAssistantItemID = itemID
		s.responseStartTS = s.latestMediaTS
		s.assistantSpoke = true
		s.assistantSpeaking = true
		s.bargeInArmed = false
		s.pendingInterrupt = false
		s.cancelLocked(&s.silence)
		s.armLocked(&s.grace, s.deps.Timing.BargeInGrace, s.onGraceTimerLocked)
	}

	if delta == "" {
		return
	}
	if err := s.telephony.SendMedia(delta); err != nil {
		s.log.Debug("Failed to forward assistant audio", zap.Error(err))
	}
}

func (s *Session) onModelErrorLocked(e *modelError) {
	if e == nil {
		e = &modelError{}
	}
	if e.isRateLimit() {
		s.log.Warn("Model rate limited", zap.String("code", e.Code), zap.String("message", e.Message))
		s.executeControlLocked(signal.Escalate, ReasonRateLimited)
		return
	}

	s.fallbackCount++
	s.log.Warn("Model error",
		zap.String("type", e.Type),
		zap.String("code", e.Code),
		zap.String("message", e.Message),
		zap.Int("fallback_count", s.fallbackCount))
	if s.deps.Timing.MaxFallbacks > 0 && s.fallbackCount >= s.deps.Timing.MaxFallbacks {
		s.executeControlLocked(signal.Escalate, ReasonModelErrors)
	}
}

func (s *Session) onResponseDoneLocked(ev serverEvent) {
	if ev.Response == nil {
		return
	}
	for _, out := range ev.Response.Output {
		if out.Type != "function_call" {
			continue
		}

		s.functionCallCount++
		if limit := s.deps.Timing.MaxFunctionCalls; limit > 0 && s.functionCallCount > limit {
			s.log.Warn("Too many function calls", zap.Int("count", s.functionCallCount))
			s.executeControlLocked(signal.Escalate, ReasonToolLimit)
			return
		}

		switch out.Name {
		case tool.ToolNameEscalateToHuman:
			s.scheduleControlLocked(signal.Escalate)
			s.sendFunctionOutputLocked(out.CallID, `{"success": true}`, false)
		case tool.ToolNameEndCall:
			s.scheduleControlLocked(signal.EndCall)
			s.sendFunctionOutputLocked(out.CallID, `{"success": true}`, false)
		default:
			s.runToolLocked(out.Name, out.CallID, out.Arguments)
		}
	}
}

// runToolLocked executes a business tool off the session lock and reports
// the result, or the error, back to the model.
func (s *Session) runToolLocked(name, callID, arguments string) {
	tools := s.deps.Tools
	callCtx := s.toolContextLocked()
	timeout := s.deps.ToolTimeout
	log := s.log.With(zap.String("tool", name), zap.String("call_id", callID))

	go func() {
		var (
			out string
			err error
		)
		if tools == nil {
			err = tool.ErrUnknownTool
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			out, err = tools.Execute(ctx, callCtx, name, arguments)
			cancel()
		}
		if err != nil {
			log.Warn("Function call failed", zap.Error(err))
			out = errorOutput(err)
		}

		s.mu.Lock()
		defer s.unlock()
		if s.ended {
			return
		}
		s.sendFunctionOutputLocked(callID, out, true)
	}()
}

func (s *Session) sendFunctionOutputLocked(callID, output string, respond bool) {
	if s.model == nil {
		return
	}
	item := map[string]interface{}{
		"type": "conversation.item.create",
		"item": map[string]interface{}{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	}
	if err := s.model.Send(item); err != nil {
		s.log.Warn("Failed to send function result", zap.String("call_id", callID), zap.Error(err))
		return
	}
	if !respond {
		return
	}
	if err := s.model.Send(map[string]interface{}{"type": "response.create"}); err != nil {
		s.log.Warn("Failed to request response", zap.Error(err))
	}
}

func errorOutput(err error) string {
	b, _ := json.Marshal(map[string]interface{}{"success": false, "error": err.Error()})
	return string(b)
}
