package call

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/broadcast"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/signal"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/prompts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func truncates(h *harness) []map[string]interface{} {
	return h.model.ofType("conversation.item.truncate")
}

func TestSession_AttachModelConfiguresSession(t *testing.T) {
	h := newHarness(t)

	updates := h.model.ofType("session.update")
	require.Len(t, updates, 1)
	session := updates[0]["session"].(map[string]interface{})
	assert.Equal(t, "g711_ulaw", session["input_audio_format"])
	assert.Equal(t, "g711_ulaw", session["output_audio_format"])
	assert.Contains(t, session["instructions"], signal.EscalateToken)
	assert.NotEmpty(t, session["tools"])
	assert.Equal(t, StateGreeting, h.s.State())
}

func TestSession_ForwardsMediaInArrivalOrder(t *testing.T) {
	h := newHarness(t)

	h.s.HandleMedia(100, "a")
	h.s.HandleMedia(80, "b")
	h.s.HandleMedia(200, "c")

	var payloads []string
	for _, ev := range h.model.ofType("input_audio_buffer.append") {
		payloads = append(payloads, ev["audio"].(string))
	}
	assert.Equal(t, []string{"a", "b", "c"}, payloads)

	h.s.mu.Lock()
	assert.Equal(t, int64(200), h.s.latestMediaTS)
	h.s.mu.Unlock()
}

func TestSession_MediaBeforeModelIsDropped(t *testing.T) {
	reg := NewRegistry(Deps{Clock: &fakeClock{}})
	s, err := reg.Create("MZ9", "CA9", &fakeTelephony{})
	require.NoError(t, err)

	s.HandleMedia(40, "early")
	model := &fakeModel{}
	require.NoError(t, s.AttachModel(model))

	assert.Empty(t, model.ofType("input_audio_buffer.append"))
}

func TestSession_InterruptTruncatesAtPlaybackPosition(t *testing.T) {
	h := newHarness(t)

	h.s.HandleMedia(1000, "x")
	h.audio(t, "item_1", "AAAA")
	require.Equal(t, 1, h.clock.Fire(graceDelay))

	h.s.HandleMedia(1450, "y")
	h.speechStarted(t)
	require.Equal(t, 1, h.clock.Fire(settleDelay))

	tr := truncates(h)
	require.Len(t, tr, 1)
	assert.Equal(t, "item_1", tr[0]["item_id"])
	assert.Equal(t, float64(0), tr[0]["content_index"])
	assert.Equal(t, float64(450), tr[0]["audio_end_ms"])
	assert.Equal(t, 1, h.tel.clearCount())

	h.s.mu.Lock()
	assert.Empty(t, h.s.lastAssistantItemID)
	assert.Zero(t, h.s.responseStartTS)
	h.s.mu.Unlock()
}

func TestSession_InterruptClampsNegativeElapsed(t *testing.T) {
	h := newHarness(t)

	h.s.HandleMedia(2000, "x")
	h.audio(t, "item_1", "AAAA")
	h.clock.Fire(graceDelay)

	h.s.mu.Lock()
	h.s.responseStartTS = 3000
	h.s.mu.Unlock()

	h.speechStarted(t)
	h.clock.Fire(settleDelay)

	tr := truncates(h)
	require.Len(t, tr, 1)
	assert.Equal(t, float64(0), tr[0]["audio_end_ms"])
}

func TestSession_SpeechStopWithinSettleIsNotBargeIn(t *testing.T) {
	h := newHarness(t)

	h.audio(t, "item_1", "AAAA")
	h.clock.Fire(graceDelay)

	h.speechStarted(t)
	h.speechStopped(t)
	h.clock.Fire(settleDelay)

	assert.Empty(t, truncates(h))
	assert.Zero(t, h.tel.clearCount())
	assert.Equal(t, StateSpeaking, h.s.State())
}

func TestSession_BargeInDuringGraceIsDeferred(t *testing.T) {
	h := newHarness(t)

	h.s.HandleMedia(500, "x")
	h.audio(t, "item_1", "AAAA")
	h.s.HandleMedia(700, "y")
	h.speechStarted(t)
	h.clock.Fire(settleDelay)
	assert.Empty(t, truncates(h))

	h.clock.Fire(graceDelay)
	tr := truncates(h)
	require.Len(t, tr, 1)
	assert.Equal(t, float64(200), tr[0]["audio_end_ms"])
}

func TestSession_AssistantAudioForwardedInOrder(t *testing.T) {
	h := newHarness(t)

	h.audio(t, "item_1", "one")
	h.event(t, map[string]interface{}{"type": EventOutputAudioDelta, "item_id": "item_1", "delta": "two"})
	h.audio(t, "item_1", "three")

	h.tel.mu.Lock()
	defer h.tel.mu.Unlock()
	assert.Equal(t, []string{"one", "two", "three"}, h.tel.media)
}

func TestSession_SilenceTimerStartsOnMarkNotAudioDone(t *testing.T) {
	h := newHarness(t)

	h.audio(t, "item_1", "AAAA")
	h.audioDone(t)
	assert.Zero(t, h.clock.pending(silenceDelay))
	require.Equal(t, "turn-1", h.tel.lastMark())

	h.s.HandleMark("unrelated")
	assert.Zero(t, h.clock.pending(silenceDelay))

	h.s.HandleMark("turn-1")
	assert.Equal(t, 1, h.clock.pending(silenceDelay))
	assert.Equal(t, StateIdle, h.s.State())
}

func TestSession_SilenceEndsCallAfterTwoWindows(t *testing.T) {
	h := newHarness(t)
	h.completeTurn(t, "item_1", "How can I help?")
	require.Equal(t, StateIdle, h.s.State())

	require.Equal(t, 1, h.clock.Fire(silenceDelay))
	assert.Equal(t, StateSilence, h.s.State())
	assert.Equal(t, []string{prompts.SilencePrompt}, h.model.promptTexts())

	require.Equal(t, 1, h.clock.Fire(silenceDelay))
	assert.Equal(t, StateEnded, h.s.State())
	assert.Equal(t, []string{prompts.SilencePrompt}, h.model.promptTexts())
	assert.Zero(t, h.reg.Len())
	assert.Equal(t, 1, h.tel.closeCount())
	assert.Eventually(t, func() bool { return h.ctrl.hangupCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_CallerSpeechCancelsSilence(t *testing.T) {
	h := newHarness(t)
	h.completeTurn(t, "item_1", "")
	require.Equal(t, 1, h.clock.pending(silenceDelay))

	h.speechStarted(t)
	assert.Zero(t, h.clock.pending(silenceDelay))
	assert.Equal(t, StateSpeaking, h.s.State())
}

func TestSession_MarkWhileCallerTalkingSetsIdleWithoutTimer(t *testing.T) {
	h := newHarness(t)
	h.speechStarted(t)
	h.completeTurn(t, "item_1", "")

	assert.Equal(t, StateIdle, h.s.State())
	assert.Zero(t, h.clock.pending(silenceDelay))
}

func TestSession_MarkAfterCallerFinishedArmsSilence(t *testing.T) {
	h := newHarness(t)
	h.speechStarted(t)
	h.speechStopped(t)
	h.completeTurn(t, "item_1", "")

	assert.Equal(t, StateIdle, h.s.State())
	assert.Equal(t, 1, h.clock.pending(silenceDelay))
}

func TestSession_StaleTimerFireIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.completeTurn(t, "item_1", "")
	h.speechStarted(t)

	stale := h.clock.stopped(silenceDelay)
	require.Len(t, stale, 1)
	stale[0].fn()

	assert.Equal(t, StateSpeaking, h.s.State())
	assert.Empty(t, h.model.promptTexts())
}

func TestSession_EscalationSentinelWaitsForPlaybackDrain(t *testing.T) {
	h := newHarness(t)

	h.audio(t, "item_1", "AAAA")
	h.transcript(t, "Let me get someone for you. [[ESCALATE_TO_HUMAN]]")
	h.transcript(t, "[[ESCALATE_TO_HUMAN]]")
	h.audioDone(t)

	assert.NotEqual(t, StateEscalating, h.s.State())
	assert.Zero(t, h.ctrl.transferCount())

	h.s.HandleMark(h.tel.lastMark())
	assert.Equal(t, StateEscalating, h.s.State())
	assert.Eventually(t, func() bool { return h.s.State() == StateEnded }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.ctrl.transferCount())
	assert.Len(t, h.bc.ofType(broadcast.TypeCallEscalated), 1)
}

func TestSession_TranscriptWithoutSentinelSchedulesNothing(t *testing.T) {
	h := newHarness(t)
	h.completeTurn(t, "item_1", "Happy to help with your booking.")

	assert.Equal(t, StateIdle, h.s.State())
	h.s.mu.Lock()
	assert.Equal(t, signal.None, h.s.pendingAction)
	h.s.mu.Unlock()
	assert.Zero(t, h.ctrl.transferCount())
}

func TestSession_SentinelAfterPlaybackRequestsFreshMark(t *testing.T) {
	h := newHarness(t)
	h.completeTurn(t, "item_1", "")
	require.Equal(t, "turn-1", h.tel.lastMark())

	h.transcript(t, "Goodbye! [[END_CALL]]")
	require.Equal(t, "turn-2", h.tel.lastMark())
	assert.NotEqual(t, StateEnded, h.s.State())

	h.s.HandleMark("turn-2")
	assert.Equal(t, StateEnded, h.s.State())
	assert.Eventually(t, func() bool { return h.ctrl.hangupCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_EndCallNotScheduledWhileCallerSpeaking(t *testing.T) {
	h := newHarness(t)
	h.speechStarted(t)
	h.transcript(t, "Bye for now [[END_CALL]]")

	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	assert.Equal(t, signal.None, h.s.pendingAction)
}

func TestSession_EndCallAfterCallerFinishedTurn(t *testing.T) {
	h := newHarness(t)
	h.speechStarted(t)
	h.speechStopped(t)
	h.clock.Fire(settleDelay)
	require.Equal(t, StateSpeaking, h.s.State())

	h.audio(t, "item_1", "AAAA")
	h.transcript(t, "Thanks for calling, goodbye! [[END_CALL]]")
	h.audioDone(t)
	assert.NotEqual(t, StateEnded, h.s.State())

	h.s.HandleMark(h.tel.lastMark())
	assert.Equal(t, StateEnded, h.s.State())
	assert.Eventually(t, func() bool { return h.ctrl.hangupCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_EndCallToolAfterCallerFinishedTurn(t *testing.T) {
	h := newHarness(t)
	h.speechStarted(t)
	h.speechStopped(t)

	h.audio(t, "item_1", "AAAA")
	h.event(t, map[string]interface{}{
		"type": EventResponseDone,
		"response": map[string]interface{}{
			"output": []interface{}{
				map[string]interface{}{"type": "function_call", "name": "end_call", "call_id": "fc_1", "arguments": "{}"},
			},
		},
	})
	h.audioDone(t)

	h.s.HandleMark(h.tel.lastMark())
	assert.Equal(t, StateEnded, h.s.State())
	assert.Eventually(t, func() bool { return h.ctrl.hangupCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_InterruptDropsPendingEndCall(t *testing.T) {
	h := newHarness(t)

	h.audio(t, "item_1", "AAAA")
	h.transcript(t, "Goodbye! [[END_CALL]]")
	h.audioDone(t)
	mark := h.tel.lastMark()
	h.clock.Fire(graceDelay)

	h.speechStarted(t)
	h.clock.Fire(settleDelay)
	require.Len(t, truncates(h), 1)

	h.s.HandleMark(mark)
	assert.NotEqual(t, StateEnded, h.s.State())
	assert.Zero(t, h.ctrl.hangupCount())
}

func TestSession_InterruptKeepsPendingEscalation(t *testing.T) {
	h := newHarness(t)

	h.audio(t, "item_1", "AAAA")
	h.transcript(t, "Transferring you. [[ESCALATE_TO_HUMAN]]")
	h.audioDone(t)
	mark := h.tel.lastMark()
	h.clock.Fire(graceDelay)

	h.speechStarted(t)
	h.clock.Fire(settleDelay)

	h.s.HandleMark(mark)
	assert.Eventually(t, func() bool { return h.ctrl.transferCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_RateLimitErrorEscalates(t *testing.T) {
	h := newHarness(t)
	h.event(t, map[string]interface{}{
		"type":  EventError,
		"error": map[string]interface{}{"type": "invalid_request_error", "code": "rate_limit_exceeded", "message": "slow down"},
	})

	assert.Eventually(t, func() bool { return h.ctrl.transferCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_TranscriptionRateLimitEscalates(t *testing.T) {
	h := newHarness(t)
	h.event(t, map[string]interface{}{
		"type":  EventInputTranscriptFailed,
		"error": map[string]interface{}{"type": "rate_limit_error", "message": "quota"},
	})

	assert.Eventually(t, func() bool { return h.ctrl.transferCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_ModelErrorsEscalateAtThreshold(t *testing.T) {
	h := newHarness(t)
	modelError := map[string]interface{}{
		"type":  EventError,
		"error": map[string]interface{}{"type": "server_error", "message": "oops"},
	}

	h.event(t, modelError)
	h.event(t, modelError)
	assert.NotEqual(t, StateEscalating, h.s.State())

	h.event(t, modelError)
	assert.Eventually(t, func() bool { return h.ctrl.transferCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_GreetingWhenNobodySpoke(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, 1, h.clock.Fire(greetingDelay))
	assert.Equal(t, []string{prompts.GreetingPrompt}, h.model.promptTexts())
	assert.Len(t, h.model.ofType("response.create"), 1)
	assert.Equal(t, StateListening, h.s.State())
}

func TestSession_GreetingSkippedAfterCallerSpoke(t *testing.T) {
	h := newHarness(t)
	h.speechStarted(t)
	h.speechStopped(t)

	h.clock.Fire(greetingDelay)
	assert.Empty(t, h.model.promptTexts())
}

func TestSession_ConfirmedSpeechCancelsGreeting(t *testing.T) {
	h := newHarness(t)
	h.speechStarted(t)
	h.clock.Fire(settleDelay)

	assert.Zero(t, h.clock.pending(greetingDelay))
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	h := newHarness(t)

	h.s.Close(ReasonTelephonyClosed)
	h.s.Close(ReasonEscalated)
	h.s.HandleModelClosed(nil)

	assert.Equal(t, StateEnded, h.s.State())
	assert.Len(t, h.bc.ofType(broadcast.TypeCallEnded), 1)
	assert.Equal(t, 1, h.tel.closeCount())
	assert.Zero(t, h.reg.Len())
	assert.Zero(t, h.clock.pending(maxDuration))
}

func TestSession_ModelFailureEscalates(t *testing.T) {
	h := newHarness(t)
	h.s.HandleModelClosed(assert.AnError)

	assert.Eventually(t, func() bool { return h.s.State() == StateEnded }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.ctrl.transferCount())
}

func TestSession_MaxDurationEndsCall(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, 1, h.clock.Fire(maxDuration))

	assert.Equal(t, StateEnded, h.s.State())
	ended := h.bc.ofType(broadcast.TypeCallEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, ReasonMaxDuration, ended[0].Reason)
}

func TestSession_ControlToolsScheduleWithoutNewResponse(t *testing.T) {
	h := newHarness(t)
	h.event(t, map[string]interface{}{
		"type": EventResponseDone,
		"response": map[string]interface{}{
			"output": []interface{}{
				map[string]interface{}{"type": "function_call", "name": "escalate_to_human", "call_id": "fc_1", "arguments": "{}"},
			},
		},
	})

	outputs := h.model.ofType("conversation.item.create")
	require.Len(t, outputs, 1)
	assert.Equal(t, "fc_1", outputs[0]["item"].(map[string]interface{})["call_id"])
	assert.Empty(t, h.model.ofType("response.create"))

	h.s.HandleMark(h.tel.lastMark())
	assert.Eventually(t, func() bool { return h.ctrl.transferCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_ToolFailureReportedToModel(t *testing.T) {
	h := newHarness(t)
	h.tools.err = errToolDown

	h.event(t, map[string]interface{}{
		"type": EventResponseDone,
		"response": map[string]interface{}{
			"output": []interface{}{
				map[string]interface{}{"type": "function_call", "name": "register_customer", "call_id": "fc_9", "arguments": `{"name":"Ada"}`},
			},
		},
	})

	require.Eventually(t, func() bool { return len(h.model.ofType("response.create")) == 1 }, time.Second, 5*time.Millisecond)
	item := h.model.ofType("conversation.item.create")[0]["item"].(map[string]interface{})
	assert.Equal(t, "function_call_output", item["type"])

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(item["output"].(string)), &out))
	assert.Equal(t, false, out["success"])
	assert.Equal(t, errToolDown.Error(), out["error"])
	assert.NotEqual(t, StateEnded, h.s.State())
}

func TestSession_TooManyFunctionCallsEscalates(t *testing.T) {
	h := newHarness(t)
	call := func(id string) map[string]interface{} {
		return map[string]interface{}{"type": "function_call", "name": "register_customer", "call_id": id, "arguments": `{"name":"Ada"}`}
	}
	h.event(t, map[string]interface{}{
		"type":     EventResponseDone,
		"response": map[string]interface{}{"output": []interface{}{call("a"), call("b"), call("c")}},
	})

	assert.Eventually(t, func() bool { return h.ctrl.transferCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_BroadcastsCarryJoinedMetadata(t *testing.T) {
	h := newHarness(t)

	h.speechStarted(t)
	before := h.bc.ofType(EventSpeechStarted)
	require.Len(t, before, 1)
	assert.Empty(t, before[0].FromNumber)

	h.s.JoinCallInfo("+15551234567", "+17775550000")
	updated := h.bc.ofType(broadcast.TypeCallUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, "+15551234567", updated[0].FromNumber)

	h.speechStopped(t)
	after := h.bc.ofType(EventSpeechStopped)
	require.Len(t, after, 1)
	assert.Equal(t, "+15551234567", after[0].FromNumber)
	assert.Equal(t, "+17775550000", after[0].ToNumber)
	assert.Equal(t, "CA1", after[0].CallSID)
	assert.JSONEq(t, `{"type":"input_audio_buffer.speech_stopped"}`, string(after[0].Event))
}

func TestSession_LegacyObserverNotifiedOnEnd(t *testing.T) {
	h := newHarness(t)
	obs := &recordingObserver{}
	require.True(t, h.s.AttachObserver(obs))

	h.s.Close(ReasonTelephonyClosed)

	require.Len(t, obs.frames, 1)
	var msg broadcast.Message
	require.NoError(t, json.Unmarshal(obs.frames[0], &msg))
	assert.Equal(t, broadcast.TypeSessionDisconnected, msg.Type)
	assert.False(t, h.s.AttachObserver(obs))
}

type recordingObserver struct {
	frames [][]byte
}

func (r *recordingObserver) Send(data []byte) error {
	r.frames = append(r.frames, data)
	return nil
}

func (r *recordingObserver) Close() error { return nil }
