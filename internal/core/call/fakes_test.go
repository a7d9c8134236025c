package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/config"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/broadcast"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/tool"
	"github.com/stretchr/testify/require"
)

type fakeTelephony struct {
	mu     sync.Mutex
	media  []string
	marks  []string
	clears int
	closes int
}

func (f *fakeTelephony) SendMedia(payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = append(f.media, payload)
	return nil
}

func (f *fakeTelephony) SendMark(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, name)
	return nil
}

func (f *fakeTelephony) SendClear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeTelephony) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTelephony) lastMark() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.marks) == 0 {
		return ""
	}
	return f.marks[len(f.marks)-1]
}

func (f *fakeTelephony) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

func (f *fakeTelephony) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeModel struct {
	mu     sync.Mutex
	events []map[string]interface{}
	closes int
}

func (f *fakeModel) Send(ev interface{}) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, m)
	return nil
}

func (f *fakeModel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeModel) ofType(t string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]interface{}
	for _, ev := range f.events {
		if ev["type"] == t {
			out = append(out, ev)
		}
	}
	return out
}

// promptTexts returns the text of every injected user message.
func (f *fakeModel) promptTexts() []string {
	var out []string
	for _, ev := range f.ofType("conversation.item.create") {
		item := ev["item"].(map[string]interface{})
		if item["type"] != "message" {
			continue
		}
		content := item["content"].([]interface{})
		out = append(out, content[0].(map[string]interface{})["text"].(string))
	}
	return out
}

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Fire runs every pending timer armed for d.
func (c *fakeClock) Fire(d time.Duration) int {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if t.d == d && !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
	return len(due)
}

func (c *fakeClock) pending(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.d == d && !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (c *fakeClock) stopped(d time.Duration) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if t.d == d && t.stopped {
			out = append(out, t)
		}
	}
	return out
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	msgs []broadcast.Message
}

func (f *fakeBroadcaster) Broadcast(msg broadcast.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeBroadcaster) ofType(t string) []broadcast.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []broadcast.Message
	for _, m := range f.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

type fakeController struct {
	mu        sync.Mutex
	transfers []string
	hangups   []string
}

func (f *fakeController) Transfer(ctx context.Context, callSID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, callSID)
	return nil
}

func (f *fakeController) Hangup(ctx context.Context, callSID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, callSID)
	return nil
}

func (f *fakeController) transferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transfers)
}

func (f *fakeController) hangupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hangups)
}

type fakeTools struct {
	err error
}

func (f *fakeTools) Definitions() []interface{} {
	return []interface{}{map[string]interface{}{"type": "function", "name": tool.ToolNameEndCall}}
}

func (f *fakeTools) Execute(ctx context.Context, call tool.CallContext, name, args string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return `{"success": true}`, nil
}

var errToolDown = errors.New("registration api unavailable")

var (
	greetingDelay = 500 * time.Millisecond
	settleDelay   = 300 * time.Millisecond
	graceDelay    = 400 * time.Millisecond
	silenceDelay  = 10 * time.Second
	maxDuration   = 10 * time.Minute
)

type harness struct {
	reg   *Registry
	s     *Session
	tel   *fakeTelephony
	model *fakeModel
	clock *fakeClock
	bc    *fakeBroadcaster
	ctrl  *fakeController
	tools *fakeTools
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		tel:   &fakeTelephony{},
		model: &fakeModel{},
		clock: &fakeClock{},
		bc:    &fakeBroadcaster{},
		ctrl:  &fakeController{},
		tools: &fakeTools{},
	}
	marks := 0
	h.reg = NewRegistry(Deps{
		Broadcaster: h.bc,
		Controller:  h.ctrl,
		Tools:       h.tools,
		Clock:       h.clock,
		Timing: config.TimingConfig{
			GreetingDelay:    greetingDelay,
			SpeechSettle:     settleDelay,
			BargeInGrace:     graceDelay,
			SilenceTimeout:   silenceDelay,
			MaxCallDuration:  maxDuration,
			MaxFallbacks:     3,
			MaxFunctionCalls: 2,
		},
		MarkName: func() string {
			marks++
			return fmt.Sprintf("turn-%d", marks)
		},
	})

	s, err := h.reg.Create("MZ1", "CA1", h.tel)
	require.NoError(t, err)
	h.s = s
	s.Begin()
	require.NoError(t, s.AttachModel(h.model))
	return h
}

func (h *harness) event(t *testing.T, ev map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	h.s.HandleModelEvent(raw)
}

func (h *harness) speechStarted(t *testing.T) {
	h.event(t, map[string]interface{}{"type": EventSpeechStarted})
}

func (h *harness) speechStopped(t *testing.T) {
	h.event(t, map[string]interface{}{"type": EventSpeechStopped})
}

func (h *harness) audio(t *testing.T, itemID, delta string) {
	h.event(t, map[string]interface{}{"type": EventAudioDelta, "item_id": itemID, "delta": delta})
}

func (h *harness) audioDone(t *testing.T) {
	h.event(t, map[string]interface{}{"type": EventAudioDone})
}

func (h *harness) transcript(t *testing.T, text string) {
	h.event(t, map[string]interface{}{"type": EventAudioTranscriptDone, "transcript": text})
}

// completeTurn plays one assistant turn through to its marker echo.
func (h *harness) completeTurn(t *testing.T, itemID, text string) {
	h.audio(t, itemID, "AAAA")
	if text != "" {
		h.transcript(t, text)
	}
	h.audioDone(t)
	h.s.HandleMark(h.tel.lastMark())
}
