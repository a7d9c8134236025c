// Package summary exports a record of every finished call: the transcript
// goes to object storage and a summary message goes to Pub/Sub.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/event"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/task"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"go.uber.org/zap"
)

const EventKind = "call.summary"

// Publisher sends a JSON payload to the summary topic.
type Publisher interface {
	PublishJSON(ctx context.Context, kind string, payload interface{}) error
}

// Uploader stores an object and returns its URI.
type Uploader interface {
	Upload(ctx context.Context, objectPath, contentType string, content io.Reader) (string, error)
}

type Submitter interface {
	Submit(name string, fn task.Func) error
}

// CallSummary is the exported record of one call.
type CallSummary struct {
	StreamSID       string                 `json:"stream_sid"`
	CallSID         string                 `json:"call_sid,omitempty"`
	From            string                 `json:"from,omitempty"`
	To              string                 `json:"to,omitempty"`
	Reason          string                 `json:"reason,omitempty"`
	StartedAt       time.Time              `json:"started_at"`
	EndedAt         time.Time              `json:"ended_at"`
	DurationSeconds int                    `json:"duration_seconds"`
	CallerTurns     int                    `json:"caller_turns"`
	AssistantTurns  int                    `json:"assistant_turns"`
	Escalated       bool                   `json:"escalated"`
	TranscriptURI   string                 `json:"transcript_uri,omitempty"`
	Transcript      []event.TranscriptLine `json:"-"`
}

// Exporter listens for ended calls. Either sink may be nil.
type Exporter struct {
	publisher Publisher
	uploader  Uploader
	queue     Submitter
}

func NewExporter(publisher Publisher, uploader Uploader, queue Submitter) *Exporter {
	return &Exporter{
		publisher: publisher,
		uploader:  uploader,
		queue:     queue,
	}
}

// Attach subscribes the exporter to call end events.
func (e *Exporter) Attach(bus event.EventBus) error {
	return bus.Subscribe(event.CallEnded, e.onCallEnded)
}

func (e *Exporter) onCallEnded(ev *event.CallEvent) {
	s := Build(ev)
	err := e.queue.Submit("export-summary:"+s.StreamSID, func(ctx context.Context) error {
		return e.Export(ctx, s)
	})
	if err != nil {
		logger.Base().Warn("Summary export not queued", zap.String("stream_sid", s.StreamSID), zap.Error(err))
	}
}

// Build turns a call end event into a summary.
func Build(ev *event.CallEvent) CallSummary {
	s := CallSummary{
		StreamSID:       ev.StreamSID,
		CallSID:         ev.CallSID,
		From:            ev.From,
		To:              ev.To,
		Reason:          ev.Reason,
		StartedAt:       ev.StartedAt,
		EndedAt:         ev.Timestamp,
		DurationSeconds: int(ev.Duration().Seconds()),
		Escalated:       ev.Reason == "escalated",
		Transcript:      ev.Transcript,
	}
	for _, line := range ev.Transcript {
		if line.Speaker == "caller" {
			s.CallerTurns++
		} else {
			s.AssistantTurns++
		}
	}
	return s
}

// Export uploads the transcript then publishes the summary. A failed upload
// still publishes, without the URI.
func (e *Exporter) Export(ctx context.Context, s CallSummary) error {
	log := logger.ForCall(s.StreamSID, s.CallSID)

	if e.uploader != nil && len(s.Transcript) > 0 {
		body, err := json.Marshal(s.Transcript)
		if err != nil {
			return fmt.Errorf("failed to marshal transcript: %w", err)
		}
		uri, err := e.uploader.Upload(ctx, ObjectPath(s), "application/json", bytes.NewReader(body))
		if err != nil {
			log.Warn("Transcript upload failed", zap.Error(err))
		} else {
			s.TranscriptURI = uri
		}
	}

	if e.publisher == nil {
		return nil
	}
	if err := e.publisher.PublishJSON(ctx, EventKind, s); err != nil {
		return fmt.Errorf("failed to publish call summary: %w", err)
	}
	log.Info("Call summary exported", zap.String("reason", s.Reason), zap.Int("duration_seconds", s.DurationSeconds))
	return nil
}

// ObjectPath is calls/<yyyy>/<mm>/<dd>/<stream>.json, dated by call start.
func ObjectPath(s CallSummary) string {
	at := s.StartedAt
	if at.IsZero() {
		at = s.EndedAt
	}
	return fmt.Sprintf("calls/%s/%s.json", at.UTC().Format("2006/01/02"), s.StreamSID)
}
