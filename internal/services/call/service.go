// Package call drives Twilio media streams: it opens a session per stream,
// connects the realtime model and joins webhook metadata to live calls.
package call

import (
	"context"
	"errors"
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/adapters/mediastream"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/adapters/realtime"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/broadcast"
	corecall "github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/call"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/session"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"go.uber.org/zap"
)

// Stream is an accepted media stream connection.
type Stream interface {
	corecall.TelephonyConn
	Next() (*mediastream.Message, error)
}

// ModelStream is an open model connection that starts reading on Start.
type ModelStream interface {
	corecall.ModelConn
	Start(h realtime.Handler)
}

// ModelDialer opens one model connection per call.
type ModelDialer interface {
	Dial(ctx context.Context) (ModelStream, error)
}

// RealtimeDialer dials the OpenAI realtime endpoint.
type RealtimeDialer struct {
	Config realtime.Config
}

func (d RealtimeDialer) Dial(ctx context.Context) (ModelStream, error) {
	conn, err := realtime.Dial(ctx, d.Config)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// CallService owns the media stream read loops.
type CallService struct {
	registry    *corecall.Registry
	pending     session.PendingStore
	dialer      ModelDialer
	broadcaster corecall.Broadcaster

	dialTimeout  time.Duration
	storeTimeout time.Duration
}

func NewCallService(registry *corecall.Registry, pending session.PendingStore, dialer ModelDialer, broadcaster corecall.Broadcaster) *CallService {
	return &CallService{
		registry:     registry,
		pending:      pending,
		dialer:       dialer,
		broadcaster:  broadcaster,
		dialTimeout:  10 * time.Second,
		storeTimeout: 3 * time.Second,
	}
}

func (s *CallService) Registry() *corecall.Registry {
	return s.registry
}

// ServeStream reads frames until the stream stops or the socket fails.
func (s *CallService) ServeStream(conn Stream) {
	var sess *corecall.Session
	log := logger.Base()

	defer func() {
		if sess != nil {
			sess.Close(corecall.ReasonTelephonyClosed)
		} else {
			_ = conn.Close()
		}
	}()

	for {
		msg, err := conn.Next()
		if err != nil {
			var decodeErr *mediastream.DecodeError
			if errors.As(err, &decodeErr) {
				log.Warn("Dropping malformed media stream frame", zap.Error(err))
				continue
			}
			log.Debug("Media stream read ended", zap.Error(err))
			return
		}

		switch msg.Event {
		case mediastream.EventConnected:
		case mediastream.EventStart:
			if sess != nil || msg.Start == nil {
				log.Warn("Ignoring repeated or empty start frame")
				continue
			}
			sess = s.start(conn, msg.Start)
			if sess == nil {
				return
			}
			log = logger.ForCall(sess.StreamSID(), sess.CallSID())
		case mediastream.EventMedia:
			if sess == nil || msg.Media == nil {
				continue
			}
			ts, err := msg.Media.TimestampMs()
			if err != nil {
				log.Warn("Dropping media frame", zap.Error(err))
				continue
			}
			sess.HandleMedia(ts, msg.Media.Payload)
		case mediastream.EventMark:
			if sess != nil && msg.Mark != nil {
				sess.HandleMark(msg.Mark.Name)
			}
		case mediastream.EventDTMF:
			if msg.DTMF != nil {
				log.Info("DTMF received", zap.String("digit", msg.DTMF.Digit))
			}
		case mediastream.EventStop:
			log.Info("Media stream stopped")
			return
		default:
			log.Debug("Unhandled media stream event", zap.String("event", msg.Event))
		}
	}
}

// start opens the session for a start frame. It returns nil when the stream
// is a duplicate; the caller then drops the connection.
func (s *CallService) start(conn Stream, start *mediastream.StartPayload) *corecall.Session {
	sess, err := s.registry.Create(start.StreamSID, start.CallSID, conn)
	if err != nil {
		if s.broadcaster != nil {
			s.broadcaster.Broadcast(broadcast.Message{
				Type:      broadcast.TypeError,
				StreamSID: start.StreamSID,
				CallSID:   start.CallSID,
				Error:     err.Error(),
			})
		}
		return nil
	}

	from, to := start.CustomParameters["from"], start.CustomParameters["to"]
	if info, ok := s.takePending(start.CallSID); ok {
		from, to = info.From, info.To
	}
	if from != "" || to != "" {
		sess.JoinCallInfo(from, to)
	}

	sess.Begin()
	go s.connectModel(sess)
	return sess
}

func (s *CallService) takePending(callSID string) (session.CallInfo, bool) {
	if s.pending == nil || callSID == "" {
		return session.CallInfo{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()
	info, ok, err := s.pending.Take(ctx, callSID)
	if err != nil {
		logger.Base().Warn("Pending call info lookup failed", zap.String("call_sid", callSID), zap.Error(err))
		return session.CallInfo{}, false
	}
	return info, ok
}

// connectModel dials the model for sess. A failed dial hands the caller to a human.
func (s *CallService) connectModel(sess *corecall.Session) {
	log := logger.ForCall(sess.StreamSID(), sess.CallSID())

	ctx, cancel := context.WithTimeout(context.Background(), s.dialTimeout)
	defer cancel()

	m, err := s.dialer.Dial(ctx)
	if err != nil {
		log.Error("Failed to connect realtime model", zap.Error(err))
		sess.Escalate(corecall.ReasonModelFailed)
		return
	}

	if err := sess.AttachModel(m); err != nil {
		log.Info("Call ended before model attached", zap.Error(err))
		return
	}
	m.Start(modelHandler{sess: sess})
	log.Info("Realtime model connected")
}

type modelHandler struct {
	sess *corecall.Session
}

func (h modelHandler) OnEvent(raw []byte) { h.sess.HandleModelEvent(raw) }
func (h modelHandler) OnClose(err error)  { h.sess.HandleModelClosed(err) }

// StoreCallInfo records the numbers from the incoming call webhook. When the
// stream already started, the numbers are joined to the live session.
func (s *CallService) StoreCallInfo(ctx context.Context, callSID, from, to string) error {
	if callSID == "" {
		return errors.New("call sid is required")
	}
	if s.pending != nil {
		if err := s.pending.Store(ctx, callSID, session.CallInfo{From: from, To: to}); err != nil {
			return err
		}
	}

	sess, ok := s.registry.FindByCallSID(callSID)
	if !ok {
		return nil
	}
	// the stream won the race; claim the entry so it is joined exactly once
	if s.pending != nil {
		info, taken, err := s.pending.Take(ctx, callSID)
		if err != nil || !taken {
			return err
		}
		from, to = info.From, info.To
	}
	sess.JoinCallInfo(from, to)
	return nil
}

// HangupLocal ends the call on streamSID if this process owns it.
func (s *CallService) HangupLocal(streamSID string) bool {
	sess, ok := s.registry.Get(streamSID)
	if !ok {
		return false
	}
	sess.Close(corecall.ReasonHangupRequest)
	return true
}

// Shutdown ends every live call.
func (s *CallService) Shutdown() {
	s.registry.CloseAll(corecall.ReasonShutdown)
}
