package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/event"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/redis"
	"go.uber.org/zap"
)

const (
	HangupChannel = "voicebridge:session:hangup"
	SessionTTL    = 1 * time.Hour
)

// SessionInfo represents monitoring data for a live call
type SessionInfo struct {
	StreamSID string    `json:"streamSid"`
	CallSID   string    `json:"callSid,omitempty"`
	PodID     string    `json:"podId"`
	From      string    `json:"fromNumber,omitempty"`
	To        string    `json:"toNumber,omitempty"`
	StartTime time.Time `json:"startTime"`
}

// HangupMessage is the payload for cross-pod hang-up requests
type HangupMessage struct {
	StreamSID string `json:"streamSid"`
}

// Manager records live calls in Redis so any pod can list or end them.
type Manager struct {
	redisSvc redis.RedisServiceInterface
	podID    string
	timeout  time.Duration
}

func NewManager(redisSvc redis.RedisServiceInterface, podID string) *Manager {
	return &Manager{
		redisSvc: redisSvc,
		podID:    podID,
		timeout:  3 * time.Second,
	}
}

// Register session for monitoring
func (m *Manager) Register(ctx context.Context, info SessionInfo) error {
	info.PodID = m.podID
	if info.StartTime.IsZero() {
		info.StartTime = time.Now()
	}

	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	key := m.redisSvc.GenerateKey(redis.SessionInfo, info.StreamSID)

	if err := m.redisSvc.SetValue(ctx, key, string(data), SessionTTL); err != nil {
		return err
	}
	logger.Base().Info("Session registered in Redis", zap.String("stream_sid", info.StreamSID), zap.String("pod_id", m.podID))
	return nil
}

// Unregister session from monitoring
func (m *Manager) Unregister(ctx context.Context, streamSID string) error {
	return m.redisSvc.DelValue(ctx, m.redisSvc.GenerateKey(redis.SessionInfo, streamSID))
}

// Lookup returns the monitoring record for streamSID.
func (m *Manager) Lookup(ctx context.Context, streamSID string) (*SessionInfo, error) {
	raw, err := m.redisSvc.GetValue(ctx, m.redisSvc.GenerateKey(redis.SessionInfo, streamSID))
	if err != nil {
		return nil, err
	}
	var info SessionInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// NotifyHangup asks every pod to end the call on streamSID.
func (m *Manager) NotifyHangup(ctx context.Context, streamSID string) error {
	logger.Base().Info("Broadcasting hangup request", zap.String("stream_sid", streamSID))
	return m.redisSvc.Publish(ctx, HangupChannel, HangupMessage{StreamSID: streamSID})
}

// SubscribeToHangup listens for hang-up broadcasts until ctx is cancelled.
func (m *Manager) SubscribeToHangup(ctx context.Context, handler func(streamSID string)) error {
	return m.redisSvc.Subscribe(ctx, HangupChannel, func(payload string) {
		var msg HangupMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			logger.Base().Error("Failed to unmarshal hangup message", zap.Error(err))
			return
		}
		if msg.StreamSID == "" {
			return
		}
		handler(msg.StreamSID)
	})
}

// Attach keeps the monitoring records in step with call lifecycle events.
func (m *Manager) Attach(bus event.EventBus) error {
	if err := bus.Subscribe(event.CallStarted, m.onCallStarted); err != nil {
		return err
	}
	return bus.Subscribe(event.CallEnded, m.onCallEnded)
}

func (m *Manager) onCallStarted(e *event.CallEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	info := SessionInfo{
		StreamSID: e.StreamSID,
		CallSID:   e.CallSID,
		From:      e.From,
		To:        e.To,
		StartTime: e.StartedAt,
	}
	if err := m.Register(ctx, info); err != nil {
		logger.Base().Warn("Failed to register session", zap.String("stream_sid", e.StreamSID), zap.Error(err))
	}
}

func (m *Manager) onCallEnded(e *event.CallEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.Unregister(ctx, e.StreamSID); err != nil {
		logger.Base().Warn("Failed to unregister session", zap.String("stream_sid", e.StreamSID), zap.Error(err))
	}
}
