package call

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/broadcast"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"go.uber.org/zap"
)

var (
	ErrDuplicateStream = errors.New("stream already has a live session")
	ErrSessionNotFound = errors.New("session not found")
)

// Registry maps stream ids to live sessions. Entries are inserted only by
// Create and removed only by a session's cleanup path (or Remove).
type Registry struct {
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a registry whose sessions share deps.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:     deps.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// Create opens a session for a newly started stream.
func (r *Registry) Create(streamSID, callSID string, tel TelephonyConn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[streamSID]; exists {
		logger.Base().Warn("Duplicate stream start ignored", zap.String("stream_sid", streamSID), zap.String("call_sid", callSID))
		return nil, ErrDuplicateStream
	}

	s := newSession(streamSID, callSID, tel, r.deps, r.release)
	r.sessions[streamSID] = s
	s.log.Info("Session created", zap.Int("live_sessions", len(r.sessions)))
	return s, nil
}

// Get returns the live session for streamSID.
func (r *Registry) Get(streamSID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[streamSID]
	return s, ok
}

// Remove drops the entry for streamSID. Removing a missing entry is a no-op.
func (r *Registry) Remove(streamSID string) {
	r.mu.Lock()
	delete(r.sessions, streamSID)
	r.mu.Unlock()
}

// release removes s only if it is still the registered session for its stream.
func (r *Registry) release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.streamSID]; ok && cur == s {
		delete(r.sessions, s.streamSID)
	}
}

// ForEach calls fn for every live session. fn runs outside the registry lock.
func (r *Registry) ForEach(fn func(*Session)) {
	for _, s := range r.list() {
		fn(s)
	}
}

func (r *Registry) list() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// FindByCallSID returns the live session for a call id.
func (r *Registry) FindByCallSID(callSID string) (*Session, bool) {
	if callSID == "" {
		return nil, false
	}
	for _, s := range r.list() {
		if s.CallSID() == callSID {
			return s, true
		}
	}
	return nil, false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot lists every live session.
func (r *Registry) Snapshot() []Info {
	sessions := r.list()
	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// BroadcastModelEvent forwards raw to every live model connection.
func (r *Registry) BroadcastModelEvent(raw []byte) int {
	msg := json.RawMessage(raw)
	sent := 0
	r.ForEach(func(s *Session) {
		if err := s.SendModelEvent(msg); err != nil {
			s.log.Debug("Skipped global model event", zap.Error(err))
			return
		}
		sent++
	})
	return sent
}

// AttachObserver binds a legacy observer to one session.
func (r *Registry) AttachObserver(streamSID string, o broadcast.Observer) bool {
	s, ok := r.Get(streamSID)
	if !ok {
		return false
	}
	return s.AttachObserver(o)
}

// CloseAll ends every live session.
func (r *Registry) CloseAll(reason string) {
	r.ForEach(func(s *Session) {
		s.Close(reason)
	})
}
