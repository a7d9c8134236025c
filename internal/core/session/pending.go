package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/redis"
)

// PendingTTL bounds how long webhook call info waits for its stream.
const PendingTTL = 10 * time.Minute

// CallInfo is what the call webhook knows about a call before its stream opens.
type CallInfo struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// PendingStore holds call info keyed by call id. Take reads and deletes in
// one step so each entry is consumed exactly once.
type PendingStore interface {
	Store(ctx context.Context, callSID string, info CallInfo) error
	Take(ctx context.Context, callSID string) (CallInfo, bool, error)
}

type memoryEntry struct {
	info    CallInfo
	expires time.Time
}

// pendingSweepInterval spaces out expiry sweeps of the in-memory store.
const pendingSweepInterval = time.Minute

// MemoryPendingStore is the single-pod PendingStore. Entries whose stream
// never opens are swept on a later Store.
type MemoryPendingStore struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	nextSweep time.Time
}

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{ttl: PendingTTL, now: time.Now}
}

func (s *MemoryPendingStore) Store(ctx context.Context, callSID string, info CallInfo) error {
	now := s.now()
	s.sweep(now)
	s.entries.Store(callSID, memoryEntry{info: info, expires: now.Add(s.ttl)})
	return nil
}

func (s *MemoryPendingStore) sweep(now time.Time) {
	s.mu.Lock()
	if now.Before(s.nextSweep) {
		s.mu.Unlock()
		return
	}
	s.nextSweep = now.Add(pendingSweepInterval)
	s.mu.Unlock()

	s.entries.Range(func(key, value interface{}) bool {
		if now.After(value.(memoryEntry).expires) {
			s.entries.CompareAndDelete(key, value)
		}
		return true
	})
}

func (s *MemoryPendingStore) Take(ctx context.Context, callSID string) (CallInfo, bool, error) {
	v, ok := s.entries.LoadAndDelete(callSID)
	if !ok {
		return CallInfo{}, false, nil
	}
	entry := v.(memoryEntry)
	if s.now().After(entry.expires) {
		return CallInfo{}, false, nil
	}
	return entry.info, true, nil
}

// RedisPendingStore shares pending call info across pods.
type RedisPendingStore struct {
	redisSvc redis.RedisServiceInterface
	ttl      time.Duration
}

func NewRedisPendingStore(redisSvc redis.RedisServiceInterface) *RedisPendingStore {
	return &RedisPendingStore{redisSvc: redisSvc, ttl: PendingTTL}
}

func (s *RedisPendingStore) Store(ctx context.Context, callSID string, info CallInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return s.redisSvc.SetValue(ctx, s.redisSvc.GenerateKey(redis.PendingCallInfo, callSID), string(data), s.ttl)
}

func (s *RedisPendingStore) Take(ctx context.Context, callSID string) (CallInfo, bool, error) {
	raw, err := s.redisSvc.TakeValue(ctx, s.redisSvc.GenerateKey(redis.PendingCallInfo, callSID))
	if redis.IsNotFound(err) {
		return CallInfo{}, false, nil
	}
	if err != nil {
		return CallInfo{}, false, err
	}
	var info CallInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return CallInfo{}, false, err
	}
	return info, true, nil
}
