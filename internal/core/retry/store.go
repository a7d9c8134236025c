package retry

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/redis"
)

// CounterStore keeps the per-destination attempt count. Incr must be atomic.
type CounterStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// MemoryCounterStore is the single-pod CounterStore.
type MemoryCounterStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counts: make(map[string]int64)}
}

func (s *MemoryCounterStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return s.counts[key], nil
}

func (s *MemoryCounterStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counts, key)
	return nil
}

// Count returns the current value for key.
func (s *MemoryCounterStore) Count(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}

// RedisCounterStore shares counters across pods using INCR.
type RedisCounterStore struct {
	redisSvc redis.RedisServiceInterface
	ttl      time.Duration
}

// NewRedisCounterStore expires idle counters after ttl.
func NewRedisCounterStore(redisSvc redis.RedisServiceInterface, ttl time.Duration) *RedisCounterStore {
	return &RedisCounterStore{redisSvc: redisSvc, ttl: ttl}
}

func (s *RedisCounterStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.redisSvc.Incr(ctx, s.redisSvc.GenerateKey(redis.RetryCounter, key), s.ttl)
}

func (s *RedisCounterStore) Reset(ctx context.Context, key string) error {
	return s.redisSvc.DelValue(ctx, s.redisSvc.GenerateKey(redis.RetryCounter, key))
}

// Count reads the current value for key, zero when unset.
func (s *RedisCounterStore) Count(ctx context.Context, key string) (int64, error) {
	raw, err := s.redisSvc.GetValue(ctx, s.redisSvc.GenerateKey(redis.RetryCounter, key))
	if redis.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}
