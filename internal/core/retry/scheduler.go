// Package retry re-dials destinations that were busy, a bounded number of times.
package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"go.uber.org/zap"
)

var ErrCeilingReached = errors.New("retry ceiling reached")

// Dialer places an outbound call.
type Dialer interface {
	Dial(ctx context.Context, to, from string) error
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func timeAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Scheduler tracks one pending re-dial per destination.
type Scheduler struct {
	store       CounterStore
	dialer      Dialer
	delay       time.Duration
	maxAttempts int64
	dialTimeout time.Duration
	afterFunc   AfterFunc

	mu     sync.Mutex
	timers map[string]Timer
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithAfterFunc replaces the timer source.
func WithAfterFunc(fn AfterFunc) Option {
	return func(s *Scheduler) { s.afterFunc = fn }
}

func NewScheduler(store CounterStore, dialer Dialer, delay time.Duration, maxAttempts int, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:       store,
		dialer:      dialer,
		delay:       delay,
		maxAttempts: int64(maxAttempts),
		dialTimeout: 15 * time.Second,
		afterFunc:   timeAfterFunc,
		timers:      make(map[string]Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleRetry queues a delayed re-dial of to. Past the attempt ceiling the
// counter is dropped and ErrCeilingReached returned.
func (s *Scheduler) ScheduleRetry(ctx context.Context, to, from string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, err := s.store.Incr(ctx, to)
	if err != nil {
		return fmt.Errorf("failed to count retry for %s: %w", to, err)
	}

	log := logger.Base().With(zap.String("to", to), zap.Int64("attempt", attempt))
	if attempt > s.maxAttempts {
		s.stopLocked(to)
		if err := s.store.Reset(ctx, to); err != nil {
			log.Warn("Failed to reset retry counter", zap.Error(err))
		}
		log.Warn("Retry ceiling reached, giving up on destination")
		return ErrCeilingReached
	}

	s.stopLocked(to)
	var timer Timer
	timer = s.afterFunc(s.delay, func() {
		s.mu.Lock()
		if s.timers[to] != timer {
			s.mu.Unlock()
			return
		}
		delete(s.timers, to)
		s.mu.Unlock()

		dialCtx, cancel := context.WithTimeout(context.Background(), s.dialTimeout)
		defer cancel()
		if err := s.dialer.Dial(dialCtx, to, from); err != nil {
			log.Error("Re-dial failed", zap.Error(err))
			return
		}
		log.Info("Re-dial placed")
	})
	s.timers[to] = timer
	log.Info("Re-dial scheduled", zap.Duration("delay", s.delay))
	return nil
}

// ClearRetry cancels any pending re-dial for to and resets its counter.
func (s *Scheduler) ClearRetry(ctx context.Context, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(to)
	return s.store.Reset(ctx, to)
}

// Pending reports whether a re-dial is queued for to.
func (s *Scheduler) Pending(to string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[to]
	return ok
}

// Stop cancels every pending re-dial.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for to := range s.timers {
		s.stopLocked(to)
	}
}

func (s *Scheduler) stopLocked(to string) {
	if t, ok := s.timers[to]; ok {
		t.Stop()
		delete(s.timers, to)
	}
}
