package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"go.uber.org/zap"
)

var (
	ErrQueueFull   = errors.New("task queue full")
	ErrQueueClosed = errors.New("task queue closed")
)

// Func is a unit of fire-and-forget work.
type Func func(ctx context.Context) error

type job struct {
	name string
	fn   Func
}

// Queue runs side-effect work (persistence, registration, exports) on a fixed
// set of workers. Submit never blocks the caller.
type Queue struct {
	jobs    chan job
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewQueue starts workers goroutines draining a buffer of capacity jobs.
func NewQueue(workers, capacity int, timeout time.Duration) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 64
	}
	q := &Queue{
		jobs:    make(chan job, capacity),
		timeout: timeout,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit enqueues fn. It drops the job when the buffer is full.
func (q *Queue) Submit(name string, fn Func) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job{name: name, fn: fn}:
		return nil
	default:
		logger.Base().Warn("Task queue full, dropping task", zap.String("task", name))
		return ErrQueueFull
	}
}

// Close stops accepting work and waits for queued jobs to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		q.run(j)
	}
}

func (q *Queue) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Base().Error("Task panic", zap.String("task", j.name), zap.Any("panic", r))
		}
	}()

	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	if err := j.fn(ctx); err != nil {
		logger.Base().Warn("Task failed", zap.String("task", j.name), zap.Error(err))
	}
}
