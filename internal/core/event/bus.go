package event

import (
	"fmt"
	"sync"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"go.uber.org/zap"
)

// EventHandler represents a function that handles events
type EventHandler func(event *CallEvent)

// EventMiddleware represents middleware that can wrap event handlers
type EventMiddleware func(next EventHandler) EventHandler

// EventBus defines the interface for event bus operations
type EventBus interface {
	PublishEvent(event *CallEvent) error
	Subscribe(eventType EventType, handler EventHandler) error
	Use(middleware EventMiddleware)
	Close() error
	GetStats() BusStats
}

// BusStats contains statistics about the event bus
type BusStats struct {
	TotalEvents     int64            `json:"total_events"`
	EventsByType    map[string]int64 `json:"events_by_type"`
	SubscriberCount map[string]int   `json:"subscriber_count"`
}

// DefaultEventBus runs every subscriber of an event in its own goroutine.
type DefaultEventBus struct {
	subscribers map[EventType][]EventHandler
	middleware  []EventMiddleware
	mutex       sync.RWMutex
	closed      bool
	stats       BusStats
	statsMutex  sync.RWMutex
	wg          sync.WaitGroup
}

// NewEventBus creates a new event bus instance
func NewEventBus() *DefaultEventBus {
	return &DefaultEventBus{
		subscribers: make(map[EventType][]EventHandler),
		stats: BusStats{
			EventsByType:    make(map[string]int64),
			SubscriberCount: make(map[string]int),
		},
	}
}

// PublishEvent publishes a complete event. Handlers are counted while the
// read lock is held so Close never waits on a group that is still growing.
func (b *DefaultEventBus) PublishEvent(event *CallEvent) error {
	b.mutex.RLock()
	if b.closed {
		b.mutex.RUnlock()
		return fmt.Errorf("event bus is closed")
	}
	handlers := make([]EventHandler, len(b.subscribers[event.Type]))
	copy(handlers, b.subscribers[event.Type])
	middleware := make([]EventMiddleware, len(b.middleware))
	copy(middleware, b.middleware)
	b.wg.Add(len(handlers))
	b.mutex.RUnlock()

	b.updateStats(event.Type)

	if len(handlers) == 0 {
		logger.Base().Debug("No subscribers for event type", zap.String("type", string(event.Type)))
		return nil
	}

	for _, handler := range handlers {
		final := handler
		for i := len(middleware) - 1; i >= 0; i-- {
			final = middleware[i](final)
		}

		go func(h EventHandler) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Base().Error("Event handler panic", zap.String("type", string(event.Type)), zap.Any("panic", r))
				}
			}()
			h(event)
		}(final)
	}

	return nil
}

// Subscribe subscribes to events of a specific type
func (b *DefaultEventBus) Subscribe(eventType EventType, handler EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		return fmt.Errorf("event bus is closed")
	}
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
	b.mutex.Unlock()

	b.statsMutex.Lock()
	b.stats.SubscriberCount[string(eventType)]++
	b.statsMutex.Unlock()

	return nil
}

// Use adds middleware to the event bus
func (b *DefaultEventBus) Use(middleware EventMiddleware) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.middleware = append(b.middleware, middleware)
}

// Close stops accepting events and waits for running handlers.
func (b *DefaultEventBus) Close() error {
	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[EventType][]EventHandler)
	b.middleware = nil
	b.mutex.Unlock()

	b.wg.Wait()
	logger.Base().Info("Event bus closed")
	return nil
}

// GetStats returns current bus statistics
func (b *DefaultEventBus) GetStats() BusStats {
	b.statsMutex.RLock()
	defer b.statsMutex.RUnlock()

	stats := BusStats{
		TotalEvents:     b.stats.TotalEvents,
		EventsByType:    make(map[string]int64, len(b.stats.EventsByType)),
		SubscriberCount: make(map[string]int, len(b.stats.SubscriberCount)),
	}
	for k, v := range b.stats.EventsByType {
		stats.EventsByType[k] = v
	}
	for k, v := range b.stats.SubscriberCount {
		stats.SubscriberCount[k] = v
	}
	return stats
}

func (b *DefaultEventBus) updateStats(eventType EventType) {
	b.statsMutex.Lock()
	defer b.statsMutex.Unlock()

	b.stats.TotalEvents++
	b.stats.EventsByType[string(eventType)]++
}
