package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/redis"
)

// memRedis is an in-memory RedisServiceInterface.
type memRedis struct {
	mu       sync.Mutex
	values   map[string]string
	ttls     map[string]time.Duration
	handlers map[string][]func(string)
}

func newMemRedis() *memRedis {
	return &memRedis{
		values:   make(map[string]string),
		ttls:     make(map[string]time.Duration),
		handlers: make(map[string][]func(string)),
	}
}

func (r *memRedis) GenerateKey(keyType redis.KeyType, identifier string) string {
	return fmt.Sprintf("%s:%s", keyType, identifier)
}

func (r *memRedis) GetValue(ctx context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[key]
	if !ok {
		return "", redis.ErrKeyNotExist
	}
	return v, nil
}

func (r *memRedis) SetValue(ctx context.Context, key, value string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
	r.ttls[key] = ttl
	return nil
}

func (r *memRedis) DelValue(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, key)
	return nil
}

func (r *memRedis) TakeValue(ctx context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[key]
	if !ok {
		return "", redis.ErrKeyNotExist
	}
	delete(r.values, key)
	return v, nil
}

func (r *memRedis) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, fmt.Errorf("not used")
}

func (r *memRedis) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	r.mu.Lock()
	handlers := append([]func(string){}, r.handlers[channel]...)
	r.mu.Unlock()
	for _, h := range handlers {
		h(string(data))
	}
	return nil
}

func (r *memRedis) Subscribe(ctx context.Context, channel string, handler func(string)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[channel] = append(r.handlers[channel], handler)
	return nil
}

func (r *memRedis) Close() error { return nil }
