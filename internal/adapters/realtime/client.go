// Package realtime is the websocket client for the OpenAI Realtime API.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("realtime connection closed")

// Config describes the realtime endpoint.
type Config struct {
	URL          string
	Model        string
	APIKey       string
	WriteTimeout time.Duration
}

// Handler receives server events from a connection.
type Handler interface {
	// OnEvent gets each raw server event in arrival order.
	OnEvent(raw []byte)
	// OnClose is called once when the read loop stops. err is nil for a
	// normal close or one we initiated.
	OnClose(err error)
}

// Conn is one realtime session socket.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closing   chan struct{}
	closeOnce sync.Once
	started   sync.Once
}

// Dial opens a realtime connection for cfg.Model.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("realtime API key not configured")
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime url: %w", err)
	}
	if cfg.Model != "" {
		q := u.Query()
		q.Set("model", cfg.Model)
		u.RawQuery = q.Encode()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 15 * time.Second,
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to realtime API (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to realtime API: %w", err)
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	logger.Base().Debug("Realtime connection established", zap.String("model", cfg.Model))
	return &Conn{ws: ws, writeTimeout: writeTimeout, closing: make(chan struct{})}, nil
}

// Start runs the read loop in its own goroutine. Calling it more than once is a no-op.
func (c *Conn) Start(h Handler) {
	c.started.Do(func() {
		go c.readLoop(h)
	})
}

func (c *Conn) readLoop(h Handler) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
				h.OnClose(nil)
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				h.OnClose(nil)
				return
			}
			h.OnClose(err)
			return
		}
		h.OnEvent(data)
	}
}

// Send writes event as JSON. Safe for concurrent use.
func (c *Conn) Send(event interface{}) error {
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(event)
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
