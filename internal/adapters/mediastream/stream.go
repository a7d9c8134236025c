// Package mediastream speaks the Twilio Media Streams websocket protocol.
package mediastream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Inbound event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
	EventDTMF      = "dtmf"
)

var ErrClosed = errors.New("media stream closed")

// Message is one inbound Twilio frame.
type Message struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *StartPayload `json:"start,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
	Mark      *MarkPayload  `json:"mark,omitempty"`
	Stop      *StopPayload  `json:"stop,omitempty"`
	DTMF      *DTMFPayload  `json:"dtmf,omitempty"`
}

type StartPayload struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries base64 mu-law audio. Timestamp is milliseconds since
// the stream started, sent as a decimal string.
type MediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

// TimestampMs parses the media timestamp.
func (m *MediaPayload) TimestampMs() (int64, error) {
	ts, err := strconv.ParseInt(m.Timestamp, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid media timestamp %q: %w", m.Timestamp, err)
	}
	return ts, nil
}

type MarkPayload struct {
	Name string `json:"name"`
}

type StopPayload struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

type DTMFPayload struct {
	Digit string `json:"digit"`
}

// Upgrader accepts Twilio's websocket handshake.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn wraps one media stream websocket. Writes are serialized; reads must
// come from a single goroutine.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	mu        sync.RWMutex
	streamSID string
	closed    bool
	closeOnce sync.Once
}

// Upgrade upgrades an HTTP request to a media stream connection.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(ws), nil
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws, writeTimeout: 5 * time.Second}
}

// Next blocks for the next frame. Frames that are not valid JSON are returned
// as an error wrapping the decode failure, leaving the connection usable.
func (c *Conn) Next() (*Message, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if msg.Event == EventStart && msg.Start != nil {
		c.SetStreamSID(msg.Start.StreamSID)
	}
	return &msg, nil
}

// DecodeError marks a malformed frame.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "malformed media stream frame: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

func (c *Conn) SetStreamSID(sid string) {
	c.mu.Lock()
	c.streamSID = sid
	c.mu.Unlock()
}

func (c *Conn) StreamSID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamSID
}

// SendMedia plays base64 mu-law audio to the caller.
func (c *Conn) SendMedia(payload string) error {
	return c.write(map[string]any{
		"event":     EventMedia,
		"streamSid": c.StreamSID(),
		"media":     map[string]string{"payload": payload},
	})
}

// SendMark asks Twilio to echo name once everything sent before it has played.
func (c *Conn) SendMark(name string) error {
	return c.write(map[string]any{
		"event":     EventMark,
		"streamSid": c.StreamSID(),
		"mark":      map[string]string{"name": name},
	})
}

// SendClear drops audio Twilio has buffered but not yet played.
func (c *Conn) SendClear() error {
	return c.write(map[string]any{
		"event":     "clear",
		"streamSid": c.StreamSID(),
	})
}

func (c *Conn) write(msg map[string]any) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(msg)
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		err = c.ws.Close()
	})
	return err
}
