package broadcast

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrObserverClosed = errors.New("observer closed")
	ErrObserverSlow   = errors.New("observer send buffer full")
)

// Observer is a dashboard connection receiving serialized messages.
type Observer interface {
	Send(data []byte) error
	Close() error
}

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// WSObserver queues frames for a websocket and writes them from its own goroutine,
// so a slow dashboard never stalls a call.
type WSObserver struct {
	ws           wsWriter
	out          chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
}

// NewWSObserver starts the writer goroutine for ws.
func NewWSObserver(ws wsWriter, buffer int, writeTimeout time.Duration) *WSObserver {
	if buffer <= 0 {
		buffer = 256
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	o := &WSObserver{
		ws:           ws,
		out:          make(chan []byte, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	go o.writeLoop()
	return o
}

func (o *WSObserver) Send(data []byte) error {
	select {
	case <-o.done:
		return ErrObserverClosed
	default:
	}

	select {
	case o.out <- data:
		return nil
	default:
		return ErrObserverSlow
	}
}

// Done is closed once the observer stops writing.
func (o *WSObserver) Done() <-chan struct{} {
	return o.done
}

func (o *WSObserver) Close() error {
	var err error
	o.closeOnce.Do(func() {
		close(o.done)
		err = o.ws.Close()
	})
	return err
}

func (o *WSObserver) writeLoop() {
	for {
		select {
		case <-o.done:
			return
		case data := <-o.out:
			_ = o.ws.SetWriteDeadline(time.Now().Add(o.writeTimeout))
			if err := o.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = o.Close()
				return
			}
		}
	}
}
