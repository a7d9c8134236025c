package handler

import (
	"net/http"
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/broadcast"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	observerBuffer       = 256
	observerWriteTimeout = 5 * time.Second
	observerMaxMessage   = 64 << 10
)

var observerUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ObserverHub is the fan-out the dashboard connections join.
type ObserverHub interface {
	Add(o broadcast.Observer)
	Remove(o broadcast.Observer)
	HandleInbound(o broadcast.Observer, data []byte)
}

// ObserverHandler serves dashboard websockets on /frontend.
type ObserverHandler struct {
	hub         ObserverHub
	secret      string
	messageRate rate.Limit
	burst       int
}

// NewObserverHandler limits each connection to messagesPerSecond inbound frames.
func NewObserverHandler(hub ObserverHub, secret string, messagesPerSecond float64) *ObserverHandler {
	if messagesPerSecond <= 0 {
		messagesPerSecond = 5
	}
	burst := int(messagesPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &ObserverHandler{
		hub:         hub,
		secret:      secret,
		messageRate: rate.Limit(messagesPerSecond),
		burst:       burst,
	}
}

func (h *ObserverHandler) SetupObserverRoutes(router *mux.Router) {
	router.Handle("/frontend", ObserverAuthMiddleware(h.secret)(http.HandlerFunc(h.handleObserver))).Methods(http.MethodGet)
}

func (h *ObserverHandler) handleObserver(w http.ResponseWriter, r *http.Request) {
	ws, err := observerUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Base().Warn("Observer upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	ws.SetReadLimit(observerMaxMessage)

	obs := broadcast.NewWSObserver(ws, observerBuffer, observerWriteTimeout)
	h.hub.Add(obs)
	defer h.hub.Remove(obs)

	log := logger.Base().With(zap.String("remote_addr", r.RemoteAddr))
	log.Info("Observer connected")

	limiter := rate.NewLimiter(h.messageRate, h.burst)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			log.Info("Observer disconnected", zap.Error(err))
			return
		}
		if !limiter.Allow() {
			log.Warn("Observer message rate exceeded, dropping frame")
			continue
		}
		h.hub.HandleInbound(obs, data)
	}
}
