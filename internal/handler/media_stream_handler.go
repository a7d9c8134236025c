package handler

import (
	"net/http"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/adapters/mediastream"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/services/call"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// StreamServer runs one media stream to completion.
type StreamServer interface {
	ServeStream(conn call.Stream)
}

// MediaStreamHandler accepts Twilio media stream websockets.
type MediaStreamHandler struct {
	calls StreamServer
}

func NewMediaStreamHandler(calls StreamServer) *MediaStreamHandler {
	return &MediaStreamHandler{calls: calls}
}

func (h *MediaStreamHandler) SetupMediaStreamRoutes(router *mux.Router) {
	router.HandleFunc("/media-stream", h.handleMediaStream).Methods(http.MethodGet)
}

func (h *MediaStreamHandler) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := mediastream.Upgrade(w, r)
	if err != nil {
		logger.Base().Warn("Media stream upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	logger.Base().Info("Media stream connected", zap.String("remote_addr", r.RemoteAddr))
	h.calls.ServeStream(conn)
}
