package handler

import (
	"context"
	"net/http"
	"time"

	corecall "github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/call"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/event"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// SessionDirectory lists and ends the calls this process owns.
type SessionDirectory interface {
	Snapshot() []corecall.Info
	Len() int
}

// LocalHangup ends a call owned by this process.
type LocalHangup interface {
	HangupLocal(streamSID string) bool
}

// HangupNotifier asks other pods to end a call.
type HangupNotifier interface {
	NotifyHangup(ctx context.Context, streamSID string) error
}

// EventStats reports lifecycle event counters for /health.
type EventStats interface {
	GetStats() event.BusStats
}

// SessionHandler exposes health and live call inspection.
type SessionHandler struct {
	sessions   SessionDirectory
	hangup     LocalHangup
	notifier   HangupNotifier
	events     EventStats
	instanceID string
	startedAt  time.Time
}

func NewSessionHandler(sessions SessionDirectory, hangup LocalHangup, notifier HangupNotifier, instanceID string) *SessionHandler {
	return &SessionHandler{
		sessions:   sessions,
		hangup:     hangup,
		notifier:   notifier,
		instanceID: instanceID,
		startedAt:  time.Now(),
	}
}

// WithEventStats adds event bus counters to the health response.
func (h *SessionHandler) WithEventStats(events EventStats) *SessionHandler {
	h.events = events
	return h
}

func (h *SessionHandler) SetupSessionRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/sessions", h.handleListSessions).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{streamSid}", h.handleHangup).Methods(http.MethodDelete)
}

type healthResponse struct {
	Status        string          `json:"status"`
	InstanceID    string          `json:"instanceId"`
	LiveSessions  int             `json:"liveSessions"`
	UptimeSeconds int64           `json:"uptimeSeconds"`
	Events        *event.BusStats `json:"events,omitempty"`
}

func (h *SessionHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		InstanceID:    h.instanceID,
		LiveSessions:  h.sessions.Len(),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	if h.events != nil {
		stats := h.events.GetStats()
		resp.Events = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SessionHandler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.Snapshot()
	if sessions == nil {
		sessions = []corecall.Info{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instanceId": h.instanceID,
		"sessions":   sessions,
	})
}

// handleHangup ends the call locally, or broadcasts the request when another pod owns it.
func (h *SessionHandler) handleHangup(w http.ResponseWriter, r *http.Request) {
	streamSID := mux.Vars(r)["streamSid"]

	if h.hangup.HangupLocal(streamSID) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ended", "streamSid": streamSID})
		return
	}
	if h.notifier == nil {
		writeJSONError(w, http.StatusNotFound, corecall.ErrSessionNotFound.Error())
		return
	}

	if err := h.notifier.NotifyHangup(r.Context(), streamSID); err != nil {
		logger.Base().Error("Failed to broadcast hangup", zap.String("stream_sid", streamSID), zap.Error(err))
		writeJSONError(w, http.StatusBadGateway, "failed to broadcast hangup")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "hangup requested", "streamSid": streamSID})
}
