package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/twilio"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// CallInfoStore records webhook call metadata for the media stream.
type CallInfoStore interface {
	StoreCallInfo(ctx context.Context, callSID, from, to string) error
}

// RetryScheduler re-dials busy numbers.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, to, from string) error
	ClearRetry(ctx context.Context, to string) error
}

// CallPlacer starts outbound calls.
type CallPlacer interface {
	PlaceCall(ctx context.Context, to, from string) (string, error)
}

// VoiceHandler serves the Twilio voice webhooks.
type VoiceHandler struct {
	calls          CallInfoStore
	retry          RetryScheduler
	placer         CallPlacer
	mediaStreamURL string
	authToken      string
	publicBaseURL  string
	timeout        time.Duration
}

func NewVoiceHandler(calls CallInfoStore, retry RetryScheduler, placer CallPlacer, mediaStreamURL, authToken, publicBaseURL string) *VoiceHandler {
	return &VoiceHandler{
		calls:          calls,
		retry:          retry,
		placer:         placer,
		mediaStreamURL: mediaStreamURL,
		authToken:      authToken,
		publicBaseURL:  publicBaseURL,
		timeout:        10 * time.Second,
	}
}

// SetupVoiceRoutes registers the webhook routes. Twilio-originated routes are
// signature checked when an auth token is configured.
func (h *VoiceHandler) SetupVoiceRoutes(router *mux.Router) {
	twilioRoutes := router.NewRoute().Subrouter()
	twilioRoutes.Use(TwilioSignatureMiddleware(h.authToken, h.publicBaseURL))
	twilioRoutes.HandleFunc("/incoming-call", h.handleIncomingCall).Methods(http.MethodGet, http.MethodPost)
	twilioRoutes.HandleFunc("/call-status", h.handleCallStatus).Methods(http.MethodPost)

	router.HandleFunc("/outbound-call", h.handleOutboundCall).Methods(http.MethodPost)
}

func (h *VoiceHandler) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	callSID := r.FormValue("CallSid")
	from, to := r.FormValue("From"), r.FormValue("To")
	log := logger.Base().With(zap.String("call_sid", callSID))
	log.Info("Incoming call", zap.String("from", from), zap.String("to", to))

	if callSID != "" {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		if err := h.calls.StoreCallInfo(ctx, callSID, from, to); err != nil {
			// the stream still carries from/to as custom parameters
			log.Warn("Failed to store call info", zap.Error(err))
		}
	}

	body, err := twilio.StreamTwiML(h.mediaStreamURL, map[string]string{
		"callSid": callSID,
		"from":    from,
		"to":      to,
	})
	if err != nil {
		log.Error("Failed to render stream TwiML", zap.Error(err))
		http.Error(w, "failed to render response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(body))
}

func (h *VoiceHandler) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	status := strings.ToLower(r.FormValue("CallStatus"))
	to, from := r.FormValue("To"), r.FormValue("From")
	log := logger.Base().With(zap.String("call_sid", r.FormValue("CallSid")), zap.String("status", status), zap.String("to", to))

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	switch status {
	case "busy", "no-answer":
		if h.retry == nil || to == "" {
			break
		}
		if err := h.retry.ScheduleRetry(ctx, to, from); err != nil {
			log.Warn("Retry not scheduled", zap.Error(err))
		}
	case "completed":
		if h.retry == nil || to == "" {
			break
		}
		if err := h.retry.ClearRetry(ctx, to); err != nil {
			log.Warn("Failed to clear retry counter", zap.Error(err))
		}
	default:
		log.Info("Call status received")
	}

	w.WriteHeader(http.StatusNoContent)
}

// OutboundCallRequest is the body of POST /outbound-call.
type OutboundCallRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
}

type OutboundCallResponse struct {
	CallSID string `json:"callSid"`
	Status  string `json:"status"`
}

func (h *VoiceHandler) handleOutboundCall(w http.ResponseWriter, r *http.Request) {
	var req OutboundCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.To = strings.TrimSpace(req.To)
	if req.To == "" {
		writeJSONError(w, http.StatusBadRequest, "to is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if h.retry != nil {
		if err := h.retry.ClearRetry(ctx, req.To); err != nil {
			logger.Base().Warn("Failed to clear retry counter", zap.String("to", req.To), zap.Error(err))
		}
	}

	callSID, err := h.placer.PlaceCall(ctx, req.To, req.From)
	if err != nil {
		logger.Base().Error("Failed to place outbound call", zap.String("to", req.To), zap.Error(err))
		status := http.StatusBadGateway
		if errors.Is(err, twilio.ErrDisabled) {
			status = http.StatusServiceUnavailable
		}
		writeJSONError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, OutboundCallResponse{CallSID: callSID, Status: "initiated"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Base().Warn("Failed to write response", zap.Error(err))
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
