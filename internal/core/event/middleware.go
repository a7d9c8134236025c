package event

import (
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"go.uber.org/zap"
)

// LoggingMiddleware logs every handled event with its duration.
func LoggingMiddleware(next EventHandler) EventHandler {
	return func(event *CallEvent) {
		start := time.Now()
		defer func() {
			fields := []zap.Field{
				zap.String("type", string(event.Type)),
				zap.String("stream_sid", event.StreamSID),
				zap.Duration("duration", time.Since(start)),
			}
			if event.IsError() {
				logger.Base().Warn("Event handled with error", append(fields, zap.Error(event.Error))...)
				return
			}
			logger.Base().Debug("Event handled", fields...)
		}()

		next(event)
	}
}

// ValidationMiddleware drops events without a type or stream id.
func ValidationMiddleware(next EventHandler) EventHandler {
	return func(event *CallEvent) {
		if event == nil {
			logger.Base().Error("Received nil event")
			return
		}
		if event.Type == "" || event.StreamSID == "" {
			logger.Base().Error("Dropping incomplete event", zap.String("type", string(event.Type)), zap.String("stream_sid", event.StreamSID))
			return
		}
		next(event)
	}
}
