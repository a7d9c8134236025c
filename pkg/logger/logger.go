package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	mu          sync.Mutex
	globalSugar *zap.SugaredLogger
	globalBase  *zap.Logger
)

// Init builds the process logger. env "prod"/"production" selects the JSON
// production config, anything else the console development config.
// Stdlib log output is redirected so third-party log.Printf calls end up in zap.
func Init(env string) (*zap.SugaredLogger, error) {
	mu.Lock()
	defer mu.Unlock()

	if globalBase != nil {
		return globalSugar, nil
	}

	var cfg zap.Config
	if strings.EqualFold(env, "prod") || strings.EqualFold(env, "production") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(base)
	_ = zap.RedirectStdLog(base)

	globalBase = base
	globalSugar = base.Sugar()
	return globalSugar, nil
}

func ensure() {
	if _, err := Init(os.Getenv("LOG_ENV")); err != nil {
		mu.Lock()
		if globalBase == nil {
			base, _ := zap.NewDevelopment()
			globalBase = base
			globalSugar = base.Sugar()
		}
		mu.Unlock()
	}
}

// L returns the global sugared logger, initializing it on first use.
func L() *zap.SugaredLogger {
	ensure()
	return globalSugar
}

// Base returns the base *zap.Logger.
func Base() *zap.Logger {
	ensure()
	return globalBase
}

// ForCall returns a logger carrying the stream and call identifiers.
func ForCall(streamSid, callSid string) *zap.Logger {
	fields := []zap.Field{zap.String("stream_sid", streamSid)}
	if callSid != "" {
		fields = append(fields, zap.String("call_sid", callSid))
	}
	return Base().With(fields...)
}

// Sync flushes any buffered log entries.
func Sync() {
	if globalBase != nil {
		_ = globalBase.Sync()
	}
}

// GORMWriter adapts gorm's logger.Writer to zap.
type GORMWriter struct{}

// Printf implements gorm.io/gorm/logger.Writer.
func (w GORMWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimRight(fmt.Sprintf(format, v...), "\r\n")
	Base().Warn(msg, zap.String("component", "gorm"))
}

// NewGORMWriter creates a new GORM writer adapter
func NewGORMWriter() GORMWriter {
	return GORMWriter{}
}
