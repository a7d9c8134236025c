package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/config"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/handler"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Server is the call bridge HTTP server.
type Server struct {
	config         *config.CallerConfig
	router         *mux.Router
	handlerManager *handler.HandlerManager
	httpServer     *http.Server
}

// NewServer creates the bridge server and all of its services.
func NewServer(ctx context.Context, cfg *config.CallerConfig) (*Server, error) {
	router := mux.NewRouter()

	handlerManager, err := handler.NewHandlerManager(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize handler manager: %w", err)
	}
	handlerManager.SetupAllRoutes(router)

	addr := fmt.Sprintf(":%s", cfg.Port)
	return &Server{
		config:         cfg,
		router:         router,
		handlerManager: handlerManager,
		// WriteTimeout is left unset: media streams and observer sockets are
		// long-lived hijacked connections with their own write deadlines.
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}, nil
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.handlerManager.StartBackground(ctx)
	logger.Base().Info("Starting server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown ends live calls, stops the listener and releases backends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.handlerManager.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

func main() {
	// Load .env for local development; it does not override the real environment
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		log.Printf("Failed to initialize zap logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.LoadCallerConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := NewServer(ctx, cfg)
	if err != nil {
		logger.Base().Fatal("Failed to create server", zap.Error(err))
	}
	logger.Base().Info("Server initialized",
		zap.String("port", cfg.Port),
		zap.String("instance_id", cfg.InstanceID),
		zap.String("public_host", cfg.PublicHost))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Base().Fatal("Server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Base().Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Base().Error("Graceful shutdown failed", zap.Error(err))
		}
	}
}
