package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrAlaminH/voice-agent-launchpad/internal/config"
	"github.com/MrAlaminH/voice-agent-launchpad/internal/handler"
	"github.com/MrAlaminH/voice-agent-launchpad/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Server represents the voice gateway server
type Server struct {
	config         *config.TelephonyConfig
	router         *mux.Router
	handlerManager *handler.HandlerManager
	cancel         context.CancelFunc
}

// NewServer creates a new voice gateway server
func NewServer(cfg *config.TelephonyConfig) *Server {
	// Initialize zap logger and redirect stdlib log to it
	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		logger.Base().Error("Failed to initialize zap logger, falling back to std log")
	}

	// Create router
	router := mux.NewRouter()

	// Background context for the dispatcher, task processor and tracker
	// cleanup. Cancelled on shutdown.
	ctx, cancel := context.WithCancel(context.Background())

	// Initialize handler manager - it will create all services internally
	handlerManager, err := handler.NewHandlerManager(ctx, cfg)
	if err != nil {
		logger.Base().Error("Failed to initialize handler manager", zap.Error(err))
		cancel()
		return nil
	}

	// Setup all routes through handler manager
	handlerManager.SetupAllRoutes(router)

	return &Server{
		config:         cfg,
		router:         router,
		handlerManager: handlerManager,
		cancel:         cancel,
	}
}

// Start starts the voice gateway server and blocks until shutdown.
func (s *Server) Start() error {
	server := &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Base().Info("Starting server", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		s.cancel()
		return err
	case sig := <-stop:
		logger.Base().Info("Shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Base().Error("Graceful shutdown failed", zap.Error(err))
	}

	// Stop background routines and drain pending notifications.
	s.cancel()
	s.handlerManager.Shutdown()
	logger.Sync()
	return nil
}

func main() {
	// 0. Load .env file for local development if it exists
	// This will not override environment variables set by Helm/Docker
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	// 1. Load configuration from environment
	cfg := config.LoadFromEnv()
	fmt.Printf("🚀 Starting Voice Agent Launchpad (Instance: %s)\n", cfg.InstanceID)

	// 2. Create the server
	server := NewServer(cfg)
	if server == nil {
		log.Fatal("❌ Failed to create server")
	}
	logger.Base().Info("✅ Server initialized successfully",
		zap.String("addr", cfg.Addr()),
		zap.String("instance_id", cfg.InstanceID))

	// 3. Start the server
	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("❌ Server failed to start: %v", err)
	}
}
