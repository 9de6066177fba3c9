// Mentorly chat gateway server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/mentorly/chat-gateway/internal/api"
	"github.com/mentorly/chat-gateway/internal/auth"
	"github.com/mentorly/chat-gateway/internal/chat"
	"github.com/mentorly/chat-gateway/internal/config"
	"github.com/mentorly/chat-gateway/internal/generator"
	"github.com/mentorly/chat-gateway/internal/middleware"
	"github.com/mentorly/chat-gateway/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting chat gateway", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	verifier := auth.NewTokenVerifier(cfg.TokenSecret)

	gen, err := generator.NewOpenAI(cfg.Generator.OpenAIAPIKey, cfg.Generator.Model)
	if err != nil {
		slog.Error("Failed to initialize response generator", "error", err)
		os.Exit(1)
	}

	limiter := chat.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Close()

	gateway := chat.NewGateway(chat.GatewayConfig{
		Verifier:  verifier,
		Repo:      repo,
		Generator: gen,
		Limiter:   limiter,
		Streamer:  chat.NewStreamer(cfg.Chat.ChunkSize, cfg.Chat.ChunkDelay),
		Session: chat.SessionConfig{
			HistoryWindow:    cfg.Chat.HistoryWindow,
			GeneratorTimeout: cfg.Generator.Timeout,
		},
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
	})

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo)
	chatHandler := api.NewChatHandler(repo, gateway.Stats())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	corsOrigins := []string{"*"}
	if !cfg.IsDevelopment() {
		corsOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(corsOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Authenticated REST routes.
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier))
		chatHandler.RegisterRoutes(r)
	})

	// WebSocket endpoint; the gateway does its own token handshake.
	r.Get("/ws/chat", gateway.ServeHTTP)

	// Create server.
	// Note: the WebSocket endpoint requires long-lived connections
	// (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start idle-session reaper.
	store.StartReaper(ctx, repo, cfg.Chat.SessionTTL, cfg.Chat.ReapInterval)
	slog.Info("Session reaper started", "session_ttl", cfg.Chat.SessionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
