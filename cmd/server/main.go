// Gemini Q&A server: text and vision questions over HTTP and WebSocket.
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

	"github.com/chzyer/readline"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ashureev/gemini-qa/internal/api"
	"github.com/ashureev/gemini-qa/internal/chat"
	"github.com/ashureev/gemini-qa/internal/config"
	"github.com/ashureev/gemini-qa/internal/credential"
	"github.com/ashureev/gemini-qa/internal/dispatch"
	"github.com/ashureev/gemini-qa/internal/gemini"
	"github.com/ashureev/gemini-qa/internal/identity"
	"github.com/ashureev/gemini-qa/internal/imaging"
	"github.com/ashureev/gemini-qa/internal/metrics"
	"github.com/ashureev/gemini-qa/internal/middleware"
	"github.com/ashureev/gemini-qa/internal/render"
	"github.com/ashureev/gemini-qa/internal/store"
	"github.com/ashureev/gemini-qa/internal/transcript"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(),
		"text_model", cfg.TextModel, "vision_model", cfg.VisionModel)

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

	transcripts, err := transcript.NewLogger(transcript.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() { _ = transcripts.Close() }()

	m := metrics.New()
	m.Registry().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	geminiCfg := gemini.Config{
		TextModel:   cfg.TextModel,
		VisionModel: cfg.VisionModel,
		BaseURL:     cfg.GeminiBaseURL,
	}

	var prompt credential.PromptFunc
	if readline.DefaultIsTerminal() {
		prompt = credential.ReadlinePrompt("Gemini API key: ")
	}

	engine := chat.NewEngine(chat.Config{
		APIKey:    cfg.APIKey,
		Prompt:    prompt,
		Validator: gemini.Validator(geminiCfg),
		NewDispatcher: func(ctx context.Context, cred credential.Credential) (*dispatch.Dispatcher, error) {
			return gemini.NewDispatcher(ctx, geminiCfg, cred, dispatch.WithRecorder(m), dispatch.WithLogger(logger))
		},
		Decoder:    imaging.Decoder{MaxBytes: cfg.MaxImageBytes},
		Store:      repo,
		Transcript: transcripts,
		Observer:   m,
		Logger:     logger,
	})

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	err = engine.Start(startCtx)
	cancelStart()
	if err != nil {
		slog.Error("Credential check failed, halting", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	baseHandler := api.NewHandler(engine, repo, render.New(), cfg)
	chatHandler := api.NewChatHandler(baseHandler)
	healthHandler := api.NewHealthHandler(baseHandler)
	wsHandler := api.NewWebSocketHandler(baseHandler, cfg.AllowedOrigins(), cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", m.Handler())

	// Session-scoped routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		chatHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Dispatches block until the model has finished, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chat.StartReaper(ctx, repo, engine, cfg.SessionTTL, cfg.ReaperInterval)

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
