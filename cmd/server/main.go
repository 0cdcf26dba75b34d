// Tapflow - guided EFT tapping session server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/tapflow/internal/api"
	"github.com/ashureev/tapflow/internal/config"
	"github.com/ashureev/tapflow/internal/dialogue"
	"github.com/ashureev/tapflow/internal/identity"
	"github.com/ashureev/tapflow/internal/live"
	"github.com/ashureev/tapflow/internal/middleware"
	"github.com/ashureev/tapflow/internal/session"
	"github.com/ashureev/tapflow/internal/store"
	"github.com/ashureev/tapflow/internal/transcript"
	"github.com/ashureev/tapflow/internal/worker"
	"github.com/ashureev/tapflow/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	if err := run(logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(),
		"dialogue_mode", cfg.Dialogue.Mode, "model_backend", cfg.Model.Backend)

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(context.Background()); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	model, closeModel := buildModel(cfg, logger)
	defer closeModel()

	limiter := dialogue.NewFixedWindowLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Stop()
	svc := dialogue.NewService(model, limiter, dialogue.WithLogger(logger))

	var dlg session.Dialogue = dialogue.NewLocal(svc)
	if cfg.Dialogue.Mode == config.DialogueRemote {
		dlg = dialogue.NewClient(cfg.Dialogue.URL, cfg.Dialogue.Timeout)
		slog.Info("Using remote dialogue service", "url", cfg.Dialogue.URL)
	}

	journal, err := transcript.NewConversationLogger(transcript.LogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}
	defer func() { _ = journal.Close() }()

	registry := session.NewRegistry(repo, session.Deps{
		Dialogue:        dlg,
		Logger:          logger,
		MaxMessageChars: cfg.MaxMessageChars,
		HistoryWindow:   cfg.HistoryWindow,
	})
	conns := live.NewConnManager()

	healthHandler := api.NewHealthHandler(repo, registry.Len, cfg.HealthCheckTimeout)
	dialogueHandler := dialogue.NewHandler(svc, logger)
	sessionHandler := api.NewSessionHandler(registry,
		api.WithUsers(repo),
		api.WithEpisodes(repo),
		api.WithJournal(journal),
		api.WithLogger(logger),
	)
	allowedOrigin := "*"
	if !cfg.IsDevelopment() {
		allowedOrigin = cfg.AllowedOrigins()[0]
	}
	liveHandler := live.NewHandler(registry, conns, journal, allowedOrigin, cfg.IsDevelopment())

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Service-to-service and probe routes carry no user identity.
	healthHandler.RegisterHealth(r)
	dialogueHandler.RegisterRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		sessionHandler.RegisterRoutes(r)
		r.Get("/ws/session", liveHandler.ServeHTTP)
	})

	r.Handle("/*", web.SPAHandler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	sweeper := worker.NewSweeper(registry, repo, worker.SweeperConfig{
		Interval:  cfg.SweepInterval,
		IdleTTL:   cfg.SessionTTL,
		Retention: cfg.SessionRetention,
	}, logger)
	g.Go(func() error { return sweeper.Run(gctx) })

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		conns.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// buildModel picks the model backend. An unreachable or unconfigured backend
// falls back to scripted replies so sessions still work.
func buildModel(cfg *config.Config, logger *slog.Logger) (dialogue.Model, func()) {
	noop := func() {}
	switch cfg.Model.Backend {
	case config.BackendGRPC:
		gcfg := dialogue.DefaultGrpcModelConfig()
		gcfg.Address = cfg.Model.Addr
		gcfg.RequestTimeout = cfg.Dialogue.Timeout
		slog.Info("Connecting to model backend via gRPC", "address", gcfg.Address)
		m, err := dialogue.NewGrpcModel(gcfg, logger)
		if err != nil {
			slog.Warn("Failed to connect to model backend, using scripted replies", "error", err)
			return dialogue.Scripted{}, noop
		}
		return m, m.Close
	case config.BackendHTTP:
		if cfg.Model.URL == "" {
			slog.Warn("MODEL_URL not set, using scripted replies")
			return dialogue.Scripted{}, noop
		}
		return dialogue.NewHTTPModel(cfg.Model.URL, cfg.Model.APIKey, cfg.Dialogue.Timeout), noop
	}
	slog.Info("Using scripted replies")
	return dialogue.Scripted{}, noop
}
