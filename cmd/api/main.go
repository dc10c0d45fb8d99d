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

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/promptdeck/internal/api"
	"github.com/nikhilbhutani/promptdeck/internal/api/handlers"
	"github.com/nikhilbhutani/promptdeck/internal/audit"
	"github.com/nikhilbhutani/promptdeck/internal/cache"
	"github.com/nikhilbhutani/promptdeck/internal/config"
	"github.com/nikhilbhutani/promptdeck/internal/credential"
	"github.com/nikhilbhutani/promptdeck/internal/database"
	"github.com/nikhilbhutani/promptdeck/internal/eval"
	"github.com/nikhilbhutani/promptdeck/internal/execution"
	"github.com/nikhilbhutani/promptdeck/internal/input"
	"github.com/nikhilbhutani/promptdeck/internal/keys"
	"github.com/nikhilbhutani/promptdeck/internal/llm"
	"github.com/nikhilbhutani/promptdeck/internal/prompt"
	"github.com/nikhilbhutani/promptdeck/internal/queue"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(cfg.Database.URL); err != nil {
			slog.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	}

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis only backs the live-content cache and the queue; the API keeps
	// serving from Postgres when it is down.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, live cache disabled until it recovers", "error", err)
	}
	defer rdb.Close()
	liveCache := cache.NewCache(rdb)

	queueClient := queue.NewClient(cfg.Redis)
	defer queueClient.Close()

	enc, err := credential.NewEncryptor(cfg.Security.CredentialsKey)
	if err != nil {
		slog.Error("invalid credentials key", "error", err)
		os.Exit(1)
	}

	auditSvc := audit.NewService(db)
	credSvc := credential.NewService(db, enc, auditSvc)
	recorder := execution.NewLogger(db)
	gateway := llm.NewGateway(cfg.LLM)
	invoker := execution.NewInvoker(gateway, recorder, credSvc, cfg.LLM.DefaultModel)

	router := api.NewRouter(cfg, api.Services{
		Tenants:     tenant.NewService(db),
		Audit:       auditSvc,
		Prompts:     prompt.NewService(db, liveCache, cfg.Redis.LiveTTL, auditSvc, invoker),
		Evaluations: eval.NewService(db, invoker, queueClient, cfg.LLM.DefaultModel),
		Executions:  execution.NewService(db, auditSvc),
		Recorder:    recorder,
		Keys:        keys.NewService(db, auditSvc),
		Credentials: credSvc,
		Inputs:      input.NewService(db),
		LLM:         gateway,
		PassThrough: llm.NewPassThrough(cfg.Gateway.UpstreamURL, cfg.Gateway.DefaultKey),
		Health:      map[string]handlers.Pinger{"database": db, "redis": liveCache},
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.Setup(ctx),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
