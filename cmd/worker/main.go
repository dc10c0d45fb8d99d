package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/promptdeck/internal/audit"
	"github.com/nikhilbhutani/promptdeck/internal/config"
	"github.com/nikhilbhutani/promptdeck/internal/credential"
	"github.com/nikhilbhutani/promptdeck/internal/database"
	"github.com/nikhilbhutani/promptdeck/internal/eval"
	"github.com/nikhilbhutani/promptdeck/internal/execution"
	"github.com/nikhilbhutani/promptdeck/internal/llm"
	"github.com/nikhilbhutani/promptdeck/internal/queue"
	"github.com/nikhilbhutani/promptdeck/internal/queue/workers"
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

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	enc, err := credential.NewEncryptor(cfg.Security.CredentialsKey)
	if err != nil {
		slog.Error("invalid credentials key", "error", err)
		os.Exit(1)
	}

	credSvc := credential.NewService(db, enc, audit.NewService(db))
	invoker := execution.NewInvoker(llm.NewGateway(cfg.LLM), execution.NewLogger(db), credSvc, cfg.LLM.DefaultModel)
	// Runs are only executed here, never enqueued, so no queue is passed.
	evalSvc := eval.NewService(db, invoker, nil, cfg.LLM.DefaultModel)

	srv := asynq.NewServer(queue.RedisOpt(cfg.Redis), asynq.Config{
		Concurrency: cfg.Queue.Concurrency,
		Queues:      map[string]int{"default": 1},
	})

	registry := queue.NewHandlersRegistry()
	registry.Register(queue.TypeEvaluationRun, asynq.HandlerFunc(workers.NewEvaluationWorker(evalSvc).ProcessTask))

	if err := srv.Start(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
	slog.Info("worker started", "concurrency", cfg.Queue.Concurrency)

	<-ctx.Done()
	slog.Info("shutting down worker...")
	srv.Shutdown()
}
