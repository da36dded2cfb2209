package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/partsflow/partsflow/internal/app"
	"github.com/partsflow/partsflow/internal/platform/db"
	"github.com/partsflow/partsflow/internal/shared"
	"github.com/partsflow/partsflow/internal/stock"
	"github.com/partsflow/partsflow/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	idempotencyStore := shared.NewIdempotencyStore(pool)
	stockRepo := stock.NewRepository(pool)
	stockService := stock.NewService(stockRepo, nil, nil,
		stock.ServiceConfig{AllowNegativeStock: cfg.AllowNegativeStock}, logger)

	notifyJob := jobs.NewNotifyJob(logger)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, logger)
	lowStockJob := jobs.NewLowStockScanJob(stockService, logger)

	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetentionHours)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}
	lowStockTask, err := jobs.NewLowStockScanTask()
	if err != nil {
		logger.Error("build low stock task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskNotifyPOStatus, Handler: notifyJob.HandlePOStatus},
			{Type: jobs.TaskNotifyIssueStatus, Handler: notifyJob.HandleIssueStatus},
			{Type: jobs.TaskNotifyStockAdjusted, Handler: notifyJob.HandleStockAdjusted},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
			{Type: jobs.TaskLowStockScan, Handler: lowStockJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 7 * * *", Task: lowStockTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
