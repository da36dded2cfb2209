package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/partsflow/partsflow/internal/app"
	"github.com/partsflow/partsflow/internal/catalog"
	"github.com/partsflow/partsflow/internal/issue"
	"github.com/partsflow/partsflow/internal/notify"
	"github.com/partsflow/partsflow/internal/observability"
	"github.com/partsflow/partsflow/internal/platform/cache"
	"github.com/partsflow/partsflow/internal/platform/db"
	"github.com/partsflow/partsflow/internal/procurement"
	"github.com/partsflow/partsflow/internal/shared"
	"github.com/partsflow/partsflow/internal/stock"
	"github.com/partsflow/partsflow/jobs"
	"github.com/partsflow/partsflow/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	jobsClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	metrics := observability.NewMetrics()
	publisher := notify.NewPublisher(jobsClient, metrics, logger)

	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	catalogRepo := catalog.NewRepository(dbpool)
	catalogCache := catalog.NewCache(redisClient, cfg.CatalogCacheTTL)
	catalogService := catalog.NewService(catalogRepo, catalogCache, cfg.CatalogTimeout, logger)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	stockRepo := stock.NewRepository(dbpool)
	stockService := stock.NewService(stockRepo, auditLogger, publisher,
		stock.ServiceConfig{AllowNegativeStock: cfg.AllowNegativeStock}, logger)
	stockHandler := stock.NewHandler(logger, stockService)

	issueRepo := issue.NewRepository(dbpool)
	issuesForPO := issue.NewFulfillmentAdapter(issueRepo)

	procurementRepo := procurement.NewRepository(dbpool)
	procurementService := procurement.NewService(procurementRepo, catalogService, issuesForPO,
		approvalRecorder, auditLogger, publisher, logger)
	reportClient := report.NewClient(cfg.GotenbergURL)
	procurementHandler := procurement.NewHandler(logger, procurementService).
		WithDocuments(report.NewPODocuments(reportClient))

	issueService := issue.NewService(issueRepo, stockService, catalogService, procurementService,
		idempotencyStore, approvalRecorder, auditLogger, publisher, logger)
	issueHandler := issue.NewHandler(logger, issueService)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Pool:               dbpool,
		CatalogHandler:     catalogHandler,
		StockHandler:       stockHandler,
		ProcurementHandler: procurementHandler,
		IssueHandler:       issueHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
