package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alen95ae/stellarmotion-sub005/internal/app"
	"github.com/alen95ae/stellarmotion-sub005/internal/inventory"
	"github.com/alen95ae/stellarmotion-sub005/internal/observability"
	"github.com/alen95ae/stellarmotion-sub005/internal/platform/cache"
	"github.com/alen95ae/stellarmotion-sub005/internal/platform/db"
	"github.com/alen95ae/stellarmotion-sub005/internal/sales/quotations"
	"github.com/alen95ae/stellarmotion-sub005/internal/shared"
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

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()

	var distLock *shared.RedisLock
	if cfg.GuardedStockWrites {
		distLock = shared.NewRedisLock(redisClient, 10*time.Second)
	}

	inventoryRepo := inventory.NewRepository(dbpool)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, inventory.ServiceConfig{
		Logger:        logger,
		Metrics:       inventory.NewEngineMetrics(metrics.Registerer()),
		GuardedWrites: cfg.GuardedStockWrites,
		DistLock:      distLock,
	})
	inventoryHandler := inventory.NewHandler(inventoryService, logger)

	quotationsRepo := quotations.NewRepository(dbpool)
	quotationsService := quotations.NewService(quotationsRepo, inventoryService, idempotencyStore, logger)
	quotationsHandler := quotations.NewHandler(quotationsService, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		InventoryHandler:  inventoryHandler,
		QuotationsHandler: quotationsHandler,
		Metrics:           metrics,
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
