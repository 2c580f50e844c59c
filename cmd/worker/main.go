package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/warrant-labs/sentinel/internal/app"
	"github.com/warrant-labs/sentinel/internal/assignment"
	"github.com/warrant-labs/sentinel/internal/audit"
	"github.com/warrant-labs/sentinel/internal/platform/cache"
	"github.com/warrant-labs/sentinel/internal/platform/db"
	"github.com/warrant-labs/sentinel/jobs"
)

// cacheVersionSource treats the newest snapshot version present in the
// shared cache as "current" for sweep purposes, so the worker needs no
// link to a live engine process.
type cacheVersionSource struct {
	cache *assignment.RedisCache
}

func (s cacheVersionSource) CurrentVersion(ctx context.Context) (uint64, error) {
	return s.cache.MaxVersion(ctx)
}

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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	auditRepo := audit.NewRepository(pool)
	// Epoch zero: the worker only sweeps and reads versions, it never
	// writes cache entries of its own.
	sharedCache := assignment.NewRedisCache(redisClient, cfg.ResolverCacheTTL, 0, logger)

	archiveTask, err := jobs.NewAuditArchiveTask(jobs.AuditArchivePayload{})
	if err != nil {
		logger.Error("build archive task", slog.Any("error", err))
		os.Exit(1)
	}
	sweepTask, err := jobs.NewCacheSweepTask(jobs.CacheSweepPayload{})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuditArchive, Handler: jobs.HandleAuditArchiveTask(auditRepo, logger)},
			{Type: jobs.TaskCacheSweep, Handler: jobs.HandleCacheSweepTask(sharedCache, cacheVersionSource{cache: sharedCache}, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 2 * * *", Task: archiveTask},
			{Spec: "*/15 * * * *", Task: sweepTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker starting")
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker shutdown complete")
}
