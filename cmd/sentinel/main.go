package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/warrant-labs/sentinel/internal/app"
	"github.com/warrant-labs/sentinel/internal/assignment"
	"github.com/warrant-labs/sentinel/internal/audit"
	"github.com/warrant-labs/sentinel/internal/directory"
	"github.com/warrant-labs/sentinel/internal/engine"
	"github.com/warrant-labs/sentinel/internal/importer"
	"github.com/warrant-labs/sentinel/internal/observability"
	"github.com/warrant-labs/sentinel/internal/platform/cache"
	"github.com/warrant-labs/sentinel/internal/platform/db"
	"github.com/warrant-labs/sentinel/internal/policy"
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

	directoryRepo := directory.NewRepository(pool)
	policyRepo := policy.NewRepository(pool)
	assignmentRepo := assignment.NewRepository(pool)
	auditRepo := audit.NewRepository(pool)

	// The in-memory stores are the read path; Postgres is the durable
	// write-through copy they are rebuilt from at boot.
	users, groups, departments, err := directoryRepo.LoadAll(ctx)
	if err != nil {
		logger.Error("load directory", slog.Any("error", err))
		os.Exit(1)
	}
	policies, roles, err := policyRepo.LoadAll(ctx)
	if err != nil {
		logger.Error("load policies", slog.Any("error", err))
		os.Exit(1)
	}
	assignments, err := assignmentRepo.LoadAll(ctx)
	if err != nil {
		logger.Error("load assignments", slog.Any("error", err))
		os.Exit(1)
	}
	maxSeq, err := auditRepo.MaxSeq(ctx)
	if err != nil {
		logger.Error("load audit sequence", slog.Any("error", err))
		os.Exit(1)
	}

	directoryStore := directory.NewStore()
	if err := directoryStore.Seed(users, groups, departments); err != nil {
		logger.Error("seed directory store", slog.Any("error", err))
		os.Exit(1)
	}
	policyStore := policy.NewStore()
	if err := policyStore.Seed(policies, roles); err != nil {
		logger.Error("seed policy store", slog.Any("error", err))
		os.Exit(1)
	}
	assignmentStore := assignment.NewStore()
	assignmentStore.Seed(assignments)

	metrics := observability.NewMetrics()
	snapshots := engine.NewManager(directoryStore, policyStore, assignmentStore, metrics)
	recorder := audit.NewRecorder(auditRepo, logger, metrics, cfg.AuditQueueDepth, cfg.AuditFlushEvery, maxSeq)

	directoryService := directory.NewService(directoryStore, directoryRepo, snapshots, recorder, logger, cfg.AdminActor)
	policyService := policy.NewService(policyStore, policyRepo, snapshots, recorder, logger, cfg.AdminActor, len(policies))
	assignmentService := assignment.NewService(assignmentStore, assignmentRepo, directoryStore, policyStore, snapshots, recorder, logger, cfg.AdminActor)

	cacheEpoch, err := assignment.NextCacheEpoch(ctx, redisClient)
	if err != nil {
		logger.Error("allocate cache epoch", slog.Any("error", err))
		os.Exit(1)
	}
	sharedCache := assignment.NewRedisCache(redisClient, cfg.ResolverCacheTTL, cacheEpoch, logger)
	resolver := assignment.NewResolver(cfg.DeptInheritance, cfg.ResolverCacheSize, sharedCache)
	evaluator := engine.NewEvaluator(snapshots, resolver, recorder, metrics, logger)

	auditService := audit.NewService(auditRepo)
	importService := importer.NewService(directoryService)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		DirectoryHandler:  directory.NewHandler(logger, directoryService),
		PolicyHandler:     policy.NewHandler(logger, policyService),
		AssignmentHandler: assignment.NewHandler(logger, assignmentService),
		EngineHandler:     engine.NewHandler(evaluator),
		AuditHandler:      audit.NewHandler(logger, auditService),
		ImportHandler:     importer.NewHandler(importService),
		Pool:              pool,
		Metrics:           metrics,
	})
	server := app.NewServer(cfg, router, logger)

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return recorder.Run(runCtx)
	})
	g.Go(func() error {
		return server.Run(runCtx)
	})
	if err := g.Wait(); err != nil && runCtx.Err() == nil {
		logger.Error("runtime", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
