package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/tadhub/tadhub/internal/app"
	jobmetrics "github.com/tadhub/tadhub/internal/jobs"
	"github.com/tadhub/tadhub/internal/platform/cache"
	"github.com/tadhub/tadhub/internal/platform/db"
	"github.com/tadhub/tadhub/internal/platform/lease"
	"github.com/tadhub/tadhub/internal/rbac"
	"github.com/tadhub/tadhub/jobs"
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
	slog.SetDefault(logger)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
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

	metrics := jobmetrics.NewMetrics(nil)
	rbacRepo := rbac.NewRepository(pool)
	permCache := rbac.NewCache(redisClient, cfg.RBACPermissionCacheTTL)
	reconciler := rbac.NewReconciler(rbacRepo, logger, rbac.ReconcilerConfig{
		TemplateTimeout: cfg.RBACTemplateTimeout,
		LeaseTTL:        cfg.RBACSyncLeaseTTL,
		Locker:          lease.NewLocker(redisClient, "worker-"+uuid.NewString()),
		Cache:           permCache,
		Metrics:         metrics,
	})
	seeder := rbac.NewDomainSeeder(rbacRepo, logger, permCache, metrics)
	provisioner := rbac.NewProvisioner(rbacRepo, reconciler, seeder, permCache, logger)

	provisionJob := jobs.NewTenantProvisionJob(provisioner, logger, metrics)
	syncJob := jobs.NewTemplateSyncJob(reconciler, logger, metrics)

	var cron []jobs.CronRegistration
	if cfg.RBACSyncCron != "" {
		syncTask, err := jobs.NewTemplateSyncTask(uuid.Nil)
		if err != nil {
			logger.Error("build template sync task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.RBACSyncCron, Task: syncTask, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTenantProvision, Handler: provisionJob.Handle},
			{Type: jobs.TaskTemplateSync, Handler: syncJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
