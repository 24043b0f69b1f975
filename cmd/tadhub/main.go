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

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/tadhub/tadhub/internal/app"
	jobmetrics "github.com/tadhub/tadhub/internal/jobs"
	"github.com/tadhub/tadhub/internal/observability"
	"github.com/tadhub/tadhub/internal/platform/cache"
	"github.com/tadhub/tadhub/internal/platform/db"
	"github.com/tadhub/tadhub/internal/platform/lease"
	"github.com/tadhub/tadhub/internal/rbac"
	"github.com/tadhub/tadhub/internal/roles"
	"github.com/tadhub/tadhub/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping api startup")
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

	metrics := observability.NewMetrics()
	grantMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	rbacRepo := rbac.NewRepository(pool)
	permCache := rbac.NewCache(redisClient, cfg.RBACPermissionCacheTTL)
	authorizer := rbac.NewAuthorizer(rbacRepo, permCache, logger)
	reconciler := rbac.NewReconciler(rbacRepo, logger, rbac.ReconcilerConfig{
		TemplateTimeout: cfg.RBACTemplateTimeout,
		LeaseTTL:        cfg.RBACSyncLeaseTTL,
		Locker:          lease.NewLocker(redisClient, instanceID()),
		Cache:           permCache,
		Metrics:         grantMetrics,
	})

	if err := bootstrapRBAC(ctx, cfg, logger, rbacRepo, reconciler); err != nil {
		logger.Error("rbac bootstrap", slog.Any("error", err))
		os.Exit(1)
	}

	rbacMiddleware := rbac.Middleware{Checker: authorizer, Logger: logger}
	rbacHandler := rbac.NewHandler(logger, rbacRepo, reconciler, authorizer, rbacMiddleware)
	rolesService := roles.NewService(roles.NewRepository(pool), authorizer, logger, reconciler.Templates())
	rolesHandler := roles.NewHandler(logger, rolesService, rbacMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Pool:           pool,
		Redis:          redisClient,
		RBACMiddleware: rbacMiddleware,
		RBACHandler:    rbacHandler,
		RolesHandler:   rolesHandler,
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
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

// bootstrapRBAC seeds the permission catalog and, when enabled, runs one
// template sync. Sync failures are logged only; the next run repairs them.
func bootstrapRBAC(ctx context.Context, cfg *app.Config, logger *slog.Logger, repo rbac.Repository, reconciler *rbac.Reconciler) error {
	if _, err := rbac.NewCatalogSeeder(repo, logger).Seed(ctx, rbac.DefaultCatalog()); err != nil {
		return err
	}
	if !cfg.RBACSyncOnStart {
		return nil
	}
	report, err := reconciler.SyncNow(ctx, rbac.SyncOptions{})
	switch {
	case errors.Is(err, rbac.ErrSyncInProgress):
		logger.Info("rbac startup sync skipped, another instance holds the lease")
	case err != nil:
		logger.Error("rbac startup sync", slog.Int("templates_done", len(report.Templates)), slog.Any("error", err))
	}
	return nil
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "tadhub"
	}
	return host + "-" + uuid.NewString()
}
