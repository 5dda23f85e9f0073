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

	"github.com/hibiken/asynq"

	"github.com/meridian-tms/meridian-tms/internal/app"
	"github.com/meridian-tms/meridian-tms/internal/observability"
	"github.com/meridian-tms/meridian-tms/internal/permission"
	"github.com/meridian-tms/meridian-tms/internal/platform/cache"
	"github.com/meridian-tms/meridian-tms/internal/platform/db"
	"github.com/meridian-tms/meridian-tms/internal/project"
	"github.com/meridian-tms/meridian-tms/internal/shared"
	"github.com/meridian-tms/meridian-tms/internal/users"
	"github.com/meridian-tms/meridian-tms/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, resolution cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)

	policy := permission.NewPolicyTable(permission.DefaultCatalog())
	permCache := permission.NewCache(redisClient, cfg.PermissionCacheTTL)
	permRepo := permission.NewRepository(pool)
	userService := users.NewService(users.NewRepository(pool))

	resolver := permission.NewResolver(permission.ResolverConfig{
		Users:      userService,
		Templates:  permRepo,
		Overrides:  permRepo,
		Grants:     permRepo,
		Policy:     policy,
		Cache:      permCache,
		Logger:     logger,
		FailClosed: cfg.AccessGateFailClosed,
	})
	mutator := permission.NewMutator(permission.MutatorConfig{
		Grants:      permRepo,
		Policy:      policy,
		Cache:       permCache,
		Audit:       auditLogger,
		Observer:    metrics,
		Logger:      logger,
		ChunkSize:   cfg.FanoutChunkSize,
		Concurrency: cfg.FanoutConcurrency,
	})
	permService := permission.NewService(permRepo, permRepo, permCache, auditLogger, logger)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	projectService := project.NewService(project.ServiceConfig{
		Repo:        project.NewRepository(pool),
		Grants:      mutator,
		ActiveUsers: userService,
		Access:      resolver,
		Enqueuer:    jobClient,
		DefaultRole: policy.DefaultProjectRole(),
		Logger:      logger,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		PermissionHandler: permission.NewHandler(logger, resolver, mutator, permService),
		ProjectHandler:    project.NewHandler(logger, projectService),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
