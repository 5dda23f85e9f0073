package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-tms/meridian-tms/internal/app"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
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

	policy := permission.NewPolicyTable(permission.DefaultCatalog())
	permCache := permission.NewCache(redisClient, cfg.PermissionCacheTTL)
	permRepo := permission.NewRepository(pool)
	userService := users.NewService(users.NewRepository(pool))

	mutator := permission.NewMutator(permission.MutatorConfig{
		Grants:      permRepo,
		Policy:      policy,
		Cache:       permCache,
		Audit:       shared.NewAuditLogger(pool),
		Logger:      logger,
		ChunkSize:   cfg.FanoutChunkSize,
		Concurrency: cfg.FanoutConcurrency,
	})

	projectService := project.NewService(project.ServiceConfig{
		Repo:        project.NewRepository(pool),
		Grants:      mutator,
		ActiveUsers: userService,
		DefaultRole: policy.DefaultProjectRole(),
		Logger:      logger,
	})

	fanoutJob := jobs.NewGrantFanoutJob(projectService, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskGrantFanout, Handler: fanoutJob.Handle},
		},
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
