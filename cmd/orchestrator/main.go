package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/hshdacs/Hall-of-Fame/internal/app/migrate"
	"github.com/hshdacs/Hall-of-Fame/internal/compose"
	"github.com/hshdacs/Hall-of-Fame/internal/deploy"
	"github.com/hshdacs/Hall-of-Fame/internal/docker"
	httpx "github.com/hshdacs/Hall-of-Fame/internal/http"
	"github.com/hshdacs/Hall-of-Fame/internal/lifecycle"
	"github.com/hshdacs/Hall-of-Fame/internal/ports"
	"github.com/hshdacs/Hall-of-Fame/internal/queue"
	"github.com/hshdacs/Hall-of-Fame/internal/quota"
	"github.com/hshdacs/Hall-of-Fame/internal/repository/postgres"
	"github.com/hshdacs/Hall-of-Fame/internal/workspace"
	"github.com/hshdacs/Hall-of-Fame/internal/ws"
	"github.com/hshdacs/Hall-of-Fame/pkg/config"
	"github.com/hshdacs/Hall-of-Fame/pkg/logger"
)

// composeCLI adapts the compose package to the lifecycle ComposeBuilder.
type composeCLI struct{}

func (composeCLI) Build(ctx context.Context, composePath, workDir string, onOutput compose.OutputCallback) error {
	return compose.Build(ctx, composePath, workDir, onOutput)
}

// waitFor retries a ping until the dependency answers or the budget runs out.
func waitFor(ctx context.Context, name string, log *slog.Logger, ping func(context.Context) error) error {
	backoff := retry.WithMaxDuration(30*time.Second, retry.NewFibonacci(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			log.Warn("dependency not ready", "dependency", name, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

func main() {
	cfg := config.LoadOrchestratorConfig()
	log := logger.New("orchestrator", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := waitFor(ctx, "postgres", log, runner.Ping); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := waitFor(ctx, "redis", log, func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}); err != nil {
		log.Error("redis ping failed", "error", err)
		os.Exit(1)
	}

	dockerClient, err := docker.New(cfg.DockerHost)
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer dockerClient.Close()
	if err := waitFor(ctx, "docker", log, dockerClient.Ping); err != nil {
		log.Error("docker ping failed", "error", err)
		os.Exit(1)
	}

	workspaces, err := workspace.New(cfg.WorkspaceRoot)
	if err != nil {
		log.Error("failed to prepare workspace root", "error", err)
		os.Exit(1)
	}

	allocator, err := ports.New(cfg.PortRangeStart, cfg.PortRangeEnd)
	if err != nil {
		log.Error("invalid port range", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()
	quotas := quota.New(repo, cfg.Quotas)

	buildQueue := queue.New(redisClient, queue.Options{
		Concurrency:    cfg.QueueConcurrency,
		MaxAttempts:    cfg.QueueMaxAttempts,
		RetryBackoff:   cfg.QueueRetryBackoff,
		StallInterval:  cfg.QueueStallInterval,
		StallTolerance: cfg.QueueStallTolerance,
	}, log)
	defer buildQueue.Close()

	deployer := deploy.New(dockerClient, deploy.NewCLIComposeRunner(), allocator, workspaces, cfg.FrontendPorts, log)

	controller := lifecycle.New(
		repo,
		buildQueue,
		quotas,
		workspaces,
		dockerClient,
		composeCLI{},
		deployer,
		hub,
		allocator,
		cfg.InternalPort,
		cfg.GitTimeout,
		log,
	)

	if err := buildQueue.Start(controller.HandleBuildJob); err != nil {
		log.Error("failed to start build queue", "error", err)
		os.Exit(1)
	}

	router := httpx.New(log, controller, hub, buildQueue, pool.Ping, dockerClient.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("orchestrator server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("orchestrator server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
