package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexora-ai/core/internal/agent"
	"github.com/nexora-ai/core/internal/execution"
	"github.com/nexora-ai/core/internal/httpapi"
	"github.com/nexora-ai/core/internal/jobqueue"
	"github.com/nexora-ai/core/internal/llm"
	"github.com/nexora-ai/core/internal/llm/anthropic"
	"github.com/nexora-ai/core/internal/llm/openai"
	"github.com/nexora-ai/core/internal/resources"
	"github.com/nexora-ai/core/internal/sandbox"
	"github.com/nexora-ai/core/internal/sandbox/driver"
	"github.com/nexora-ai/core/internal/stream"
	"github.com/nexora-ai/core/internal/toolsynth"
	"github.com/nexora-ai/core/internal/worker"
	"github.com/nexora-ai/core/pkg/coretypes"
)

// runServe implements the serve command logic: build every execution-core
// collaborator from cfg, start the queue workers and reapers, and serve
// the HTTP boundary until a shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	slog.Info("starting nexora execution core",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)

	cfg, err := Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := buildLogger(cfg.Logging)

	registry, err := buildLLMRegistry(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to configure LLM providers: %w", err)
	}

	store, err := resources.NewCockroachStoreFromDSN(cfg.Database.URL, resourceStoreConfig(cfg.Database), registry)
	if err != nil {
		return fmt.Errorf("failed to connect resource store: %w", err)
	}

	executionStore, err := execution.NewCockroachStoreFromDSN(cfg.Database.URL, executionStoreConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("failed to connect execution store: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
	}

	queue := jobqueue.New(rdb, jobqueue.DefaultConfig(), logger)
	relay := stream.New(queue, 64, logger)

	sandboxPool, workerPool, err := buildPools(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to configure execution pools: %w", err)
	}
	if err := sandboxPool.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to warm sandbox pool: %w", err)
	}
	if err := workerPool.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to warm shared worker pool: %w", err)
	}

	executor := execution.New(sandboxPool, workerPool, executionStore, logger)

	synth := toolsynth.New(store, nil)
	dispatch := &toolsynth.Dispatcher{
		State:           store,
		Queue:           queue,
		Logger:          logger,
		FunctionTimeout: cfg.Sandbox.FunctionTimeout,
	}
	approvals := agent.NewMemoryPendingApprovalStore()
	engine := agent.NewEngine(store, synth, dispatch, relay, approvals, logger)

	server := httpapi.NewServer(queue, relay, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go agent.RunWorker(ctx, engine, queue, logger)
	go execution.RunWorker(ctx, executor, store, queue, logger)
	go queue.RunReaper(ctx, coretypes.QueueFunctions)
	go queue.RunReaper(ctx, coretypes.QueueAgents)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("nexora HTTP boundary listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	if err := sandboxPool.Shutdown(shutdownCtx); err != nil {
		slog.Warn("sandbox pool shutdown failed", "error", err)
	}
	if err := store.Close(); err != nil {
		slog.Warn("resource store close failed", "error", err)
	}
	if err := executionStore.Close(); err != nil {
		slog.Warn("execution store close failed", "error", err)
	}

	slog.Info("nexora execution core stopped gracefully")
	return nil
}

func buildLogger(cfg LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// buildLLMRegistry registers every enabled provider and marks the
// configured default, following the message-override > agent-setting >
// registry-default resolution order Registry.Resolve implements.
func buildLLMRegistry(cfg LLMConfig) (*llm.Registry, error) {
	registry := llm.NewRegistry()

	if cfg.Anthropic.Enabled {
		registry.Register(anthropic.New(anthropic.Config{
			APIKey:       cfg.Anthropic.APIKey,
			BaseURL:      cfg.Anthropic.BaseURL,
			DefaultModel: cfg.Anthropic.DefaultModel,
			MaxAttempts:  cfg.Anthropic.MaxAttempts,
		}))
	}
	if cfg.OpenAI.Enabled {
		registry.Register(openai.New(openai.Config{
			APIKey:       cfg.OpenAI.APIKey,
			BaseURL:      cfg.OpenAI.BaseURL,
			DefaultModel: cfg.OpenAI.DefaultModel,
			MaxAttempts:  cfg.OpenAI.MaxAttempts,
		}))
	}
	if cfg.DefaultProvider != "" {
		registry.SetDefault(cfg.DefaultProvider)
	}
	return registry, nil
}

func resourceStoreConfig(cfg DatabaseConfig) *resources.CockroachConfig {
	c := resources.DefaultCockroachConfig()
	c.MaxOpenConns = cfg.MaxOpenConns
	c.MaxIdleConns = cfg.MaxIdleConns
	c.ConnMaxLifetime = cfg.ConnMaxLifetime
	c.ConnMaxIdleTime = cfg.ConnMaxIdleTime
	c.ConnectTimeout = cfg.ConnectTimeout
	return c
}

func executionStoreConfig(cfg DatabaseConfig) *execution.CockroachConfig {
	c := execution.DefaultCockroachConfig()
	c.MaxOpenConns = cfg.MaxOpenConns
	c.MaxIdleConns = cfg.MaxIdleConns
	c.ConnMaxLifetime = cfg.ConnMaxLifetime
	c.ConnMaxIdleTime = cfg.ConnMaxIdleTime
	c.ConnectTimeout = cfg.ConnectTimeout
	return c
}

// buildPools constructs the sandbox ContainerPool and SharedWorkerPool,
// both backed by the same driver selection — docker by default, or
// firecracker microVMs when configured.
func buildPools(cfg *Config, logger *slog.Logger) (*sandbox.Pool, *worker.Pool, error) {
	sandboxDriver, err := buildDriver(cfg.Sandbox.Driver, cfg.Sandbox.Image, cfg.Sandbox.HostRoot, driver.Limits{
		CPUMillicores: cfg.Sandbox.CPUMillicores,
		MemoryMB:      cfg.Sandbox.MemoryMB,
	})
	if err != nil {
		return nil, nil, err
	}
	workerDriver, err := buildDriver(cfg.Sandbox.Driver, cfg.Worker.Image, cfg.Worker.HostRoot, driver.Limits{
		CPUMillicores: cfg.Worker.CPUMillicores,
		MemoryMB:      cfg.Worker.MemoryMB,
	})
	if err != nil {
		return nil, nil, err
	}

	sandboxCfg := sandbox.DefaultConfig()
	sandboxCfg.MinSize = cfg.Sandbox.MinSize
	sandboxCfg.MaxSize = cfg.Sandbox.MaxSize
	sandboxCfg.MinIdle = cfg.Sandbox.MinIdle
	sandboxCfg.MaxExecutions = cfg.Sandbox.MaxExecutions
	sandboxCfg.AcquireTimeout = cfg.Sandbox.AcquireTimeout
	sandboxCfg.FunctionTimeout = cfg.Sandbox.FunctionTimeout

	workerCfg := worker.DefaultConfig()
	workerCfg.WorkerCount = cfg.Worker.WorkerCount
	workerCfg.FunctionTimeout = cfg.Worker.FunctionTimeout

	return sandbox.New(sandboxCfg, sandboxDriver, logger), worker.New(workerCfg, workerDriver, logger), nil
}

func buildDriver(kind, image, hostRoot string, limits driver.Limits) (driver.Driver, error) {
	switch kind {
	case "firecracker":
		return driver.NewFirecrackerDriver(image, hostRoot, limits), nil
	case "docker", "":
		return driver.NewDockerDriver(image, hostRoot, limits), nil
	default:
		return nil, fmt.Errorf("unknown sandbox driver %q", kind)
	}
}
