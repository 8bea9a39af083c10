package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/activity"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/cache"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/config"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/inference"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/jobs"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/middleware"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/queue"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/storage"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/streaming"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/tracing"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/webhook"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) && os.Getenv("CONFIG_PATH") == "" {
		configPath = ""
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, configPath, logger); err != nil {
		logger.Fatalf("Server error: %v", err)
	}
}

// newLogger builds the configured logger, falling back to JSON on stdout when the output cannot be opened
func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: cfg.Output,
	})
	if err == nil {
		return logger, nil
	}

	fallback, ferr := logging.NewDefaultLogger()
	if ferr != nil {
		return nil, errors.Join(err, ferr)
	}
	fallback.WithField("output", cfg.Output).WarnWithErr("Falling back to stdout logging", err)
	return fallback, nil
}

func run(cfg *config.Config, configPath string, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize tracing
	tracer, err := tracing.Init(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer tracer.Close()

	// Activity events
	backends := []activity.Backend{activity.NewLogBackend(logger)}
	if cfg.Events.AMQPEnabled {
		publisher, err := queue.New(cfg.Events)
		if err != nil {
			return fmt.Errorf("failed to connect to event broker: %w", err)
		}
		defer publisher.Close()
		backends = append(backends, publisher)
	}
	events := activity.NewDispatcher(cfg.Events.BufferSize, logger, backends...)
	defer events.Close()

	// Transcoder
	tc := transcoder.NewService(cfg.Transcoder, transcoder.ExecRunner{}, logger)
	if cfg.Transcoder.CheckOnStartup {
		if err := tc.CheckTools(ctx); err != nil {
			return err
		}
	}

	// Inference
	engine := inference.NewManager(inference.NewProcessLoader(cfg.Inference, logger), logger)
	if err := engine.Load(ctx, cfg.Inference.Defaults); err != nil {
		// sessions report inference errors until a reload succeeds
		logger.WarnWithErr("Initial model load failed", err)
	}
	defer engine.Close()

	// Job queue
	checks := map[string]HealthCheck{}
	webhooks := webhook.NewService(cfg.Webhook, logger)
	defer webhooks.Close()

	queueOpts := []scheduler.Option{
		scheduler.WithNotifier(webhooks),
		scheduler.WithActivitySink(events),
	}
	if cfg.Redis.Enabled {
		history, err := cache.NewCache(cfg.Redis, cfg.Queue.HistorySize)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer history.Close()
		queueOpts = append(queueOpts, scheduler.WithHistory(history))
		checks["redis"] = history.Ping
	}
	q := scheduler.NewQueue(cfg.Queue, logger, queueOpts...)

	var jobOpts []jobs.Option
	if cfg.Storage.Enabled {
		store, err := storage.New(ctx, cfg.Storage, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		jobOpts = append(jobOpts, jobs.WithUploader(store))
	}
	jobs.New(tc, engine, cfg.Transcoder.OutputDir, logger, jobOpts...).Register(q)
	q.Start()

	// Streaming
	stream := streaming.NewServer(cfg.Streaming, engine, cfg.Inference.Defaults, logger,
		streaming.WithActivitySink(events))

	if configPath != "" {
		err := config.Watch(configPath, func(next *config.Config) {
			stream.SetDefaults(next.Inference.Defaults)
		}, func(err error) {
			logger.WarnWithErr("Ignoring invalid config change", err)
		})
		if err != nil {
			logger.WarnWithErr("Config hot reload disabled", err)
		}
	}

	// Metrics server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, metrics.WithReadiness(func() error {
			if !engine.Loaded() {
				return inference.ErrModelNotLoaded
			}
			return nil
		}))
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				logger.ErrorWithErr("Metrics server failed", err)
			}
		}()
	}

	rl := middleware.NewRateLimiter(float64(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	go rl.Cleanup(ctx, 10*time.Minute)

	api := &API{
		queue:    q,
		sessions: stream.ActiveSessions,
		model:    engine.Loaded,
		checks:   checks,
		logger:   logger.WithComponent("api"),
	}
	router := setupRouter(api, stream.HandleWebSocket, rl, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WarnWithErr("HTTP server forced to shutdown", err)
	}
	if err := stream.Shutdown(shutdownCtx); err != nil {
		logger.WarnWithErr("Streaming sessions forced to close", err)
	}
	if err := q.Stop(shutdownCtx); err != nil {
		logger.WarnWithErr("Job queue forced to stop", err)
	}
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info("Server stopped")
	return nil
}

func setupRouter(api *API, ws gin.HandlerFunc, rl *middleware.RateLimiter, logger *logging.Logger) *gin.Engine {
	gin.DefaultWriter = io.Discard
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(logger))

	// Health check
	router.GET("/health", api.healthCheck)

	// WebSocket sessions
	router.GET("/ws", ws)

	// API routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(rl))
	{
		v1.POST("/jobs", api.submitJob)
		v1.GET("/jobs/:id", api.getJob)
		v1.DELETE("/jobs/:id", api.cancelJob)
	}

	return router
}
