package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/chcount/internal/application/jobs"
	"github.com/aescanero/chcount/internal/application/sessions"
	"github.com/aescanero/chcount/internal/application/workers"
	"github.com/aescanero/chcount/internal/config"
	"github.com/aescanero/chcount/internal/counter"
	"github.com/aescanero/chcount/pkg/adapters/events/memory"
	"github.com/aescanero/chcount/pkg/adapters/events/redis"
	"github.com/aescanero/chcount/pkg/adapters/metrics/prometheus"
	memorystorage "github.com/aescanero/chcount/pkg/adapters/storage/memory"
	"github.com/aescanero/chcount/pkg/adapters/storage/postgres"
	redisstorage "github.com/aescanero/chcount/pkg/adapters/storage/redis"
	"github.com/aescanero/chcount/pkg/adapters/tracing"
	"github.com/aescanero/chcount/pkg/api/grpc"
	"github.com/aescanero/chcount/pkg/api/http"
	"github.com/aescanero/chcount/pkg/api/websocket"
	"github.com/aescanero/chcount/pkg/ports"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

// backend bundles the event buses and result store
type backend struct {
	jobsBus    ports.EventBus
	resultsBus ports.EventBus
	results    ports.ResultStore
	close      func()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting chcount server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, "chcount-server", cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}

	be, err := newBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize backends", zap.Error(err))
	}

	metricsCollector := prometheus.NewCollector()

	var jobCounter ports.Counter = counter.New(cfg.Workers.CounterWorkers)
	if cfg.Jobs.Executable != "" {
		jobCounter = counter.NewExecCounter(cfg.Jobs.Executable)
		logger.Info("counting with external executable", zap.String("path", cfg.Jobs.Executable))
	}

	// Initialize application components
	registry := sessions.NewRegistry(metricsCollector, logger)

	workerPool := workers.NewPool(&workers.Config{
		Size:                cfg.Workers.PoolSize,
		EventBus:            be.jobsBus,
		Results:             be.results,
		Counter:             jobCounter,
		Metrics:             metricsCollector,
		Logger:              logger,
		JobTimeout:          cfg.Timeouts.Job,
		HealthCheckInterval: cfg.Workers.HealthCheckInterval,
		SpoolDir:            cfg.Jobs.SpoolDir,
	})

	// Start worker pool
	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	notifier := jobs.NewNotifier(be.resultsBus, registry, metricsCollector, logger)
	if err := notifier.Start(ctx); err != nil {
		logger.Fatal("failed to start result notifier", zap.Error(err))
	}

	jobService := jobs.NewService(&jobs.Config{
		Sessions:         registry,
		EventBus:         be.jobsBus,
		Results:          be.results,
		Metrics:          metricsCollector,
		Logger:           logger,
		SpoolDir:         cfg.Jobs.SpoolDir,
		DefaultCharacter: cfg.DefaultCharacterByte(),
		// workers on other instances cannot read this host's spool directory
		InlinePayload:    cfg.EventsBackend == config.BackendRedis,
	})

	var janitor *jobs.Janitor
	if pruner, ok := be.results.(ports.ResultPruner); ok && cfg.Jobs.ResultTTL > 0 {
		janitor = jobs.NewJanitor(pruner, cfg.Jobs.PruneInterval, logger)
		janitor.Start()
	}

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Host:           cfg.Host,
		Port:           cfg.HTTPPort,
		DocsDir:        cfg.DocsDir,
		BodyLimit:      cfg.BodyLimit,
		ReadTimeout:    cfg.Timeouts.Read,
		Jobs:           jobService,
		Health:         workerPool.Health(),
		Sessions:       registry,
		MetricsHandler: metricsCollector.Handler(),
		Logger:         logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(registry, websocket.DefaultConfig(), logger)
	httpServer.SetupWebSocket(wsHandler)

	var grpcServer *grpc.Server
	if cfg.GRPCPort > 0 {
		grpcServer, err = grpc.NewServer(&grpc.Config{
			Host:     cfg.Host,
			Port:     cfg.GRPCPort,
			Health:   workerPool.Health(),
			Interval: cfg.Workers.HealthCheckInterval,
			Logger:   logger,
		})
		if err != nil {
			logger.Fatal("failed to create gRPC server", zap.Error(err))
		}
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	if grpcServer != nil {
		go func() {
			if err := grpcServer.Start(); err != nil {
				logger.Fatal("gRPC server failed", zap.Error(err))
			}
		}()
	}

	grpcAddr := "disabled"
	if grpcServer != nil {
		grpcAddr = cfg.GetGRPCAddr()
	}

	logger.Info("chcount server started",
		zap.String("instance_id", cfg.InstanceID),
		zap.String("http_addr", cfg.GetHTTPAddr()),
		zap.String("grpc_addr", grpcAddr),
		zap.String("events_backend", cfg.EventsBackend),
		zap.String("results_backend", cfg.ResultsBackend),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if grpcServer != nil {
		if err := grpcServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("gRPC server shutdown error", zap.Error(err))
		}
	}

	notifier.Stop()

	if janitor != nil {
		janitor.Stop()
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	cancel()
	be.close()

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("chcount server shut down complete")
}

// newBackend wires the configured events and results backends
func newBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	be := &backend{}
	var closers []func()
	be.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		// Initialize Redis client
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		// Test Redis connection
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

		closers = append(closers, func() {
			if err := redisClient.Close(); err != nil {
				logger.Error("Redis close error", zap.Error(err))
			}
		})
	}

	switch cfg.EventsBackend {
	case config.BackendRedis:
		consumer := "chcount-" + cfg.InstanceID

		// Jobs are shared across instances, results fan out to every instance
		jobsBus, err := redis.NewStreamsEventBus(redisClient, "chcount-workers", consumer, logger)
		if err != nil {
			be.close()
			return nil, fmt.Errorf("failed to create jobs event bus: %w", err)
		}
		resultsBus, err := redis.NewStreamsEventBus(redisClient, "chcount-notify-"+consumer, consumer, logger)
		if err != nil {
			be.close()
			return nil, fmt.Errorf("failed to create results event bus: %w", err)
		}
		be.jobsBus, be.resultsBus = jobsBus, resultsBus
	default:
		bus := memory.NewInMemoryEventBus()
		be.jobsBus, be.resultsBus = bus, bus
		closers = append(closers, func() {
			if err := bus.Close(); err != nil {
				logger.Error("event bus close error", zap.Error(err))
			}
		})
	}

	switch cfg.ResultsBackend {
	case config.BackendRedis:
		be.results = redisstorage.NewResultStore(redisClient, cfg.Jobs.ResultTTL, logger)
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresURL, logger)
		if err != nil {
			be.close()
			return nil, err
		}
		closers = append(closers, pool.Close)

		store, err := postgres.NewResultStore(ctx, pool, cfg.Jobs.ResultTTL, logger)
		if err != nil {
			be.close()
			return nil, err
		}
		be.results = store
	default:
		be.results = memorystorage.NewInMemoryResultStore(cfg.Jobs.ResultTTL)
	}

	return be, nil
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
