package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/vidshare/internal/api/handler"
	"github.com/cuongbtq/vidshare/internal/api/router"
	"github.com/cuongbtq/vidshare/internal/auth"
	"github.com/cuongbtq/vidshare/internal/config"
	"github.com/cuongbtq/vidshare/internal/notifier"
	"github.com/cuongbtq/vidshare/internal/pipeline"
	"github.com/cuongbtq/vidshare/internal/store"
	"github.com/cuongbtq/vidshare/internal/worker"
	"github.com/cuongbtq/vidshare/shared/logger"
	"github.com/cuongbtq/vidshare/shared/mongodb"
	"github.com/cuongbtq/vidshare/shared/postgresql"
	"github.com/cuongbtq/vidshare/shared/rabbitmq"
	"github.com/cuongbtq/vidshare/shared/redis"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// closer releases one resource during shutdown
type closer func(ctx context.Context)

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("store", cfg.Database.Driver),
		slog.String("pipeline", cfg.Pipeline.Mode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// closers run in reverse order of acquisition
	var closers []closer
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i](closeCtx)
		}
	}()

	var checks []router.HealthCheck

	// Initialize video store
	videoStore, storeCloser, storeCheck, err := initStore(ctx, cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if storeCloser != nil {
		closers = append(closers, storeCloser)
	}
	if storeCheck != nil {
		checks = append(checks, *storeCheck)
	}

	// Initialize RabbitMQ client
	var queue worker.Queue
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		closers = append(closers, func(context.Context) { _ = rabbitClient.Close() })
		checks = append(checks, router.HealthCheck{
			Name: "rabbitmq",
			Check: func(context.Context) error {
				if !rabbitClient.IsConnected() {
					return rabbitmq.ErrNotConnected
				}
				return nil
			},
		})
		queue = rabbitClient

		appLogger.Info("RabbitMQ connection established")
	}

	// Initialize run guard
	var guard pipeline.RunGuard
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, &redis.Config{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, appLogger.Component("redis"))
		if err != nil {
			return fmt.Errorf("failed to initialize Redis: %w", err)
		}
		closers = append(closers, func(context.Context) { _ = redisClient.Close() })
		checks = append(checks, router.HealthCheck{Name: "redis", Check: redisClient.Ping})
		guard = pipeline.NewRedisGuard(redisClient.Universal(), cfg.Redis.LockTTL, appLogger.Component("guard"))

		appLogger.Info("Redis run guard enabled")
	}

	// Notifier hub and pipeline
	hub := notifier.NewHub(appLogger.Component("notifier"))

	videoPipeline := pipeline.New(&pipeline.Config{
		Logger:          appLogger.Component("pipeline"),
		Store:           videoStore,
		Publisher:       hub,
		Engine:          initEngine(&cfg.Pipeline),
		Guard:           guard,
		JobTimeout:      cfg.Pipeline.JobTimeout,
		FailSaveTimeout: cfg.Pipeline.FailSaveTimeout,
	})

	// Initialize worker
	videoWorker := worker.NewWorker(&worker.Config{
		Logger:          appLogger.Component("worker"),
		Runner:          videoPipeline,
		Queue:           queue,
		Store:           videoStore,
		Concurrency:     cfg.Worker.Concurrency,
		QueueSize:       cfg.Worker.QueueSize,
		EnqueueTimeout:  cfg.Worker.EnqueueTimeout,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
		ResumePending:   cfg.Pipeline.ResumePending,
	})
	closers = append(closers, func(context.Context) { hub.Close() })

	// runs outlive the signal; Stop gives them the shutdown timeout to finish
	if err := videoWorker.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	closers = append(closers, func(context.Context) { videoWorker.Stop() })

	// Initialize router
	tokens := auth.NewTokenService(auth.Config{
		Secret:         cfg.Auth.JWTSecret,
		Issuer:         cfg.Auth.Issuer,
		AccessTokenTTL: cfg.Auth.AccessTokenTTL,
	})

	wsHandler := notifier.NewHandler(hub, tokens, notifier.Config{
		SendBuffer:     cfg.Notifier.SendBuffer,
		WriteTimeout:   cfg.Notifier.WriteTimeout,
		PongWait:       cfg.Notifier.PongWait,
		PingInterval:   cfg.Notifier.PingInterval,
		AllowedOrigins: cfg.Notifier.AllowedOrigins,
	}, appLogger.Component("websocket"))

	r := initRouter(cfg, appLogger.Component("http"), videoStore, videoWorker, router.Options{
		Tokens:         tokens,
		Notifier:       wsHandler,
		AllowedOrigins: cfg.Notifier.AllowedOrigins,
		HealthChecks:   checks,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running", slog.String("address", addr))

	// Wait for interrupt signal or a server failure
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initStore opens the configured video store backend
func initStore(ctx context.Context, cfg *config.Config, appLogger *logger.Logger) (store.VideoStore, closer, *router.HealthCheck, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		dbClient, err := initPostgreSQL(ctx, &cfg.Database, appLogger.Component("postgres"))
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.Database.Migrate {
			if err := dbClient.Migrate(ctx); err != nil {
				_ = dbClient.Close()
				return nil, nil, nil, fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		appLogger.Info("Database connection established")
		return store.NewPostgres(dbClient),
			func(context.Context) { _ = dbClient.Close() },
			&router.HealthCheck{Name: "postgres", Check: dbClient.HealthCheck},
			nil

	case config.DriverMongoDB:
		mongoClient, err := mongodb.NewClient(ctx, &mongodb.Config{
			URI:            cfg.MongoDB.URI,
			Database:       cfg.MongoDB.Database,
			ConnectTimeout: cfg.MongoDB.ConnectTimeout,
		}, appLogger.Component("mongodb"))
		if err != nil {
			return nil, nil, nil, err
		}
		videos := store.NewMongo(mongoClient, cfg.MongoDB.Collection)
		if err := mongoClient.EnsureIndexes(ctx, cfg.MongoDB.Collection, videos.Indexes()); err != nil {
			_ = mongoClient.Close(ctx)
			return nil, nil, nil, fmt.Errorf("failed to create indexes: %w", err)
		}
		appLogger.Info("MongoDB connection established")
		return videos,
			func(ctx context.Context) { _ = mongoClient.Close(ctx) },
			&router.HealthCheck{Name: "mongodb", Check: mongoClient.HealthCheck},
			nil

	default:
		appLogger.Warn("Using in-memory video store; records are lost on restart")
		return store.NewMemory(), nil, nil, nil
	}
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(ctx, dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initEngine selects the media engine for the configured pipeline mode
func initEngine(cfg *config.PipelineConfig) pipeline.Engine {
	if cfg.Mode == config.PipelineModeSimulate {
		return pipeline.NewSimulator(cfg.TickInterval, 0)
	}

	return pipeline.NewFFmpeg(pipeline.FFmpegConfig{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		OutputDir:   cfg.OutputDir,
	})
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, videos store.VideoStore, dispatcher handler.Dispatcher, opts router.Options) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:        logger,
		Store:         videos,
		Dispatcher:    dispatcher,
		UploadDir:     cfg.Uploads.Dir,
		MaxUploadSize: cfg.Uploads.MaxSize,
	}

	// Setup router
	return router.SetupRouter(handlerDeps, opts)
}
