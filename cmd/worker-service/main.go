package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inkpress/docflow-be/internal/artifact"
	"github.com/inkpress/docflow-be/internal/bulk"
	"github.com/inkpress/docflow-be/internal/config"
	"github.com/inkpress/docflow-be/internal/convert"
	"github.com/inkpress/docflow-be/internal/delivery"
	"github.com/inkpress/docflow-be/internal/mail"
	"github.com/inkpress/docflow-be/internal/notify"
	"github.com/inkpress/docflow-be/internal/render"
	"github.com/inkpress/docflow-be/internal/storage"
	"github.com/inkpress/docflow-be/internal/sweeper"
	"github.com/inkpress/docflow-be/internal/tabular"
	"github.com/inkpress/docflow-be/internal/worker"
	"github.com/inkpress/docflow-be/shared/logger"
	"github.com/inkpress/docflow-be/shared/postgresql"
	"github.com/inkpress/docflow-be/shared/rabbitmq"
	"github.com/inkpress/docflow-be/shared/redisclient"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorker(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	hostname, _ := os.Hostname()
	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("hostname", hostname),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client for wake-up hints
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	// Initialize artifact store
	artifactStore, err := artifact.NewStore(context.Background(), artifact.Config{
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		Bucket:          cfg.Storage.Bucket,
		Endpoint:        cfg.Storage.Endpoint,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	// Notifications are optional: without Redis the worker still processes
	// jobs, submitters just have to poll.
	var notifier worker.Notifier
	if cfg.Redis.Addr != "" {
		redisClient, err := redisclient.NewClient(&redisclient.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize Redis: %w", err)
		}
		defer redisClient.Close()
		notifier = notify.New(redisClient, appLogger.Logger)
	}

	// Wire the delivery pipeline
	db := dbClient.GetDB()
	deliveryStore := storage.NewDeliveryStore(db, appLogger.Logger)
	templateStore := storage.NewTemplateStore(db, appLogger.Logger)
	jobStore := storage.NewJobStore(db, appLogger.Logger)

	mailer := mail.New(mail.Config{
		Host:          cfg.SMTP.Host,
		Port:          cfg.SMTP.Port,
		User:          cfg.SMTP.User,
		Password:      cfg.SMTP.Password,
		From:          cfg.SMTP.From,
		RateLimit:     cfg.SMTP.RateLimit,
		RetryAttempts: cfg.SMTP.RetryAttempts,
		SendTimeout:   cfg.SMTP.SendTimeout,
	}, appLogger.Logger)

	deliveryService := delivery.NewService(
		deliveryStore,
		templateStore,
		artifactStore,
		render.New(appLogger.Logger),
		convert.New(convert.Config{
			URL:            cfg.Converter.URL,
			RequestTimeout: cfg.Converter.RequestTimeout,
			RetryAttempts:  cfg.Converter.RetryAttempts,
		}, appLogger.Logger),
		mailer,
		cfg.Signing.BaseURL,
		appLogger.Logger,
	)

	orchestrator := bulk.NewOrchestrator(
		deliveryService,
		deliveryStore,
		templateStore,
		artifactStore,
		tabular.DefaultMaxRows,
		appLogger.Logger,
	)

	// Subscribe to wake-up hints; the poll loop covers lost hints
	wake, err := rabbitClient.Consume("docflow-worker-" + hostname)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	w := worker.New(&worker.Config{
		Logger:       appLogger.Logger,
		Jobs:         jobStore,
		Runner:       orchestrator,
		Notifier:     notifier,
		Wake:         wake,
		WorkerID:     hostname,
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		JobTimeout:   cfg.Worker.JobTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scheduled-delivery sweep
	sweep := sweeper.New(deliveryStore, artifactStore, mailer, cfg.Sweeper.Interval, appLogger.Logger)
	go sweep.Start(ctx)

	// Metrics endpoint
	if cfg.Metrics.Port > 0 {
		go serveMetrics(cfg.Metrics.Port, appLogger.Logger)
	}

	// Blocks until ctx is canceled; in-flight jobs drain first
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("worker stopped with error: %w", err)
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// serveMetrics exposes Prometheus metrics on its own listener
func serveMetrics(port int, logger *slog.Logger) {
	addr := fmt.Sprintf(":%d", port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info("Metrics server listening", slog.String("address", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics server failed", slog.Any("error", err))
	}
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

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
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

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		ExchangeName:      cfg.ExchangeName,
		ExchangeType:      cfg.ExchangeType,
		QueueName:         cfg.QueueName,
		RoutingKey:        cfg.RoutingKey,
		RetryAttempts:     cfg.RetryAttempts,
		RetryInterval:     cfg.RetryInterval,
		Heartbeat:         cfg.Heartbeat,
		ConnectionTimeout: cfg.ConnectionTimeout,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
