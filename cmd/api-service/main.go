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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/minhhq/newsletter-be/internal/api/handler"
	"github.com/minhhq/newsletter-be/internal/api/router"
	"github.com/minhhq/newsletter-be/internal/config"
	"github.com/minhhq/newsletter-be/internal/delivery/batch"
	"github.com/minhhq/newsletter-be/internal/delivery/dispatch"
	"github.com/minhhq/newsletter-be/internal/delivery/orchestrator"
	"github.com/minhhq/newsletter-be/internal/delivery/queue"
	"github.com/minhhq/newsletter-be/internal/delivery/storage"
	"github.com/minhhq/newsletter-be/internal/delivery/sweeper"
	"github.com/minhhq/newsletter-be/internal/delivery/tracker"
	"github.com/minhhq/newsletter-be/internal/delivery/transport"
	"github.com/minhhq/newsletter-be/shared/logger"
	"github.com/minhhq/newsletter-be/shared/postgresql"
	"github.com/minhhq/newsletter-be/shared/rabbitmq"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	db := dbClient.GetDB()
	logStore := storage.NewLogStore(db, appLogger.Logger)
	newsletterStore := storage.NewNewsletterStore(db, appLogger.Logger)
	subscriberStore := storage.NewSubscriberStore(db, appLogger.Logger)

	smtpTransport := transport.NewSMTPTransport(&transport.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		User:     cfg.SMTP.User,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, appLogger.Logger)

	// One queue instance per process; every producer and consumer below
	// shares it.
	deliveryQueue := queue.NewQueue()

	dispatcher := dispatch.NewDispatcher(&dispatch.Config{
		Logger:       appLogger.Logger,
		Queue:        deliveryQueue,
		LogStore:     logStore,
		Transport:    smtpTransport,
		Workers:      cfg.Delivery.Workers,
		DrainBacklog: cfg.Delivery.DrainBacklog,
		BaseURL:      cfg.Delivery.BaseURL,
	})

	orch := orchestrator.NewOrchestrator(&orchestrator.Config{
		Logger:      appLogger.Logger,
		Newsletters: newsletterStore,
		Subscribers: subscriberStore,
		Logs:        logStore,
		Transport:   smtpTransport,
		Queue:       deliveryQueue,
		Dispatcher:  dispatcher,
		BaseURL:     cfg.Delivery.BaseURL,
	})

	openTracker := tracker.NewTracker(appLogger.Logger, logStore)

	sweep := sweeper.NewSweeper(appLogger.Logger, deliveryQueue, dispatcher, cfg.Delivery.SweepInterval)

	// The batch pipeline shares the queue with the dispatcher, so batch
	// jobs and async sends may drain concurrently.
	pipeline := batch.NewPipeline(&batch.Config{
		Logger:      appLogger.Logger,
		Queue:       deliveryQueue,
		Newsletters: newsletterStore,
		Subscribers: subscriberStore,
		Logs:        logStore,
		Transport:   smtpTransport,
		BaseURL:     cfg.Delivery.BaseURL,
	})

	batchConsumer := batch.NewConsumer(appLogger.Logger, rabbitClient, pipeline, cfg.RabbitMQ.Consumer.PrefetchCount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher.Start(ctx)
	go sweep.Run(ctx)

	if err := batchConsumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start batch consumer: %w", err)
	}

	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:       appLogger.Logger,
		Orchestrator: orch,
		Tracker:      openTracker,
		Logs:         logStore,
		Newsletters:  newsletterStore,
		Subscribers:  subscriberStore,
		JobPublisher: rabbitClient,
		DB:           dbClient,
		Broker:       rabbitClient,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
	}

	cancel()
	batchConsumer.Stop()
	dispatcher.Stop()

	if pending := deliveryQueue.Len(); pending > 0 {
		appLogger.Warn("Shutting down with undelivered tasks",
			slog.Int("pending", pending),
		)
	}

	if dbClient != nil {
		dbClient.Close()
	}
	if rabbitClient != nil {
		rabbitClient.Close()
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
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
