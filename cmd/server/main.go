package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticket-service/config"
	"ticket-service/internal/api"
	"ticket-service/internal/broker"
	"ticket-service/internal/notify"
	"ticket-service/internal/redisclient"
	"ticket-service/internal/service"
	"ticket-service/internal/store"
	"ticket-service/internal/util"
	"ticket-service/internal/wallet"
	"ticket-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting ticket service")

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty, every bearer token will be rejected")
	}

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	checks := make(map[string]func(context.Context) error)

	repo, err := openStore(cfg, checks)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer repo.Close()

	// interfaces stay nil, not typed-nil, when Redis is off
	var (
		cache   service.AvailabilityCache
		limiter api.RateLimiter
	)
	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.CacheTTL)
		if err != nil {
			logger.Warn("Redis unavailable, running without availability cache and rate limiting", zap.Error(err))
		} else {
			defer redisClient.Close()
			cache, limiter = redisClient, redisClient
			checks["redis"] = redisClient.Ping
			logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
		}
	}

	var eventPublisher *broker.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicTicketEvents)
		defer producer.Close()
		eventPublisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		eventPublisher = broker.NewEventPublisher(broker.LogWriter{})
		logger.Info("No Kafka brokers configured, domain events will be logged")
	}

	var notifier service.Notifier = notify.LogNotifier{}
	if cfg.RabbitMQ.URL != "" {
		queue, err := notify.DialQueue(cfg.RabbitMQ.URL, cfg.RabbitMQ.NotificationQueue)
		if err != nil {
			logger.Warn("RabbitMQ unavailable, ticket notifications will be logged", zap.Error(err))
		} else {
			defer queue.Close()
			notifier = queue
			logger.Info("RabbitMQ notifier ready", zap.String("queue", cfg.RabbitMQ.NotificationQueue))
		}
	}

	walletClient := wallet.NewClient(cfg.Wallet.URL, cfg.Wallet.Key, cfg.Wallet.Timeout)

	ledger := service.NewInventoryLedger(repo, cache)
	payments := service.NewPaymentLog()
	issuance := service.NewIssuanceService(repo, ledger, payments, walletClient, eventPublisher, notifier, cfg.Business.MaxGroupSize)
	confirmation := service.NewConfirmationService(repo, payments, issuance, eventPublisher)
	checkin := service.NewCheckInService(repo, eventPublisher)
	tickets := service.NewTicketService(repo)

	ctx := context.Background()
	if err := ledger.Sync(ctx); err != nil {
		logger.Warn("Failed to sync availability to Redis", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var walletWorker *worker.WalletPaymentWorker
	if len(cfg.Kafka.Brokers) > 0 {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicWalletPayment, cfg.Kafka.ConsumerGroup)
		walletWorker = worker.NewWalletPaymentWorker(consumer, confirmation)
		go func() {
			if err := walletWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				logger.Error("Wallet payment worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Auth.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET is empty, every payment webhook will be rejected")
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Issuance:     issuance,
		Confirmation: confirmation,
		CheckIn:      checkin,
		Tickets:      tickets,
		Ledger:       ledger,
	}, api.Options{
		JWTSecret:         cfg.Auth.JWTSecret,
		WebhookSecret:     cfg.Auth.WebhookSecret,
		SignatureHeader:   cfg.Auth.SignatureHeader,
		PurchaseRateLimit: cfg.Business.PurchaseRateLimit,
		Limiter:           limiter,
		Checks:            checks,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if walletWorker != nil {
		if err := walletWorker.Stop(); err != nil {
			logger.Error("Failed to stop wallet payment worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

// openStore picks the repository backend and registers its readiness probe
func openStore(cfg *config.Config, checks map[string]func(context.Context) error) (store.Repository, error) {
	logger := util.GetLogger()

	switch cfg.Database.Driver {
	case config.DriverMemory:
		logger.Warn("Using in-memory store, data is lost on restart")
		return store.NewMemStore(), nil

	case config.DriverPostgres:
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := db.Migrate(ctx); err != nil {
				db.Close()
				return nil, err
			}
		}
		checks["postgres"] = db.Ping
		logger.Info("Database connected")
		return db, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Database.Driver)
	}
}
