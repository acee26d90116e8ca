package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	authapp "hostelpay/internal/app/auth"
	"hostelpay/internal/app/payments"
	"hostelpay/internal/auth"
	"hostelpay/internal/config"
	"hostelpay/internal/feed"
	"hostelpay/internal/guard"
	auth_http "hostelpay/internal/handler/http/auth"
	middleware_http "hostelpay/internal/handler/http/middleware"
	payments_http "hostelpay/internal/handler/http/payments"
	kafka_handler "hostelpay/internal/handler/kafka"
	"hostelpay/internal/infrastructure/database"
	kafka_infra "hostelpay/internal/infrastructure/kafka"
	"hostelpay/internal/intake"
	"hostelpay/internal/notify"
	"hostelpay/internal/ocr"
	"hostelpay/internal/outbox"
	"hostelpay/internal/repository/drafts_repo"
	"hostelpay/internal/repository/ledger_repo"
	"hostelpay/internal/repository/outbox_repo"
	"hostelpay/internal/repository/users_repo"
	"hostelpay/migrations"
)

func ensureKafkaTopics(ctx context.Context, brokerURLs []string, topics []string, logger *zap.Logger) error {
	conn, err := kafka.DialContext(ctx, "tcp", brokerURLs[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka broker for admin operations: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get kafka controller: %w", err)
	}
	controllerConn, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	topicConfigs := make([]kafka.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}

	if err := controllerConn.CreateTopics(topicConfigs...); err != nil {
		if errors.Is(err, kafka.TopicAlreadyExists) {
			logger.Info("Kafka topics already exist", zap.Strings("topics", topics))
			return nil
		}
		return fmt.Errorf("failed to create Kafka topics: %w", err)
	}
	logger.Info("Kafka topics ensured", zap.Strings("topics", topics))
	return nil
}

func connectDB(cfg *config.Config, logger *zap.Logger) (*sql.DB, error) {
	dbConfig := database.DBConfig{
		Host:            cfg.DBConfig.Host,
		Port:            cfg.DBConfig.Port,
		User:            cfg.DBConfig.User,
		Password:        cfg.DBConfig.Password,
		DBName:          cfg.DBConfig.Name,
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}

	const maxRetries = 10
	retryDelay := 5 * time.Second

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		db, err := database.NewPostgresDB(dbConfig)
		if err == nil {
			return db, nil
		}
		lastErr = err
		logger.Warn("Failed to connect to database, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("delay", retryDelay),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	return nil, lastErr
}

func newSubmitGuard(cfg *config.Config, logger *zap.Logger) (guard.Guard, func()) {
	if cfg.RedisAddr == "" {
		logger.Info("Using in-process submit guard")
		return guard.NewMemoryGuard(cfg.SubmitGuardTTL), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable at startup, submit guard will fail closed until it recovers",
			zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	logger.Info("Using Redis submit guard", zap.String("addr", cfg.RedisAddr))
	return guard.NewRedisGuard(client, cfg.SubmitGuardTTL, logger), func() {
		if err := client.Close(); err != nil {
			logger.Error("Error closing Redis client", zap.Error(err))
		}
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"

	appLogger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()
	appLogger.Info("Hostel payment service starting")

	db, err := connectDB(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Could not connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			appLogger.Error("Error closing database connection", zap.Error(err))
		}
	}()

	if cfg.MigrationsEnabled {
		if err := migrations.Up(cfg.GetDBMigrationConnectionString()); err != nil {
			appLogger.Fatal("Failed to run database migrations", zap.Error(err))
		}
		appLogger.Info("Database migrations applied")
	}

	kafkaBrokers := cfg.GetKafkaBrokers()
	topicCtx, topicCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureKafkaTopics(topicCtx, kafkaBrokers, []string{cfg.KafkaDraftEventsTopic}, appLogger); err != nil {
		appLogger.Warn("Failed to ensure Kafka topics, outbox will retry delivery", zap.Error(err))
	}
	topicCancel()

	draftRepository := drafts_repo.NewDraftRepository()
	ledgerRepository := ledger_repo.NewLedgerRepository()
	outboxRepository := outbox_repo.NewOutboxRepository()
	userRepository := users_repo.NewUserRepository()

	var recognizer ocr.Recognizer
	if cfg.OCRURL != "" {
		recognizer = ocr.NewHTTPRecognizer(cfg.OCRURL, cfg.OCRTimeout, appLogger.With(zap.String("component", "OCRClient")))
	} else {
		appLogger.Warn("OCR_URL not set, screenshot extraction disabled")
	}
	extractor := ocr.NewExtractor(recognizer, cfg.OCRLanguage, cfg.OCRTimeout, appLogger.With(zap.String("component", "Extractor")))

	submitGuard, closeGuard := newSubmitGuard(cfg, appLogger.With(zap.String("component", "SubmitGuard")))
	defer closeGuard()

	hub := feed.NewHub(0, appLogger.With(zap.String("component", "DraftFeed")))
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)

	paymentService := payments.NewPaymentService(
		db,
		draftRepository,
		ledgerRepository,
		outboxRepository,
		extractor,
		intake.NewHolder(),
		submitGuard,
		notify.NewLogNotifier(appLogger.With(zap.String("component", "Notifier"))),
		appLogger.With(zap.String("component", "PaymentService")),
		payments.Options{
			DraftEventsTopic: cfg.KafkaDraftEventsTopic,
			ImageRetention:   cfg.ImageRetention,
		},
	)
	authService := authapp.NewAuthService(db, userRepository, tokens, appLogger.With(zap.String("component", "AuthService")))

	if cfg.AdminEmail != "" {
		seedCtx, seedCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := authService.EnsureAdmin(seedCtx, cfg.AdminEmail, cfg.AdminPasswordHash); err != nil {
			appLogger.Fatal("Failed to seed admin account", zap.Error(err))
		}
		seedCancel()
	}

	validate := validator.New()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware_http.RequestLogger(appLogger.With(zap.String("component", "HTTP"))))
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Use(middleware_http.Notices)

	auth_http.RegisterRoutes(router, authService, validate, appLogger.With(zap.String("component", "AuthHTTPHandler")))
	payments_http.RegisterRoutes(router, paymentService, payments_http.RouteConfig{
		Tokens:         tokens,
		Hub:            hub,
		Validate:       validate,
		MaxImageBytes:  cfg.MaxImageBytes,
		RequestTimeout: cfg.HTTPRequestTimeout,
	}, appLogger)

	// No WriteTimeout: the admin event stream is long-lived.
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	kafkaProducer := kafka_infra.NewProducer(kafka_infra.ProducerConfig{
		Brokers: kafkaBrokers,
	}, appLogger.With(zap.String("component", "KafkaProducer")))
	defer func() {
		if err := kafkaProducer.Close(); err != nil {
			appLogger.Error("Error closing Kafka producer", zap.Error(err))
		}
	}()

	outboxProcessor := outbox.NewProcessor(db, outboxRepository, kafkaProducer, outbox.Config{
		DefaultTopic: cfg.KafkaDraftEventsTopic,
		PollInterval: cfg.OutboxPollInterval,
		PollTimeout:  cfg.OutboxPollTimeout,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
	}, appLogger.With(zap.String("component", "OutboxProcessor")))

	// Every instance reads the whole topic so its own admin streams see all events.
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "local"
	}
	feedConsumer := kafka_infra.NewConsumer(kafka_infra.ConsumerConfig{
		Brokers:       kafkaBrokers,
		GroupID:       cfg.KafkaFeedGroupPrefix + hostname,
		Topic:         cfg.KafkaDraftEventsTopic,
		StartAtLatest: true,
	}, appLogger.With(zap.String("component", "DraftFeedConsumer")))
	feedHandler := kafka_handler.DraftEventsMessageHandler(hub, appLogger.With(zap.String("component", "DraftFeedHandler")))

	ctxMain, cancelMain := context.WithCancel(context.Background())
	defer cancelMain()

	go func() {
		appLogger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	outboxProcessor.Start(ctxMain)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := feedConsumer.Start(ctxMain, feedHandler); err != nil {
			appLogger.Error("Draft feed consumer stopped with error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	appLogger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	cancelMain()
	hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	}

	outboxProcessor.Stop()
	feedConsumer.Stop()
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		appLogger.Warn("Draft feed consumer did not stop in time")
	}

	appLogger.Info("Hostel payment service stopped")
}
