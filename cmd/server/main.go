package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"pharmacy-service/config"
	"pharmacy-service/internal/api"
	"pharmacy-service/internal/bot"
	"pharmacy-service/internal/broker"
	"pharmacy-service/internal/flows"
	"pharmacy-service/internal/policy"
	"pharmacy-service/internal/redisclient"
	"pharmacy-service/internal/service"
	"pharmacy-service/internal/session"
	"pharmacy-service/internal/spreadsheet"
	"pharmacy-service/internal/store"
	"pharmacy-service/internal/util"
	"pharmacy-service/internal/worker"
	"pharmacy-service/internal/workflow"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting pharmacy service")

	tp, err := util.InitTracer("pharmacy-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	if cfg.Business.RemovalPIN == "" {
		if cfg.Server.Env == "production" {
			logger.Fatal("REMOVAL_PIN must be set in production")
		}
		logger.Warn("REMOVAL_PIN not set, /remove and /removeall are disabled")
	}

	phonePattern, err := regexp.Compile(cfg.Business.PhonePattern)
	if err != nil {
		logger.Fatal("Invalid phone pattern", zap.String("pattern", cfg.Business.PhonePattern), zap.Error(err))
	}

	db, err := store.NewStore(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.RunMigrations(); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	logger.Info("Database ready", zap.String("driver", cfg.Database.Driver))

	checks := map[string]api.Pinger{"database": db}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	group, groupCtx := errgroup.WithContext(workerCtx)

	var sessions session.Store
	switch cfg.Session.Backend {
	case "redis":
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		checks["redis"] = redisClient
		sessions = session.NewRedisStore(redisClient, cfg.Session.TTL)
		logger.Info("Redis session store connected")
	default:
		memory := session.NewMemoryStore(cfg.Session.TTL)
		group.Go(func() error {
			memory.Run(groupCtx, cfg.Session.SweepInterval)
			return nil
		})
		sessions = memory
		logger.Info("In-memory session store", zap.Duration("ttl", cfg.Session.TTL))
	}

	var (
		producer broker.Publisher
		consumer worker.Consumer
	)
	if cfg.Kafka.Enabled {
		producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		consumer = broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
		logger.Info("Kafka event bus initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		bus := broker.NewLocalBus(256)
		producer, consumer = bus, bus
		logger.Info("Local event bus initialized")
	}
	defer producer.Close()

	eventPublisher := broker.NewEventPublisher(producer)

	resolver := service.NewDuplicateResolver(db, eventPublisher, service.MatchConfig{
		DuplicateThreshold:  cfg.Business.DuplicateThreshold,
		SuggestionThreshold: cfg.Business.SuggestionThreshold,
		SuggestionLimit:     cfg.Business.SuggestionLimit,
	})
	catalogService := service.NewCatalogService(db, resolver, eventPublisher, cfg.Business.LowStockThreshold)
	orderService := service.NewOrderService(db, eventPublisher, service.OrderConfig{
		DisplayTokenWidth: cfg.Business.DisplayTokenWidth,
		MaxOrderQuantity:  cfg.Business.MaxOrderQuantity,
		DeliveryMethod:    cfg.Business.DeliveryMethod,
	})
	userService := service.NewUserService(db)

	ctx := context.Background()
	if err := userService.Bootstrap(ctx, cfg.Access.AdminUserIDs, cfg.Access.StaffUserIDs); err != nil {
		logger.Fatal("Failed to bootstrap roles", zap.Error(err))
	}

	engine := workflow.NewEngine(sessions)
	flows.Register(engine, flows.Deps{
		Catalog:          catalogService,
		Orders:           orderService,
		Sessions:         sessions,
		ParseImport:      spreadsheet.Parse,
		RemovalPIN:       cfg.Business.RemovalPIN,
		PhonePattern:     phonePattern,
		MaxOrderQuantity: cfg.Business.MaxOrderQuantity,
		Currency:         cfg.Business.CurrencyCode,
	})

	var sink bot.Sink = bot.NewLogSink()
	if cfg.Access.OutboundWebhookURL != "" {
		sink = bot.NewHTTPSink(cfg.Access.OutboundWebhookURL, 10*time.Second)
	}

	dispatcher := bot.NewDispatcher(bot.Deps{
		Users:    userService,
		Catalog:  catalogService,
		Orders:   orderService,
		Sessions: sessions,
		Engine:   engine,
		Policy:   policy.Default(),
		Sink:     sink,
	}, bot.Config{
		Currency:         cfg.Business.CurrencyCode,
		MaxOrderQuantity: cfg.Business.MaxOrderQuantity,
	})

	hub := api.NewHub(cfg.Access.AllowedOrigins)
	defer hub.Close()

	notifier := worker.NewNotificationWorker(consumer, userService, sink, hub, cfg.Business.CurrencyCode)
	group.Go(func() error {
		if err := notifier.Start(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Notification worker error", zap.Error(err))
		}
		return nil
	})

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(dispatcher, catalogService, hub, api.Options{
		APIKey:         cfg.Access.APIKey,
		AllowedOrigins: cfg.Access.AllowedOrigins,
		Checks:         checks,
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

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := notifier.Stop(); err != nil {
		logger.Warn("Error stopping notification worker", zap.Error(err))
	}
	if err := group.Wait(); err != nil {
		logger.Warn("Background task error", zap.Error(err))
	}

	logger.Info("Server exited")
}
