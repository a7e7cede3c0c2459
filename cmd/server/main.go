package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vouse/vouse-server/internal/api"
	"github.com/vouse/vouse-server/internal/auth"
	"github.com/vouse/vouse-server/internal/config"
	"github.com/vouse/vouse-server/internal/crypto"
	"github.com/vouse/vouse-server/internal/database"
	"github.com/vouse/vouse-server/internal/engagement"
	"github.com/vouse/vouse-server/internal/logging"
	"github.com/vouse/vouse-server/internal/metrics"
	"github.com/vouse/vouse-server/internal/notify"
	"github.com/vouse/vouse-server/internal/publisher"
	"github.com/vouse/vouse-server/internal/queue"
	"github.com/vouse/vouse-server/internal/server"
	"github.com/vouse/vouse-server/internal/storage"
	"github.com/vouse/vouse-server/internal/twitter"
	"github.com/vouse/vouse-server/internal/users"
	"log/slog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	logger.Info("starting vouse server")

	ctx := context.Background()

	dbConfig := database.DefaultConfig()
	dbConfig.URL = cfg.Database.URL

	logger.Info("connecting to database")
	db, err := database.Connect(ctx, dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database connected")

	if err := database.RunMigrations(db, "./migrations", logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	logger.Info("connecting to redis", "addr", cfg.Redis.Addr)
	broker, err := queue.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer broker.Close()
	logger.Info("redis connected")

	vault, err := crypto.NewVault(cfg.Crypto.EncryptionKey, logger)
	if err != nil {
		logger.Error("failed to init token vault", "error", err)
		os.Exit(1)
	}

	collector, err := metrics.NewCollector()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}

	userRepo := database.NewUserRepository(db)
	postRepo := database.NewPostRepository(db)
	engagementRepo := database.NewEngagementRepository(db)
	deviceRepo := database.NewDeviceTokenRepository(db)

	twitterClient := twitter.NewClient(cfg.Twitter, logger)
	imageFetcher := storage.NewImageFetcher(logger)
	gate := auth.NewGate(cfg.Identity.JWTSecret, logger)

	userSvc := users.NewService(userRepo, deviceRepo, vault, twitterClient, logger)
	dispatcher := notify.NewDispatcher(cfg.Push, deviceRepo, logger)
	if !dispatcher.Enabled() {
		logger.Warn("push provider not configured, notifications disabled")
	}

	policy := publisher.PolicyFromConfig(cfg.Publisher)
	postSvc := publisher.NewService(postRepo, broker, policy, logger)
	publishWorker := publisher.NewWorker(
		postRepo,
		userSvc,
		twitterClient,
		imageFetcher,
		engagementRepo,
		broker,
		collector,
		policy,
		logger,
	)
	engagementSvc := engagement.NewCollector(
		engagementRepo,
		postRepo,
		userSvc,
		twitterClient,
		broker,
		collector,
		logger,
	)

	queueWorker := queue.NewWorker(broker, cfg.Publisher.Workers, cfg.Publisher.PollInterval, logger)
	queueWorker.RegisterHandler(queue.QueuePostPublish, publishWorker.HandlePublishJob)
	queueWorker.RegisterHandler(queue.QueueMetricsCollector, engagementSvc.HandleCollectJob)
	queueWorker.RegisterHandler(queue.QueuePushNotify, publisher.NewPushHandler(postRepo, dispatcher))
	queueWorker.Start(ctx)

	reconciler := publisher.NewReconciler(postRepo, broker, policy, logger)
	reconciler.Start(ctx)

	health := []api.HealthChecker{
		api.HealthCheckerFunc(func(ctx context.Context) error {
			return database.HealthCheck(ctx, db)
		}),
		api.HealthCheckerFunc(broker.Health),
	}

	handlers := api.NewHandlers(userSvc, postSvc, engagementSvc, gate, health, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.Handle("/", handlers.Router())

	srv := server.New(cfg.Server, logger, collector.InstrumentHandler(mux))

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("vouse server started", "port", cfg.Server.Port)

	waitForSignal(logger)

	logger.Info("shutting down")
	reconciler.Stop()
	queueWorker.Stop()
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

func waitForSignal(logger *slog.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	sig := <-c
	logger.Info("received signal", "signal", sig.String())
	signal.Stop(c)
	close(c)
}
