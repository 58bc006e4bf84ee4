package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guess-leaderboard/internal/config"
	"github.com/guess-leaderboard/internal/domain"
	"github.com/guess-leaderboard/internal/handler"
	"github.com/guess-leaderboard/internal/kafka"
	"github.com/guess-leaderboard/internal/memory"
	"github.com/guess-leaderboard/internal/metrics"
	"github.com/guess-leaderboard/internal/postgres"
	"github.com/guess-leaderboard/internal/redis"
	"github.com/guess-leaderboard/internal/service"
	"github.com/guess-leaderboard/internal/websocket"
	"github.com/guess-leaderboard/internal/worker"
	"github.com/joho/godotenv"
)

// statsBackend is what the services need from the authoritative store
type statsBackend interface {
	service.StatsStore
	service.PlayerDirectory
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	envPath := flag.String("env", ".env", "Optional dotenv file providing ${VAR} values for the config")
	flag.Parse()

	// Variables already set in the environment take precedence over the file
	envErr := godotenv.Load(*envPath)

	// Load configuration
	cfg, loadErr := config.Load(*configPath)
	if loadErr != nil {
		cfg = config.DefaultConfig()
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		logger.Warn("failed to read env file", "path", *envPath, "error", envErr)
	}
	if loadErr != nil {
		logger.Warn("failed to load config file, using defaults", "error", loadErr)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var metricsManager *metrics.Manager
	if cfg.Metrics.Enabled {
		metricsManager = metrics.NewManager(
			metrics.WithNamespace(cfg.Metrics.Namespace),
			metrics.WithProcessMetrics(),
		)
	}

	// Initialize Redis
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	rankCache := redis.NewRankCache(redisClient, cfg.Leaderboard.Key, logger)
	profileCache := redis.NewProfileCache(redisClient, cfg.Leaderboard.ProfileTTL)

	// Initialize the authoritative store
	var (
		store       statsBackend
		storeHealth handler.ReadinessCheck
	)
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		logger.Warn("using in-memory stats store; data is lost on restart")
		store = memory.NewStore(cfg.Game.InitialTurns, cfg.Game.LockTimeout)

	default:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		postgresRepo, err := postgres.NewRepository(ctx, &cfg.Postgres, &cfg.Game, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer postgresRepo.Close()
		logger.Info("connected to PostgreSQL")

		// Run database migrations
		if err := postgresRepo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		store = postgresRepo
		storeHealth = func(ctx context.Context) error {
			return postgresRepo.Pool().Ping(ctx)
		}
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize services
	opts := []service.Option{
		service.WithNotifier(wsHub),
		service.WithMetrics(metricsManager),
	}
	gameService := service.NewGameService(store, store, rankCache, profileCache, &cfg.Game, logger, opts...)
	leaderboardService := service.NewLeaderboardService(store, rankCache, &cfg.Leaderboard, logger, opts...)
	playerService := service.NewPlayerService(store, store, rankCache, profileCache, logger, opts...)

	wsHub.SetSnapshot(func(ctx context.Context) ([]domain.LeaderboardEntry, int64, error) {
		entries, err := leaderboardService.GetLeaderboard(ctx, cfg.Leaderboard.DefaultLimit)
		if err != nil {
			return nil, 0, err
		}
		stats, err := leaderboardService.Stats(ctx)
		if err != nil {
			return nil, 0, err
		}
		return entries, stats.TotalPlayers, nil
	})

	// Initialize sync worker
	syncWorker := worker.NewSyncWorker(leaderboardService, &cfg.Sync, logger)

	// Build the leaderboard from the store on startup
	logger.Info("initializing leaderboard from the stats store")
	syncWorker.RunOnce(ctx)

	// Start sync worker
	if cfg.Sync.Enabled {
		if err := syncWorker.Start(ctx); err != nil {
			logger.Error("failed to start sync worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka consumer for account-creation notifications
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		var err error
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, gameService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(gameService, leaderboardService, playerService, wsHub, metricsManager, &cfg.Server, logger)
	httpHandler.AddReadinessCheck("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	if storeHealth != nil {
		httpHandler.AddReadinessCheck("postgres", storeHealth)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "storage", cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop WebSocket hub
	wsHub.Stop()

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Stop sync worker
	if err := syncWorker.Stop(); err != nil {
		logger.Error("failed to stop sync worker", "error", err)
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
