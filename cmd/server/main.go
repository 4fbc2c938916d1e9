package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/peppy/osu-server-spectator/internal/api"
	"github.com/peppy/osu-server-spectator/internal/auth"
	"github.com/peppy/osu-server-spectator/internal/config"
	"github.com/peppy/osu-server-spectator/internal/db/mongo"
	"github.com/peppy/osu-server-spectator/internal/db/mongo/repositories"
	"github.com/peppy/osu-server-spectator/internal/db/redis"
	"github.com/peppy/osu-server-spectator/internal/db/redis/managers"
	"github.com/peppy/osu-server-spectator/internal/rpc"
	"github.com/peppy/osu-server-spectator/internal/rpc/methods"
	"github.com/peppy/osu-server-spectator/internal/services/metadata"
	"github.com/peppy/osu-server-spectator/internal/services/multiplayer"
	"github.com/peppy/osu-server-spectator/internal/services/scores"
	"github.com/peppy/osu-server-spectator/internal/services/spectator"
	"github.com/peppy/osu-server-spectator/internal/services/system"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

const serverVersion = "1.0.0"

// convert logger level to zapcore.Level
func hLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	case "panic":
		return zapcore.PanicLevel
	default:
		return zapcore.InfoLevel
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("Received shutdown signal")
		cancel()
	}()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	loggerOptions := utils.LoggerOptions{
		Development: cfg.Environment == "development",
		Level:       hLevel(cfg.Logging.Level),
		OutputPaths: cfg.Logging.OutputPaths,
	}
	logger := utils.NewLogger(loggerOptions)
	logger.Info("Starting spectator server", "environment", cfg.Environment, "version", serverVersion)

	// Initialize MongoDB client
	mongoClient, err := mongo.NewClient(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", err)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Error("Failed to disconnect from MongoDB", err)
		}
	}()

	if err := mongoClient.EnsureIndexes(ctx); err != nil {
		logger.Error("Failed to ensure MongoDB indexes", err)
	}

	// Initialize Redis client
	redisClient, err := redis.NewClient(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", err)
	}
	defer redisClient.Close()

	// Initialize repositories and Redis managers
	multiplayerRepo := repositories.NewMultiplayerRepository(mongoClient.Database(), logger)
	scoreRepo := repositories.NewScoreRepository(mongoClient.Database(), logger)
	presenceMgr := managers.NewPresenceManager(redisClient)

	// Initialize authentication provider
	jwtProvider := auth.NewJWTProvider(auth.JWTConfig{
		Secret: cfg.Auth.JWTSecret,
		Issuer: "osu-web",
	}, logger)

	// Initialize the RPC server
	rpcRouter := rpc.NewRouter(logger)
	rpcServer := rpc.NewServer(rpcRouter, jwtProvider, presenceMgr, logger)
	hub := methods.NewHubAdapter(rpcServer)

	// Initialize the score upload pipeline
	replayStorage, err := scores.NewFilesystemReplayStorage(cfg.Replays.StoragePath, logger)
	if err != nil {
		logger.Fatal("Failed to initialize replay storage", err)
	}
	uploader := scores.NewUploader(scores.UploaderConfig{
		Enabled:         cfg.Replays.SaveReplays,
		Concurrency:     cfg.Replays.UploaderConcurrency,
		TimeoutInterval: cfg.Replays.UploadTimeout,
	}, scoreRepo, replayStorage, logger)

	// Initialize domain services
	multiplayerService := multiplayer.NewService(multiplayerRepo, hub, presenceMgr, logger)
	spectatorTracker := spectator.NewTracker(hub, uploader, presenceMgr, logger)
	metadataBroadcaster := metadata.NewBroadcaster(multiplayerRepo, hub, cfg.Metadata.PollInterval, logger)

	// Register RPC methods and disconnect cleanup
	methods.RegisterAll(rpcServer, rpcRouter, multiplayerService, spectatorTracker, logger)

	// Initialize system services
	healthService := system.NewHealthService(mongoClient, redisClient, logger, system.HealthServiceConfig{
		Version:     serverVersion,
		Environment: cfg.Environment,
	})
	healthService.Start(ctx)

	metricsService := system.NewMetricsService(logger)
	metricsService.StartRuntimeCollection(ctx.Done())
	rpcServer.SetMetrics(metricsService)
	hub.SetMetrics(metricsService)
	uploader.SetMetrics(metricsService)

	// Sample service-level gauges alongside the runtime collector.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metricsService.SetActiveRooms(multiplayerService.Registry().Count())
				metricsService.SetActiveRoomUsers(multiplayerService.UserCount())
				metricsService.SetActivePlaySessions(spectatorTracker.SessionCount())
			}
		}
	}()

	if err := metadataBroadcaster.Start(ctx); err != nil {
		logger.Error("Failed to start metadata broadcaster", err)
	}

	// Initialize API router and HTTP server
	router := api.NewRouter(rpcServer, healthService, metricsService, cfg, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting HTTP server", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", err)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGracePeriod)
	defer shutdownCancel()

	// Refuse new connections and rooms, tell clients we are going away.
	rpcServer.BeginShutdown()
	multiplayerService.Shutdown(shutdownCtx)

	metadataBroadcaster.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", err)
	}

	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("RPC server shutdown error", err)
	}

	// Let in-flight replay uploads settle before the process exits.
	if err := uploader.Flush(shutdownCtx); err != nil {
		logger.Warn("Replay uploads did not drain before shutdown deadline")
	}
	uploader.Close()

	logger.Info("Server shutdown complete")
}
