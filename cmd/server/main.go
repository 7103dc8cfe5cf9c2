package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sync-service/internal/config"
	"sync-service/internal/database"
	"sync-service/internal/handler"
	"sync-service/internal/job"
	"sync-service/internal/metrics"
	"sync-service/internal/middleware"
	"sync-service/internal/repository"
	"sync-service/internal/router"
	"sync-service/internal/service"
	"sync-service/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Sync Service",
		zap.Int("port", cfg.Server.Port),
		zap.String("env", cfg.Server.Env),
		zap.String("base_path", cfg.Server.BasePath),
		zap.Duration("session_timeout", cfg.Sync.SessionTimeout),
		zap.Duration("sweep_interval", cfg.Sync.SweepInterval))

	// Database is optional: the hub runs in-memory and retries in the
	// background so a missing database never blocks startup.
	if _, err := database.NewDB(cfg); err != nil {
		logger.Warn("Failed to connect to database on startup, will retry in background",
			zap.Error(err))
		database.NewAsync(cfg, 5*time.Second)
	} else {
		logger.Info("Database connected")
	}

	redisClient := database.NewRedis(&cfg.Redis, logger)

	m := metrics.New()

	// Wire the hub: connection plumbing first, then the services that
	// address sessions through it.
	hub := websocket.NewHub(logger, m)

	// The repository resolves the connection per call, so write-through
	// starts working the moment a background reconnect lands.
	presenceRepo := repository.NewDeferredPresenceRepository(database.GetDB)

	presenceService := service.NewPresenceService(
		hub, presenceRepo, redisClient, logger, m,
		cfg.Sync.IdleThreshold, cfg.Sync.AwayThreshold,
	)
	roomService := service.NewRoomService(presenceService, hub, logger, m)
	cursorService := service.NewCursorService(roomService, hub, logger, m, cfg.Sync.CursorThrottle)
	documentService := service.NewDocumentService(roomService, hub, redisClient, logger, m)

	resolver := middleware.NewJWTIdentityResolver(cfg.Auth.SecretKey, logger)

	wsHandler := handler.NewWSHandler(
		hub, resolver,
		presenceService, roomService, cursorService, documentService,
		logger,
	)
	presenceHandler := handler.NewPresenceHandler(presenceService, logger)
	syncHandler := handler.NewSyncHandler(hub, presenceService, roomService, cursorService, documentService)

	// Liveness sweeper on a cron schedule
	sweeper := job.NewLivenessSweeper(
		presenceService, roomService, documentService, presenceRepo,
		cfg.Sync.SessionTimeout, cfg.Sync.DocumentRetention,
		logger, m,
	)
	c := cron.New()
	if _, err := c.AddJob(fmt.Sprintf("@every %s", cfg.Sync.SweepInterval), sweeper); err != nil {
		logger.Fatal("Failed to schedule liveness sweeper", zap.Error(err))
	}
	c.Start()

	corsOrigins := os.Getenv("CORS_ORIGINS")
	if corsOrigins == "" {
		corsOrigins = "*"
	}

	r := router.Setup(router.Config{
		Env:             cfg.Server.Env,
		BasePath:        cfg.Server.BasePath,
		CORSOrigins:     corsOrigins,
		Logger:          logger,
		Metrics:         m,
		DB:              database.GetDB,
		Redis:           redisClient,
		WSHandler:       wsHandler,
		PresenceHandler: presenceHandler,
		SyncHandler:     syncHandler,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		logger.Info("Sync Service started successfully",
			zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	cronCtx := c.Stop()
	<-cronCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited gracefully")
}

// initLogger initializes the zap logger with the specified level
func initLogger(level string) (*zap.Logger, error) {
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

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      zapLevel == zapcore.DebugLevel,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapConfig.Build()
}
