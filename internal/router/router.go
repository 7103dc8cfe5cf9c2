package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"sync-service/internal/handler"
	"sync-service/internal/metrics"
	"sync-service/internal/middleware"
)

// Config carries the wired dependencies into route setup.
type Config struct {
	Env         string
	BasePath    string
	CORSOrigins string

	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// DB resolves the current connection; it may return nil until a
	// background reconnect succeeds.
	DB    func() *gorm.DB
	Redis *redis.Client

	WSHandler       *handler.WSHandler
	PresenceHandler *handler.PresenceHandler
	SyncHandler     *handler.SyncHandler
}

func Setup(cfg Config) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.Metrics(cfg.Metrics))

	healthHandler := handler.NewHealthHandler(cfg.DB, cfg.Redis)

	// Health endpoints (no auth)
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes with base path
	api := r.Group(cfg.BasePath)
	{
		api.GET("/health", healthHandler.Health)
		api.GET("/ready", healthHandler.Ready)

		api.GET("/ws", cfg.WSHandler.HandleWebSocket)

		api.GET("/status", cfg.SyncHandler.GetStatus)
		api.GET("/documents/:documentId/state", cfg.SyncHandler.GetDocumentState)

		api.GET("/presence/online", cfg.PresenceHandler.GetOnlineSessions)
		api.GET("/presence/status/:userId", cfg.PresenceHandler.GetUserStatus)
	}

	return r
}
