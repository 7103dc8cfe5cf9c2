// internal/database/redis.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sync-service/internal/config"
)

// NewRedis connects to Redis. A nil return is valid: the hub then runs
// without the cross-instance relay.
func NewRedis(cfg *config.RedisConfig, logger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Failed to connect to Redis, running without pub/sub relay",
			zap.String("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
			zap.Error(err))
		return nil
	}

	logger.Info("Redis connected", zap.String("host", cfg.Host), zap.Int("port", cfg.Port))
	return client
}
