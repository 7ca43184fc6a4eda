package services

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/Asit-14/EchoSphere/config"
	"github.com/Asit-14/EchoSphere/utils"
)

// NewRedisClient connects to Redis when REDIS_URL is configured. A nil
// return means single-instance mode: no presence mirror and no
// cross-instance fan-out.
func NewRedisClient(cfg *config.Config, logger *utils.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		logger.Info("Redis not configured, running single-instance")
		return nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to parse Redis URL", "error", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", "error", err)
	}

	logger.Info("Connected to Redis")
	return client
}
