package db

import (
	"github.com/redis/go-redis/v9"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/config"
)

// ConnectRedis returns nil when no address is configured; rooms then stay
// local to this instance.
func ConnectRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}
