package database

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/config"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/logger"
)

const redisPingTimeout = 5 * time.Second

// ErrRedisDisabled is returned by NewRedis when REDIS_HOST is "none".
var ErrRedisDisabled = errors.New("redis disabled")

var (
	dedupClient *redis.Client
	dedupOnce   sync.Once
)

func redisOptions(cfg *config.Config) *redis.Options {
	return &redis.Options{
		Addr:         net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  redisPingTimeout,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

// NewRedis builds a client for the dedup store and pings it. The client is
// returned even when the ping fails, since callers fall back to the
// submission log while redis is unreachable.
func NewRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisHost == "none" {
		return nil, ErrRedisDisabled
	}
	client := redis.NewClient(redisOptions(cfg))

	ctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return client, err
	}
	return client, nil
}

// GetRedis returns the process-wide dedup client, or nil when redis is
// disabled.
func GetRedis() *redis.Client {
	dedupOnce.Do(func() {
		cfg := config.Load()
		client, err := NewRedis(context.Background(), cfg)
		log := logger.Log.WithField("addr", net.JoinHostPort(cfg.RedisHost, cfg.RedisPort))
		switch {
		case errors.Is(err, ErrRedisDisabled):
			logger.Log.Info("Redis disabled, deduplicating from the submission log")
		case err != nil:
			log.WithError(err).Warn("Redis unreachable, deduplication falls back to the submission log")
		default:
			log.Info("Connected to Redis")
		}
		dedupClient = client
	})
	return dedupClient
}

func CloseRedis() error {
	if dedupClient == nil {
		return nil
	}
	return dedupClient.Close()
}
