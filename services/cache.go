package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"trainflow/config"
	"trainflow/internal/logger"
)

var (
	pingAttempts = 10
	pingDelay    = 2 * time.Second
)

// CacheService wraps the optional Redis connection. Every method is a no-op
// when Redis is not configured, so callers never branch on availability.
type CacheService struct {
	client *redis.Client
}

// NewCacheService connects to cfg.URL. An empty URL yields a disabled
// service and no error.
func NewCacheService(ctx context.Context, cfg config.RedisConfig, log *slog.Logger) (*CacheService, error) {
	log = logger.OrNop(log)
	if cfg.URL == "" {
		return &CacheService{}, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return &CacheService{}, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	// Retry covers the broker still starting next to us.
	var lastErr error
	for i := 0; i < pingAttempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		lastErr = client.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			return &CacheService{client: client}, nil
		}
		log.Warn("redis ping failed", "attempt", i+1, "of", pingAttempts, "error", lastErr)
		if i+1 < pingAttempts {
			select {
			case <-ctx.Done():
				_ = client.Close()
				return &CacheService{}, ctx.Err()
			case <-time.After(pingDelay):
			}
		}
	}
	_ = client.Close()
	return &CacheService{}, fmt.Errorf("redis ping failed after %d attempts: %w", pingAttempts, lastErr)
}

func (s *CacheService) Client() *redis.Client {
	return s.client
}

func (s *CacheService) Available() bool {
	return s.client != nil
}

// Get decodes the cached value for key into dest and reports whether it
// was present.
func (s *CacheService) Get(ctx context.Context, key string, dest any) (bool, error) {
	if s.client == nil {
		return false, nil
	}
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *CacheService) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if s.client == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CacheService) Delete(ctx context.Context, key string) error {
	if s.client == nil {
		return nil
	}
	return s.client.Del(ctx, key).Err()
}

func (s *CacheService) Publish(ctx context.Context, channel string, message any) error {
	if s.client == nil {
		return nil
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, channel, data).Err()
}

// Subscribe returns nil when Redis is not configured.
func (s *CacheService) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	if s.client == nil {
		return nil
	}
	return s.client.Subscribe(ctx, channel)
}

func (s *CacheService) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
