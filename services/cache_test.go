package services

import (
	"context"
	"testing"
	"time"

	"trainflow/config"
)

func TestDisabledCacheIsNoOp(t *testing.T) {
	svc, err := NewCacheService(context.Background(), config.RedisConfig{}, nil)
	if err != nil {
		t.Fatalf("NewCacheService failed: %v", err)
	}
	if svc.Available() {
		t.Fatal("cache without URL should be unavailable")
	}

	ctx := context.Background()
	if err := svc.Set(ctx, "k", map[string]int{"a": 1}, time.Minute); err != nil {
		t.Errorf("Set: %v", err)
	}
	var dest map[string]int
	found, err := svc.Get(ctx, "k", &dest)
	if err != nil || found {
		t.Errorf("Get = (%v, %v), want a miss", found, err)
	}
	if err := svc.Publish(ctx, "ch", "msg"); err != nil {
		t.Errorf("Publish: %v", err)
	}
	if svc.Subscribe(ctx, "ch") != nil {
		t.Error("Subscribe should return nil without Redis")
	}
	if err := svc.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestInvalidRedisURL(t *testing.T) {
	svc, err := NewCacheService(context.Background(), config.RedisConfig{URL: "http://not-redis"}, nil)
	if err == nil {
		t.Fatal("expected error for non-redis URL")
	}
	if svc == nil || svc.Available() {
		t.Error("failed service should be returned disabled")
	}
}

func TestUnreachableRedis(t *testing.T) {
	attempts, delay := pingAttempts, pingDelay
	pingAttempts, pingDelay = 2, 10*time.Millisecond
	defer func() { pingAttempts, pingDelay = attempts, delay }()

	svc, err := NewCacheService(context.Background(), config.RedisConfig{URL: "redis://127.0.0.1:1/0"}, nil)
	if err == nil {
		t.Fatal("expected ping failure")
	}
	if svc.Available() {
		t.Error("unreachable Redis should leave the service disabled")
	}
}
