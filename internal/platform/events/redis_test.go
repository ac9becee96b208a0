package events

import (
	"context"
	"testing"

	"emooti/internal/domain/anomaly"
	"emooti/internal/platform/config"
)

func TestPublisherDisabledWithoutRedisAddr(t *testing.T) {
	p := New(config.Config{})
	if p.Enabled() {
		t.Fatal("publisher must be disabled without REDIS_ADDR")
	}

	// Publishing through a disabled publisher is a no-op, never an error.
	if err := p.PublishAlert(context.Background(), anomaly.Alert{ID: "a1"}); err != nil {
		t.Fatalf("PublishAlert: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublisherEnabledWithRedisAddr(t *testing.T) {
	p := New(config.Config{RedisAddr: "localhost:6379", AlertEventChannel: "alerts"})
	defer p.Close()

	if !p.Enabled() {
		t.Fatal("publisher must be enabled with REDIS_ADDR set")
	}
}
