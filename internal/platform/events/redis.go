package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"emooti/internal/domain/anomaly"
	"emooti/internal/platform/config"
)

// Publisher pushes alert events onto a Redis channel for external consumers
// (SIEM forwarders, on-call hooks). When REDIS_ADDR is unset publishing is
// a no-op so the detection path never depends on Redis being up.
type Publisher struct {
	client  *redis.Client
	channel string
}

func New(cfg config.Config) *Publisher {
	if cfg.RedisAddr == "" {
		return &Publisher{}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	return &Publisher{client: client, channel: cfg.AlertEventChannel}
}

func (p *Publisher) Enabled() bool {
	return p.client != nil
}

func (p *Publisher) PublishAlert(ctx context.Context, alert anomaly.Alert) error {
	if p.client == nil {
		return nil
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish alert event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
