// Package events publishes job transitions to Redis: the latest snapshot of a
// job under a key with a TTL, and every transition on a pub/sub channel.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pitchreel/internal/render"
)

const (
	keyPrefix = "pitchreel:render:"
	// Channel carries one JSON job snapshot per transition.
	Channel = "pitchreel:render-events"
)

// Key is the Redis key holding the latest snapshot of job id.
func Key(id string) string { return keyPrefix + id }

// Publisher is a render.Notifier backed by Redis.
type Publisher struct {
	client *redis.Client
	ttl    time.Duration
}

// NewClient accepts either a redis:// URL or a host:port address.
func NewClient(addr string) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

func NewPublisher(client *redis.Client, ttl time.Duration) *Publisher {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Publisher{client: client, ttl: ttl}
}

func (p *Publisher) Name() string { return "redis-events" }

// Notify stores the snapshot and publishes it in one pipeline.
func (p *Publisher) Notify(ctx context.Context, job render.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, Key(job.ID), payload, p.ttl)
		pipe.Publish(ctx, Channel, payload)
		return nil
	})
	return err
}

// Addr is the server address the publisher talks to.
func (p *Publisher) Addr() string { return p.client.Options().Addr }

func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
