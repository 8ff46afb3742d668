package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/banshee-data/nightwatchman/internal/pipeline"
)

const (
	DefaultStreamKey = "nightwatchman:events"
	DefaultStatusKey = "nightwatchman:status"
	// DefaultStreamMaxLen caps the event stream.
	DefaultStreamMaxLen = 1000
)

// RedisConfig configures NewRedisSink.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	StreamKey string
	StatusKey string
	MaxLen    int64
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.StreamKey == "" {
		c.StreamKey = DefaultStreamKey
	}
	if c.StatusKey == "" {
		c.StatusKey = DefaultStatusKey
	}
	if c.MaxLen <= 0 {
		c.MaxLen = DefaultStreamMaxLen
	}
	return c
}

// RedisSink mirrors events into a capped stream and keeps the latest
// snapshot under a status key.
type RedisSink struct {
	client *redis.Client
	cfg    RedisConfig
}

// DialRedis connects to cfg.Addr and verifies the connection.
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}
	return NewRedisSink(client, cfg), nil
}

// NewRedisSink wraps an existing client.
func NewRedisSink(client *redis.Client, cfg RedisConfig) *RedisSink {
	return &RedisSink{client: client, cfg: cfg.withDefaults()}
}

func (s *RedisSink) Name() string { return "redis" }

// Publish appends the event to the stream and replaces the status key in a
// single pipeline.
func (s *RedisSink) Publish(ctx context.Context, ev pipeline.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	status, err := json.Marshal(ev.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	values := map[string]interface{}{
		"id":   ev.ID.String(),
		"kind": string(ev.Kind),
		"gate": string(ev.Gate),
		"data": string(payload),
	}
	if ev.Posture != nil {
		values["from"] = string(ev.Posture.From)
		values["to"] = string(ev.Posture.To)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAdd(ctx, &redis.XAddArgs{
			Stream: s.cfg.StreamKey,
			MaxLen: s.cfg.MaxLen,
			Values: values,
		})
		p.Set(ctx, s.cfg.StatusKey, status, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", ev.Kind, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisSink) Close() error { return s.client.Close() }
