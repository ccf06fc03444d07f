// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the Redis Streams connection configuration.
type RedisConfig struct {
	Addr     string // host:port
	Password string
	DB       int
	// StreamPrefix is prepended to every topic to form the stream key.
	StreamPrefix string
	// Group is the consumer group used for inbound streams.
	Group    string
	Consumer string
	Block    time.Duration
	// MaxLen caps each stream approximately; 0 keeps everything.
	MaxLen int64
}

func (c *RedisConfig) setDefaults() {
	if c.StreamPrefix == "" {
		c.StreamPrefix = "classd:"
	}
	if c.Group == "" {
		c.Group = "classd"
	}
	if c.Consumer == "" {
		c.Consumer = "classd-1"
	}
	if c.Block <= 0 {
		c.Block = 2 * time.Second
	}
}

// RedisStreams is a Transport on Redis Streams. Inbound topics are read with
// a consumer group. A frame is acknowledged once it is handed to the
// subscriber; entries this consumer left pending (a crash between read and
// ack) are redelivered first on the next Subscribe.
type RedisStreams struct {
	client *redis.Client
	cfg    RedisConfig
	logger zerolog.Logger
}

// NewRedisStreams connects to Redis and verifies the connection.
func NewRedisStreams(cfg RedisConfig, logger zerolog.Logger) (*RedisStreams, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		// Blocking reads hold the connection for Block; the read timeout must exceed it.
		ReadTimeout:  cfg.Block + 3*time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis streams")
	return newRedisStreams(client, cfg, logger), nil
}

func newRedisStreams(client *redis.Client, cfg RedisConfig, logger zerolog.Logger) *RedisStreams {
	cfg.setDefaults()
	return &RedisStreams{client: client, cfg: cfg, logger: logger}
}

func (r *RedisStreams) stream(topic string) string {
	return r.cfg.StreamPrefix + topic
}

func (r *RedisStreams) Publish(ctx context.Context, topic string, f Frame) error {
	args := &redis.XAddArgs{
		Stream: r.stream(topic),
		Values: map[string]any{
			"source":       f.Source,
			"method":       f.Method,
			"operation_id": f.OperationID,
			"content_type": f.ContentType,
			"body":         f.Body,
		},
	}
	if r.cfg.MaxLen > 0 {
		args.MaxLen = r.cfg.MaxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}
	return nil
}

func (r *RedisStreams) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	stream := r.stream(topic)
	err := r.client.XGroupCreateMkStream(ctx, stream, r.cfg.Group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group on %s: %w", stream, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSub{
		ch:     make(chan Frame, subscriberSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.readLoop(subCtx, stream, sub)
	return sub, nil
}

func (r *RedisStreams) readLoop(ctx context.Context, stream string, sub *redisSub) {
	defer close(sub.done)
	defer close(sub.ch)

	logger := r.logger.With().Str("stream", stream).Logger()
	backoff := 100 * time.Millisecond
	// "0" replays this consumer's pending entries; ">" reads new ones.
	cursor := "0"
	for ctx.Err() == nil {
		args := &redis.XReadGroupArgs{
			Group:    r.cfg.Group,
			Consumer: r.cfg.Consumer,
			Streams:  []string{stream, cursor},
			Count:    32,
			Block:    r.cfg.Block,
		}
		if cursor != ">" {
			args.Block = -1
		}
		res, err := r.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				cursor = ">"
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Dur("backoff", backoff).Msg("stream read failed")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = 100 * time.Millisecond

		if cursor != ">" && pendingDrained(res) {
			cursor = ">"
			continue
		}
		for _, s := range res {
			for _, msg := range s.Messages {
				if msg.Values == nil {
					// Trimmed by MAXLEN while pending; nothing left to deliver.
					_ = r.client.XAck(ctx, stream, r.cfg.Group, msg.ID).Err()
					continue
				}
				select {
				case sub.ch <- frameFromValues(msg.Values):
				case <-ctx.Done():
					return
				}
				if err := r.client.XAck(ctx, stream, r.cfg.Group, msg.ID).Err(); err != nil && ctx.Err() == nil {
					logger.Warn().Err(err).Str("id", msg.ID).Msg("stream ack failed")
				}
			}
		}
	}
}

func pendingDrained(res []redis.XStream) bool {
	for _, s := range res {
		if len(s.Messages) > 0 {
			return false
		}
	}
	return true
}

func frameFromValues(v map[string]any) Frame {
	str := func(k string) string {
		if s, ok := v[k].(string); ok {
			return s
		}
		return ""
	}
	return Frame{
		Source:      str("source"),
		Method:      str("method"),
		OperationID: str("operation_id"),
		ContentType: str("content_type"),
		Body:        []byte(str("body")),
	}
}

func (r *RedisStreams) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStreams) Close() error {
	return r.client.Close()
}

type redisSub struct {
	ch     chan Frame
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *redisSub) C() <-chan Frame { return s.ch }

func (s *redisSub) Close() error {
	s.cancel()
	<-s.done
	return nil
}

var _ Transport = (*RedisStreams)(nil)
