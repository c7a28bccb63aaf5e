package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"visualbatch/internal/infra"
)

// RedisBus publishes events to a Redis channel so that every API instance,
// not just the one hosting the worker, can deliver them to its clients.
type RedisBus struct {
	logger  infra.Logger
	rdb     *redis.Client
	channel string
}

// NewRedisBus connects and pings Redis.
func NewRedisBus(ctx context.Context, addr, channel string, logger infra.Logger) (*RedisBus, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("realtime: redis address is required")
	}
	if strings.TrimSpace(channel) == "" {
		channel = "generation-events"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBus{logger: infra.Component(logger, "redis_bus"), rdb: rdb, channel: channel}, nil
}

// Emit publishes ev. Failures are logged; progress delivery is best effort.
func (b *RedisBus) Emit(ctx context.Context, ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn().Err(err).Msg("encode redis event")
		return
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		b.logger.Warn().Err(err).Str("generation_id", ev.GenerationID).Str("event", string(ev.Type)).Msg("redis publish failed")
	}
}

// StartForwarder subscribes to the channel and hands every message to local
// until ctx is cancelled.
func (b *RedisBus) StartForwarder(ctx context.Context, local Emitter) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				ev, err := decodeBusMessage(m.Payload)
				if err != nil {
					b.logger.Warn().Err(err).Msg("bad redis event payload")
					continue
				}
				local.Emit(ctx, ev)
			}
		}
	}()
	return nil
}

func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

func decodeBusMessage(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, err
	}
	if ev.GenerationID == "" || ev.Type == "" {
		return Event{}, fmt.Errorf("event missing generation_id or type")
	}
	return ev, nil
}

var _ Emitter = (*RedisBus)(nil)
