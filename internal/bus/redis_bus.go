// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/watchrelay/internal/log"
	"github.com/ManuGH/watchrelay/internal/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix namespaces relay channels on a shared Redis server.
const DefaultChannelPrefix = "watchrelay:"

// RedisOptions configures the Redis backed bus.
type RedisOptions struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// RedisBus fans frames out across relay instances through Redis Pub/Sub.
// Delivery is at-most-once; slow subscribers drop messages.
type RedisBus struct {
	rdb    *goredis.Client
	prefix string
}

// OpenRedisBus connects to Redis and verifies the connection.
func OpenRedisBus(opts RedisOptions) (*RedisBus, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis bus: address is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis bus: connection failed: %w", err)
	}
	return NewRedisBus(rdb, opts.ChannelPrefix), nil
}

// NewRedisBus wraps an existing client.
func NewRedisBus(rdb *goredis.Client, prefix string) *RedisBus {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisBus{rdb: rdb, prefix: prefix}
}

func (b *RedisBus) channel(topic string) string {
	return b.prefix + topic
}

func (b *RedisBus) Publish(ctx context.Context, topic string, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	if err := b.rdb.Publish(ctx, b.channel(topic), []byte(msg)).Err(); err != nil {
		metrics.IncBusDropReason(BaseTopic(topic), "redis_error")
		return fmt.Errorf("publish topic %q: %w", topic, err)
	}
	metrics.IncBusPublished(BaseTopic(topic), BackendRedis)
	return nil
}

// Subscribe returns once Redis has confirmed the subscription.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (Subscriber, error) {
	ps := b.rdb.Subscribe(ctx, b.channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe topic %q: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	s := &redisSub{ps: ps, ch: make(chan Message, subscriberBuffer), cancel: cancel, done: make(chan struct{})}
	go s.run(subCtx, topic)
	return s, nil
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

type redisSub struct {
	ps     *goredis.PubSub
	ch     chan Message
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *redisSub) run(ctx context.Context, topic string) {
	defer close(s.done)
	defer close(s.ch)
	in := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.ch <- Message(m.Payload):
			default:
				metrics.IncBusDropReason(BaseTopic(topic), "full")
				log.L().Warn().
					Str(log.FieldTopic, topic).
					Msg("redis bus subscriber is slow, dropping message")
			}
		}
	}
}

func (s *redisSub) C() <-chan Message { return s.ch }

func (s *redisSub) Close() error {
	s.cancel()
	err := s.ps.Close()
	<-s.done
	return err
}

var _ Bus = (*RedisBus)(nil)
