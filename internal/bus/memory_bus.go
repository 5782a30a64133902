// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/watchrelay/internal/log"
	"github.com/ManuGH/watchrelay/internal/metrics"
)

// MemoryBus is an in-process pub/sub. It is not durable and delivers to every
// subscriber while the publish context remains active.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memSub
	closed bool
}

const (
	subscriberBuffer = 64
	dropLogEvery     = 100
)

var dropCount atomic.Uint64

// ErrClosed is returned when publishing on or subscribing to a closed bus.
var ErrClosed = errors.New("bus closed")

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memSub)}
}

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := append([]*memSub(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.deliver(ctx, msg); err != nil {
			if errors.Is(err, errSubClosed) {
				continue
			}
			reason := publishDropReason(ctx.Err())
			metrics.IncBusDropReason(BaseTopic(topic), reason)
			count := dropCount.Add(1)
			if count%dropLogEvery == 1 {
				log.L().Warn().
					Str(log.FieldTopic, topic).
					Str("reason", reason).
					Uint64("dropped", count).
					Msg("memory bus failed to publish due to context cancellation")
			}
			return fmt.Errorf("publish topic %q: %w", topic, ctx.Err())
		}
	}
	metrics.IncBusPublished(BaseTopic(topic), BackendMemory)
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, topic string) (Subscriber, error) {
	s := &memSub{b: b, topic: topic, ch: make(chan Message, subscriberBuffer), done: make(chan struct{})}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.subs[topic] = append(b.subs[topic], s)
	return s, nil
}

// Close closes every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*memSub
	for _, lst := range b.subs {
		all = append(all, lst...)
	}
	b.subs = make(map[string][]*memSub)
	b.mu.Unlock()

	for _, s := range all {
		s.shutdown()
	}
	return nil
}

var errSubClosed = errors.New("subscription closed")

type memSub struct {
	b     *MemoryBus
	topic string
	ch    chan Message

	sendMu sync.RWMutex
	done   chan struct{}
	once   sync.Once
}

func (s *memSub) C() <-chan Message {
	return s.ch
}

func (s *memSub) deliver(ctx context.Context, msg Message) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	select {
	case <-s.done:
		return errSubClosed
	default:
	}
	select {
	case s.ch <- msg:
		return nil
	case <-s.done:
		return errSubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *memSub) Close() error {
	s.b.mu.Lock()
	lst := s.b.subs[s.topic]
	out := lst[:0]
	for _, c := range lst {
		if c != s {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		delete(s.b.subs, s.topic)
	} else {
		s.b.subs[s.topic] = out
	}
	s.b.mu.Unlock()

	s.shutdown()
	return nil
}

// shutdown unblocks pending deliveries, then closes the channel once no
// sender can still write to it.
func (s *memSub) shutdown() {
	s.once.Do(func() {
		close(s.done)
		s.sendMu.Lock()
		close(s.ch)
		s.sendMu.Unlock()
	})
}

var _ Bus = (*MemoryBus)(nil)
