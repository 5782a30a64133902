// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus carries encoded frames from the relay to the companion links.
package bus

import (
	"context"
	"fmt"
	"strings"
)

// Topics used by the relay.
const (
	TopicAppMessage = "device.appmessage"
	TopicOpenURL    = "host.openurl"
)

// connSep separates a topic from the connection it is scoped to.
const connSep = "@"

// ConnTopic scopes topic to a single companion connection.
func ConnTopic(topic, connID string) string {
	return topic + connSep + connID
}

// BaseTopic strips the connection scope from topic. Metrics are labelled
// with it so per-connection topics do not grow label cardinality.
func BaseTopic(topic string) string {
	base, _, _ := strings.Cut(topic, connSep)
	return base
}

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Message is an encoded frame.
type Message = []byte

// Bus is a topic based publish/subscribe channel.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
	Close() error
}

// Subscriber receives messages for one topic until closed.
type Subscriber interface {
	C() <-chan Message
	Close() error
}

// New creates a bus for backend. The redis backend requires opts.
func New(backend string, opts RedisOptions) (Bus, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryBus(), nil
	case BackendRedis:
		return OpenRedisBus(opts)
	default:
		return nil, fmt.Errorf("unknown bus backend: %s (supported: memory, redis)", backend)
	}
}
