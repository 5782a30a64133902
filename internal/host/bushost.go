// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package host

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/watchrelay/internal/appmsg"
	"github.com/ManuGH/watchrelay/internal/bus"
	xglog "github.com/ManuGH/watchrelay/internal/log"
	"github.com/ManuGH/watchrelay/internal/relay"
)

// DefaultPublishTimeout bounds a single bus publish.
const DefaultPublishTimeout = 2 * time.Second

// BusHost implements relay.Host by publishing encoded frames on the bus.
type BusHost struct {
	bus     bus.Bus
	keys    appmsg.AppKeys
	timeout time.Duration
}

// NewBusHost returns a host publishing on b. Nil keys use the watchface defaults.
func NewBusHost(b bus.Bus, keys appmsg.AppKeys, timeout time.Duration) *BusHost {
	if keys == nil {
		keys = appmsg.DefaultAppKeys()
	}
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &BusHost{bus: b, keys: keys, timeout: timeout}
}

// OpenURL asks the companion that delivered the current event to open url.
// Without a connection in ctx (HTTP events) every companion is asked.
func (h *BusHost) OpenURL(ctx context.Context, url string) error {
	data, err := appmsg.EncodeOpenURL(url)
	if err != nil {
		return fmt.Errorf("encode openurl: %w", err)
	}
	topic := bus.TopicOpenURL
	if id := xglog.ConnectionIDFromContext(ctx); id != "" {
		topic = bus.ConnTopic(topic, id)
	}
	return h.publish(ctx, topic, data)
}

func (h *BusHost) SendAppMessage(ctx context.Context, msg appmsg.Message) error {
	data, err := h.keys.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode appmessage: %w", err)
	}
	return h.publish(ctx, bus.TopicAppMessage, data)
}

func (h *BusHost) publish(ctx context.Context, topic string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.bus.Publish(ctx, topic, data)
}

var _ relay.Host = (*BusHost)(nil)
