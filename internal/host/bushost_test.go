// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package host

import (
	"context"
	"testing"
	"time"

	"github.com/ManuGH/watchrelay/internal/appmsg"
	"github.com/ManuGH/watchrelay/internal/bus"
	"github.com/ManuGH/watchrelay/internal/kv"
	xglog "github.com/ManuGH/watchrelay/internal/log"
	"github.com/ManuGH/watchrelay/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, sub bus.Subscriber) appmsg.Frame {
	t.Helper()
	select {
	case m := <-sub.C():
		f, err := appmsg.Decode(m)
		require.NoError(t, err)
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return appmsg.Frame{}
	}
}

func TestBusHost_SendAppMessage(t *testing.T) {
	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })
	sub, err := b.Subscribe(context.Background(), bus.TopicAppMessage)
	require.NoError(t, err)

	h := NewBusHost(b, nil, 0)
	require.NoError(t, h.SendAppMessage(context.Background(), appmsg.Message{"invert": 1}))

	f := recv(t, sub)
	assert.Equal(t, appmsg.TypeAppMessage, f.Type)
	v, ok := f.Value(appmsg.InvertKey, "invert")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, map[string]int{"0": 1}, f.Keys)
}

func TestBusHost_SendAppMessageUnknownField(t *testing.T) {
	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })

	h := NewBusHost(b, appmsg.DefaultAppKeys(), time.Second)
	err := h.SendAppMessage(context.Background(), appmsg.Message{"theme": 2})
	require.ErrorIs(t, err, appmsg.ErrUnknownField)
}

func TestBusHost_OpenURL(t *testing.T) {
	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })
	sub, err := b.Subscribe(context.Background(), bus.TopicOpenURL)
	require.NoError(t, err)

	h := NewBusHost(b, nil, 0)
	require.NoError(t, h.OpenURL(context.Background(), relay.DefaultConfigurationURL))

	f := recv(t, sub)
	assert.Equal(t, appmsg.TypeOpenURL, f.Type)
	assert.Equal(t, relay.DefaultConfigurationURL, f.URL)
}

func TestBusHost_OpenURLScopedToConnection(t *testing.T) {
	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()
	shared, err := b.Subscribe(ctx, bus.TopicOpenURL)
	require.NoError(t, err)
	scoped, err := b.Subscribe(ctx, bus.ConnTopic(bus.TopicOpenURL, "conn-1"))
	require.NoError(t, err)

	h := NewBusHost(b, nil, 0)
	require.NoError(t, h.OpenURL(xglog.ContextWithConnectionID(ctx, "conn-1"), relay.DefaultConfigurationURL))

	f := recv(t, scoped)
	assert.Equal(t, relay.DefaultConfigurationURL, f.URL)
	select {
	case m := <-shared.C():
		t.Fatalf("shared topic received %s", m)
	default:
	}
}

func TestBusHost_PublishTimeout(t *testing.T) {
	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })
	sub, err := b.Subscribe(context.Background(), bus.TopicAppMessage)
	require.NoError(t, err)
	for i := 0; i < cap(sub.C()); i++ {
		require.NoError(t, b.Publish(context.Background(), bus.TopicAppMessage, bus.Message("{}")))
	}

	h := NewBusHost(b, nil, 10*time.Millisecond)
	err = h.SendAppMessage(context.Background(), appmsg.Message{"invert": 0})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRelayOverDispatcherAndBus(t *testing.T) {
	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })
	sub, err := b.Subscribe(context.Background(), bus.TopicAppMessage)
	require.NoError(t, err)

	d := NewDispatcher(0)
	t.Cleanup(func() { _ = d.Close() })

	store := kv.NewMemoryStore()
	r := relay.New(store, NewBusHost(b, nil, 0))
	r.Register(d)

	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, Event{Name: relay.EventReady}))
	f := recv(t, sub)
	v, _ := f.Value(appmsg.InvertKey, "invert")
	assert.Equal(t, 0, v)

	require.NoError(t, d.Dispatch(ctx, Event{Name: relay.EventWebviewClosed, Payload: `{"invert":"1"}`}))
	f = recv(t, sub)
	v, _ = f.Value(appmsg.InvertKey, "invert")
	assert.Equal(t, 1, v)

	stored, found, err := store.Get(ctx, relay.KeyInvert)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1", stored)
}
