// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package watch

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/watchrelay/internal/appmsg"
	"github.com/ManuGH/watchrelay/internal/bus"
	"github.com/ManuGH/watchrelay/internal/host"
	"github.com/ManuGH/watchrelay/internal/kv"
	"github.com/ManuGH/watchrelay/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relayFixture struct {
	url        string
	store      *kv.MemoryStore
	dispatcher *host.Dispatcher
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	b := bus.NewMemoryBus()
	d := host.NewDispatcher(0)
	store := kv.NewMemoryStore()
	r := relay.New(store, host.NewBusHost(b, nil, 0))
	r.Register(d)

	hub := host.NewHub(b, d)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		_ = hub.Close()
		srv.Close()
		_ = d.Close()
		_ = b.Close()
	})
	return &relayFixture{
		url:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		store:      store,
		dispatcher: d,
	}
}

type frameLog struct {
	mu     sync.Mutex
	frames []appmsg.Frame
}

func (l *frameLog) add(f appmsg.Frame) {
	l.mu.Lock()
	l.frames = append(l.frames, f)
	l.mu.Unlock()
}

func (l *frameLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.frames))
	for _, f := range l.frames {
		out = append(out, f.Type)
	}
	return out
}

func runClient(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("client did not stop")
		}
	})
}

func TestClient_ReadyAppliesStoredConfiguration(t *testing.T) {
	f := newRelayFixture(t)
	require.NoError(t, f.store.Set(context.Background(), relay.KeyInvert, "1"))

	face := NewFace(kv.NewMemoryStore())
	runClient(t, NewClient(f.url, face))

	require.Eventually(t, face.Inverted, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Settings{Invert: 1}, face.Settings())
}

func TestClient_FollowsSettingsChanges(t *testing.T) {
	f := newRelayFixture(t)
	require.NoError(t, f.store.Set(context.Background(), relay.KeyInvert, "1"))

	log := &frameLog{}
	face := NewFace(kv.NewMemoryStore())
	runClient(t, NewClient(f.url, face, WithFrameHook(log.add)))
	require.Eventually(t, face.Inverted, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, f.dispatcher.Dispatch(ctx, host.Event{Name: relay.EventShowConfiguration}))
	require.NoError(t, f.dispatcher.Dispatch(ctx, host.Event{Name: relay.EventWebviewClosed, Payload: `{"invert":0}`}))

	require.Eventually(t, func() bool { return !face.Inverted() }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, log.types(), appmsg.TypeOpenURL)
}

func TestClient_RunStopsWhileRetrying(t *testing.T) {
	face := NewFace(kv.NewMemoryStore())
	c := NewClient("ws://127.0.0.1:1/ws", face)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.NoError(t, c.Run(ctx))
	assert.False(t, face.Inverted())
}
