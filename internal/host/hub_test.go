// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package host

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ManuGH/watchrelay/internal/appmsg"
	"github.com/ManuGH/watchrelay/internal/bus"
	"github.com/ManuGH/watchrelay/internal/kv"
	"github.com/ManuGH/watchrelay/internal/relay"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type hubFixture struct {
	hub   *Hub
	srv   *httptest.Server
	store *kv.MemoryStore
}

func newHubFixture(t *testing.T, opts ...HubOption) *hubFixture {
	t.Helper()
	b := bus.NewMemoryBus()
	d := NewDispatcher(0)
	store := kv.NewMemoryStore()
	r := relay.New(store, NewBusHost(b, nil, 0))
	r.Register(d)

	hub := NewHub(b, d, opts...)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		_ = hub.Close()
		srv.Close()
		_ = d.Close()
		_ = b.Close()
	})
	return &hubFixture{hub: hub, srv: srv, store: store}
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func read(t *testing.T, conn *websocket.Conn) appmsg.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	f, err := appmsg.Decode(data)
	require.NoError(t, err)
	return f
}

func TestHub_ReadySendsStoredConfiguration(t *testing.T) {
	f := newHubFixture(t)
	require.NoError(t, f.store.Set(context.Background(), relay.KeyInvert, "1"))
	conn := f.dial(t)

	send(t, conn, `{"type":"ready"}`)
	frame := read(t, conn)
	assert.Equal(t, appmsg.TypeAppMessage, frame.Type)
	v, ok := frame.Value(appmsg.InvertKey, "invert")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestHub_ShowConfigurationOpensURL(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t)

	send(t, conn, `{"type":"showConfiguration"}`)
	frame := read(t, conn)
	assert.Equal(t, appmsg.TypeOpenURL, frame.Type)
	assert.Equal(t, relay.DefaultConfigurationURL, frame.URL)
}

func TestHub_OpenURLGoesOnlyToRequester(t *testing.T) {
	f := newHubFixture(t)
	requester := f.dial(t)
	other := f.dial(t)

	// A round trip guarantees the other companion is subscribed.
	send(t, other, `{}`)
	require.Equal(t, ErrCodeInvalidFrame, read(t, other).Error)

	send(t, requester, `{"type":"showConfiguration"}`)
	frame := read(t, requester)
	assert.Equal(t, appmsg.TypeOpenURL, frame.Type)

	send(t, other, `{}`)
	next := read(t, other)
	assert.Equal(t, appmsg.TypeError, next.Type, "other companion received %s %s", next.Type, next.URL)
	assert.Equal(t, ErrCodeInvalidFrame, next.Error)
}

func TestHub_AppMessageReachesEveryCompanion(t *testing.T) {
	f := newHubFixture(t)
	first := f.dial(t)
	second := f.dial(t)

	send(t, second, `{}`)
	require.Equal(t, ErrCodeInvalidFrame, read(t, second).Error)

	send(t, first, `{"type":"webviewclosed","response":"{\"invert\":1}"}`)
	for _, conn := range []*websocket.Conn{first, second} {
		frame := read(t, conn)
		assert.Equal(t, appmsg.TypeAppMessage, frame.Type)
		v, _ := frame.Value(appmsg.InvertKey, "invert")
		assert.Equal(t, 1, v)
	}
}

func TestHub_WebviewClosedPersistsAndPublishes(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t)

	send(t, conn, `{"type":"webviewclosed","response":"%7B%22invert%22%3A1%7D"}`)
	frame := read(t, conn)
	v, _ := frame.Value(appmsg.InvertKey, "invert")
	assert.Equal(t, 1, v)

	stored, found, err := f.store.Get(context.Background(), relay.KeyInvert)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1", stored)
}

func TestHub_ErrorFrames(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t)

	tests := []struct {
		name string
		raw  string
		code string
	}{
		{"not json", `hello`, ErrCodeInvalidFrame},
		{"missing type", `{}`, ErrCodeInvalidFrame},
		{"unknown event", `{"type":"appmessage"}`, ErrCodeUnknownEvent},
		{"malformed response", `{"type":"webviewclosed","response":"{invert"}`, ErrCodeInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, conn, tt.raw)
			frame := read(t, conn)
			assert.Equal(t, appmsg.TypeError, frame.Type)
			assert.Equal(t, tt.code, frame.Error)
		})
	}

	_, found, err := f.store.Get(context.Background(), relay.KeyInvert)
	require.NoError(t, err)
	assert.False(t, found, "malformed payloads must not be persisted")
}

func TestHub_RateLimitsInboundEvents(t *testing.T) {
	f := newHubFixture(t, WithEventRate(0, 1))
	conn := f.dial(t)

	send(t, conn, `{}`)
	assert.Equal(t, ErrCodeInvalidFrame, read(t, conn).Error)
	send(t, conn, `{}`)
	assert.Equal(t, ErrCodeRateLimited, read(t, conn).Error)
}

func TestHub_RejectsPlainHTTP(t *testing.T) {
	f := newHubFixture(t)

	resp, err := f.srv.Client().Get(f.srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, f.hub.Count())
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := bus.NewMemoryBus()
	d := NewDispatcher(0)
	hub := NewHub(b, d)
	srv := httptest.NewServer(hub)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.Count())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	_ = conn.Close()

	srv.Close()
	require.NoError(t, d.Close())
	require.NoError(t, b.Close())
}
