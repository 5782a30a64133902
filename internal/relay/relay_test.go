// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ManuGH/watchrelay/internal/appmsg"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu     sync.Mutex
	data   map[string]string
	writes int
	getErr error
	setErr error
	coerce func(string) string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}}
}

func (s *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", false, s.getErr
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *fakeStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.setErr != nil {
		return s.setErr
	}
	if s.coerce != nil {
		value = s.coerce(value)
	}
	s.data[key] = value
	return nil
}

type fakeHost struct {
	mu      sync.Mutex
	opened  []string
	sent    []appmsg.Message
	sendErr error
	openErr error
}

func (h *fakeHost) OpenURL(_ context.Context, u string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened = append(h.opened, u)
	return h.openErr
}

func (h *fakeHost) SendAppMessage(_ context.Context, msg appmsg.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, msg)
	return h.sendErr
}

func newTestRelay(store Store, host Host, opts ...Option) *Relay {
	return New(store, host, append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
}

func TestLoadConfiguration_StoredValues(t *testing.T) {
	tests := []struct {
		name   string
		stored *string
		want   int
	}{
		{name: "zero", stored: ptr("0"), want: 0},
		{name: "one", stored: ptr("1"), want: 1},
		{name: "missing", stored: nil, want: 0},
		{name: "non numeric", stored: ptr("NaN"), want: 0},
		{name: "empty", stored: ptr(""), want: 0},
		{name: "garbage suffix", stored: ptr("1px"), want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			if tt.stored != nil {
				store.data[KeyInvert] = *tt.stored
			}
			r := newTestRelay(store, &fakeHost{})

			r.loadConfiguration(context.Background())

			assert.Equal(t, tt.want, r.Snapshot().InvertDisplay)
			assert.Equal(t, DefaultConfigurationURL, r.Snapshot().ConfigurationURL)
		})
	}
}

func TestLoadConfiguration_ReadErrorDefaultsToZero(t *testing.T) {
	store := newFakeStore()
	store.data[KeyInvert] = "1"
	r := newTestRelay(store, &fakeHost{})
	r.loadConfiguration(context.Background())
	require.Equal(t, 1, r.Snapshot().InvertDisplay)

	store.getErr = errors.New("disk gone")
	r.loadConfiguration(context.Background())
	assert.Equal(t, 0, r.Snapshot().InvertDisplay)
}

func TestSaveConfiguration_RoundTrip(t *testing.T) {
	store := newFakeStore()
	r := newTestRelay(store, &fakeHost{})
	ctx := context.Background()

	r.saveConfiguration(ctx, Settings{Invert: 1})
	r.loadConfiguration(ctx)
	assert.Equal(t, 1, r.Snapshot().InvertDisplay)
	assert.Equal(t, "1", store.data[KeyInvert])

	r.saveConfiguration(ctx, Settings{Invert: 0})
	r.loadConfiguration(ctx)
	assert.Equal(t, 0, r.Snapshot().InvertDisplay)
	assert.Equal(t, "0", store.data[KeyInvert])
}

func TestSaveConfiguration_TrustsStoreAfterWrite(t *testing.T) {
	store := newFakeStore()
	store.coerce = func(string) string { return "garbled" }
	r := newTestRelay(store, &fakeHost{})

	r.saveConfiguration(context.Background(), Settings{Invert: 1})
	assert.Equal(t, 0, r.Snapshot().InvertDisplay)
}

func TestSaveConfiguration_WriteFailureKeepsStoredValue(t *testing.T) {
	store := newFakeStore()
	store.data[KeyInvert] = "1"
	store.setErr = errors.New("read-only")
	r := newTestRelay(store, &fakeHost{})

	r.saveConfiguration(context.Background(), Settings{Invert: 0})
	assert.Equal(t, 1, r.Snapshot().InvertDisplay)
}

func TestOnReady_EmptyStorePublishesZero(t *testing.T) {
	host := &fakeHost{}
	r := newTestRelay(newFakeStore(), host)
	require.Equal(t, StateUnloaded, r.State())

	r.OnReady(context.Background())

	assert.Equal(t, StateLoaded, r.State())
	if diff := cmp.Diff([]appmsg.Message{{"invert": 0}}, host.sent); diff != "" {
		t.Errorf("sent messages mismatch (-want +got):\n%s", diff)
	}
}

func TestOnReady_PublishesPersistedValue(t *testing.T) {
	store := newFakeStore()
	store.data[KeyInvert] = "1"
	host := &fakeHost{}
	r := newTestRelay(store, host)

	r.OnReady(context.Background())
	r.OnReady(context.Background())

	assert.Equal(t, []appmsg.Message{{"invert": 1}, {"invert": 1}}, host.sent)
	assert.Equal(t, StateLoaded, r.State())
}

func TestOnReady_SendFailureIsSwallowed(t *testing.T) {
	host := &fakeHost{sendErr: errors.New("no phone")}
	r := newTestRelay(newFakeStore(), host)

	r.OnReady(context.Background())

	assert.Equal(t, StateLoaded, r.State())
	assert.Len(t, host.sent, 1)
}

func TestOnWebviewClosed_EmptyResponseIsNoop(t *testing.T) {
	store := newFakeStore()
	host := &fakeHost{}
	r := newTestRelay(store, host)

	require.NoError(t, r.OnWebviewClosed(context.Background(), ""))

	assert.Zero(t, store.writes)
	assert.Empty(t, host.sent)
}

func TestOnWebviewClosed_PersistsAndPublishes(t *testing.T) {
	tests := []struct {
		name     string
		response string
		stored   string
		sent     int
	}{
		{name: "string one", response: `{"invert":"1"}`, stored: "1", sent: 1},
		{name: "numeric one", response: `{"invert":1}`, stored: "1", sent: 1},
		{name: "string zero", response: `{"invert":"0"}`, stored: "0", sent: 0},
		{name: "fractional", response: `{"invert":1.9}`, stored: "1", sent: 1},
		{name: "missing field", response: `{"theme":"dark"}`, stored: "0", sent: 0},
		{name: "boolean field", response: `{"invert":true}`, stored: "0", sent: 0},
		{name: "percent encoded", response: `%7B%22invert%22%3A%221%22%7D`, stored: "1", sent: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			host := &fakeHost{}
			r := newTestRelay(store, host)

			require.NoError(t, r.OnWebviewClosed(context.Background(), tt.response))

			assert.Equal(t, tt.stored, store.data[KeyInvert])
			assert.Equal(t, []appmsg.Message{{"invert": tt.sent}}, host.sent)
			assert.Equal(t, tt.sent, r.Snapshot().InvertDisplay)
		})
	}
}

func TestOnWebviewClosed_MalformedPayload(t *testing.T) {
	for _, response := range []string{"{not json", "5", "null", `["invert",1]`, "%zz"} {
		t.Run(response, func(t *testing.T) {
			store := newFakeStore()
			host := &fakeHost{}
			r := newTestRelay(store, host)

			err := r.OnWebviewClosed(context.Background(), response)

			require.ErrorIs(t, err, ErrInvalidPayload)
			assert.Zero(t, store.writes)
			assert.Empty(t, host.sent)
		})
	}
}

func TestOnShowConfigurationRequested_AlwaysOpensFixedURL(t *testing.T) {
	host := &fakeHost{}
	r := newTestRelay(newFakeStore(), host)

	r.OnShowConfigurationRequested(context.Background())
	r.OnReady(context.Background())
	require.NoError(t, r.OnWebviewClosed(context.Background(), `{"invert":1}`))
	r.OnShowConfigurationRequested(context.Background())

	assert.Equal(t, []string{
		"http://www.pebbletr.com/settings/index.html",
		"http://www.pebbletr.com/settings/index.html",
	}, host.opened)
}

func TestWithConfigurationURL(t *testing.T) {
	host := &fakeHost{}
	r := newTestRelay(newFakeStore(), host, WithConfigurationURL("http://staging.test/settings"))
	r.OnShowConfigurationRequested(context.Background())
	assert.Equal(t, []string{"http://staging.test/settings"}, host.opened)

	r = newTestRelay(newFakeStore(), host, WithConfigurationURL(""))
	assert.Equal(t, DefaultConfigurationURL, r.ConfigurationURL())
}

type recordingSource struct {
	ready  func(context.Context)
	show   func(context.Context)
	closed func(context.Context, string) error
}

func (s *recordingSource) OnReady(fn func(context.Context))             { s.ready = fn }
func (s *recordingSource) OnShowConfiguration(fn func(context.Context)) { s.show = fn }
func (s *recordingSource) OnWebviewClosed(fn func(context.Context, string) error) {
	s.closed = fn
}

func TestRegister_WiresAllHandlers(t *testing.T) {
	host := &fakeHost{}
	r := newTestRelay(newFakeStore(), host)
	src := &recordingSource{}

	r.Register(src)
	require.NotNil(t, src.ready)
	require.NotNil(t, src.show)
	require.NotNil(t, src.closed)

	src.ready(context.Background())
	src.show(context.Background())
	require.NoError(t, src.closed(context.Background(), `{"invert":"1"}`))

	assert.Equal(t, []appmsg.Message{{"invert": 0}, {"invert": 1}}, host.sent)
	assert.Len(t, host.opened, 1)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unloaded", StateUnloaded.String())
	assert.Equal(t, "loaded", StateLoaded.String())
	assert.Equal(t, "unknown", State(7).String())
}

func ptr(s string) *string { return &s }
