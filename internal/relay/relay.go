// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package relay implements the configuration relay between the settings
// webview, the durable store and the paired watch.
package relay

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/ManuGH/watchrelay/internal/appmsg"
	xglog "github.com/ManuGH/watchrelay/internal/log"
	"github.com/ManuGH/watchrelay/internal/metrics"
	"github.com/rs/zerolog"
)

// Host event names.
const (
	EventReady             = "ready"
	EventShowConfiguration = "showConfiguration"
	EventWebviewClosed     = "webviewclosed"
)

// Relay owns the configuration record. Handlers are expected to be delivered
// serially by the event source; the mutex additionally protects Snapshot
// readers running on other goroutines.
type Relay struct {
	store  Store
	host   Host
	url    string
	logger zerolog.Logger

	mu     sync.Mutex
	record Record
	state  State
}

// Option customises a Relay.
type Option func(*Relay)

// WithConfigurationURL overrides the settings page address. Empty keeps the default.
func WithConfigurationURL(u string) Option {
	return func(r *Relay) {
		if u != "" {
			r.url = u
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// New builds a relay in the Unloaded state.
func New(store Store, host Host, opts ...Option) *Relay {
	r := &Relay{
		store:  store,
		host:   host,
		url:    DefaultConfigurationURL,
		logger: xglog.WithComponent("relay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.record.ConfigurationURL = r.url
	return r
}

// Register attaches the relay handlers to an event source.
func (r *Relay) Register(src EventSource) {
	src.OnReady(r.OnReady)
	src.OnShowConfiguration(r.OnShowConfigurationRequested)
	src.OnWebviewClosed(r.OnWebviewClosed)
}

// OnReady loads the persisted configuration and sends it to the watch.
func (r *Relay) OnReady(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.loadConfiguration(ctx)
	if r.state != StateLoaded {
		logger := xglog.WithContext(ctx, r.logger)
		logger.Info().
			Str(xglog.FieldEvent, "relay.state_changed").
			Str(xglog.FieldOldState, r.state.String()).
			Str(xglog.FieldNewState, StateLoaded.String()).
			Msg("relay loaded")
		r.state = StateLoaded
	}
	r.publishConfiguration(ctx)
	metrics.RecordEvent(EventReady, metrics.OutcomeOK)
}

// OnShowConfigurationRequested asks the host to open the settings page.
func (r *Relay) OnShowConfigurationRequested(ctx context.Context) {
	r.mu.Lock()
	u := r.record.ConfigurationURL
	r.mu.Unlock()

	logger := xglog.WithContext(ctx, r.logger)
	if err := r.host.OpenURL(ctx, u); err != nil {
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "relay.open_url_failed").
			Str(xglog.FieldURL, u).
			Msg("host failed to open configuration page")
		metrics.RecordEvent(EventShowConfiguration, metrics.OutcomeError)
		return
	}
	logger.Debug().
		Str(xglog.FieldEvent, "relay.open_url").
		Str(xglog.FieldURL, u).
		Msg("configuration page requested")
	metrics.RecordEvent(EventShowConfiguration, metrics.OutcomeOK)
}

// OnWebviewClosed persists the settings carried by response and republishes
// them. An empty response means the user dismissed the page and is a no-op.
// A present but unparseable response yields ErrInvalidPayload and leaves
// store and watch untouched.
func (r *Relay) OnWebviewClosed(ctx context.Context, response string) error {
	logger := xglog.WithContext(ctx, r.logger)
	if response == "" {
		logger.Debug().
			Str(xglog.FieldEvent, "relay.webview_dismissed").
			Msg("webview closed without response")
		metrics.RecordEvent(EventWebviewClosed, metrics.OutcomeIgnored)
		return nil
	}

	settings, err := DecodeSettings(response)
	if err != nil {
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "relay.invalid_payload").
			Int("length", len(response)).
			Msg("ignoring malformed webview response")
		metrics.RecordEvent(EventWebviewClosed, metrics.OutcomeInvalid)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveConfiguration(ctx, settings)
	r.publishConfiguration(ctx)
	metrics.RecordEvent(EventWebviewClosed, metrics.OutcomeOK)
	return nil
}

// Snapshot returns a copy of the record and the lifecycle state.
func (r *Relay) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{Record: r.record, State: r.state.String()}
}

// State reports the lifecycle state.
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ConfigurationURL returns the settings page address.
func (r *Relay) ConfigurationURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.ConfigurationURL
}

// saveConfiguration writes the invert flag and reloads from the store, so the
// record reflects whatever the store actually kept. Caller holds r.mu.
func (r *Relay) saveConfiguration(ctx context.Context, s Settings) {
	if err := r.store.Set(ctx, KeyInvert, strconv.Itoa(s.Invert)); err != nil {
		logger := xglog.WithContext(ctx, r.logger)
		logger.Error().Err(err).
			Str(xglog.FieldEvent, "relay.save_failed").
			Str(xglog.FieldKey, KeyInvert).
			Int(xglog.FieldInvert, s.Invert).
			Msg("failed to persist configuration")
	}
	r.loadConfiguration(ctx)
}

// loadConfiguration reads the invert flag, defaulting to 0. Caller holds r.mu.
func (r *Relay) loadConfiguration(ctx context.Context) {
	invert := 0
	raw, found, err := r.store.Get(ctx, KeyInvert)
	switch {
	case err != nil:
		logger := xglog.WithContext(ctx, r.logger)
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "relay.load_failed").
			Str(xglog.FieldKey, KeyInvert).
			Msg("failed to read configuration, using default")
	case found:
		invert = ParseIntOrDefault(raw, 0)
	}

	r.record.InvertDisplay = invert
	r.record.ConfigurationURL = r.url
	metrics.SetInvertDisplay(invert)
}

// publishConfiguration sends the invert flag to the watch. Caller holds r.mu.
func (r *Relay) publishConfiguration(ctx context.Context) {
	msg := appmsg.Message{KeyInvert: r.record.InvertDisplay}
	err := r.host.SendAppMessage(ctx, msg)
	metrics.RecordAppMessage(err)

	logger := xglog.WithContext(ctx, r.logger)
	if err != nil {
		evt := logger.Warn()
		if errors.Is(err, context.Canceled) {
			evt = logger.Debug()
		}
		evt.Err(err).
			Str(xglog.FieldEvent, "relay.publish_failed").
			Int(xglog.FieldInvert, r.record.InvertDisplay).
			Msg("failed to send configuration to watch")
		return
	}
	logger.Info().
		Str(xglog.FieldEvent, "relay.published").
		Int(xglog.FieldInvert, r.record.InvertDisplay).
		Msg("configuration sent to watch")
}
