// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package watch simulates the paired watchface: it applies AppMessage
// frames from the relay to a display state and persists its settings.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ManuGH/watchrelay/internal/appmsg"
	xglog "github.com/ManuGH/watchrelay/internal/log"
	"github.com/rs/zerolog"
)

// SettingsKey is the persist key the watchface stores its settings under.
const SettingsKey = "99"

// Store is the watch's persistent storage.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Settings is the persisted watchface state.
type Settings struct {
	Invert int `json:"invert"`
}

// Face holds the display state of the simulated watchface.
type Face struct {
	store  Store
	logger zerolog.Logger

	mu       sync.RWMutex
	settings Settings
	inverted bool
}

// NewFace returns a face with default settings. Call Load to restore state.
func NewFace(store Store) *Face {
	return &Face{store: store, logger: xglog.WithComponent("watch")}
}

// Load restores persisted settings and applies them to the display. Missing
// or unreadable settings keep the defaults.
func (f *Face) Load(ctx context.Context) error {
	raw, found, err := f.store.Get(ctx, SettingsKey)
	if err != nil {
		return fmt.Errorf("load watch settings: %w", err)
	}
	var s Settings
	if found {
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			f.logger.Warn().Err(err).Str(xglog.FieldKey, SettingsKey).Msg("discarding unreadable watch settings")
			s = Settings{}
		}
	}

	f.mu.Lock()
	f.settings = s
	f.inverted = s.Invert != 0
	f.mu.Unlock()
	return nil
}

// Save persists the current settings.
func (f *Face) Save(ctx context.Context) error {
	f.mu.RLock()
	data, err := json.Marshal(f.settings)
	f.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode watch settings: %w", err)
	}
	if err := f.store.Set(ctx, SettingsKey, string(data)); err != nil {
		return fmt.Errorf("save watch settings: %w", err)
	}
	return nil
}

// Apply handles one frame and reports whether it changed the settings.
// The invert tuple is read as a uint8, so only its low byte counts.
func (f *Face) Apply(frame appmsg.Frame) bool {
	if frame.Type != appmsg.TypeAppMessage {
		return false
	}
	v, ok := frame.Value(appmsg.InvertKey, "invert")
	if !ok {
		return false
	}

	invert := int(uint8(v))
	f.mu.Lock()
	f.settings.Invert = invert
	f.inverted = invert != 0
	f.mu.Unlock()

	f.logger.Info().
		Str(xglog.FieldEvent, "watch.applied").
		Int(xglog.FieldInvert, invert).
		Msg("display updated")
	return true
}

// Inverted reports whether the inverter layer is shown.
func (f *Face) Inverted() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.inverted
}

// Settings returns a copy of the current settings.
func (f *Face) Settings() Settings {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.settings
}
