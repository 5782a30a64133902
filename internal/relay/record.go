// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/ManuGH/watchrelay/internal/appmsg"
)

// DefaultConfigurationURL is the settings page opened in the host webview.
const DefaultConfigurationURL = "http://www.pebbletr.com/settings/index.html"

// KeyInvert is the single durable store key owned by the relay.
const KeyInvert = "invert"

// ErrInvalidPayload classifies webview responses that are present but unparseable.
var ErrInvalidPayload = errors.New("invalid webview payload")

// Record is the in-memory configuration owned by a Relay.
type Record struct {
	InvertDisplay    int    `json:"invert"`
	ConfigurationURL string `json:"configurationUrl"`
}

// State is the relay lifecycle state.
type State int

const (
	StateUnloaded State = iota
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time copy of the relay state.
type Snapshot struct {
	Record
	State string `json:"state"`
}

// Store is the durable key-value capability supplied by the host.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Host carries the outbound calls the relay makes.
type Host interface {
	OpenURL(ctx context.Context, url string) error
	SendAppMessage(ctx context.Context, msg appmsg.Message) error
}

// EventSource delivers the three host lifecycle events, one at a time.
type EventSource interface {
	OnReady(fn func(ctx context.Context))
	OnShowConfiguration(fn func(ctx context.Context))
	OnWebviewClosed(fn func(ctx context.Context, response string) error)
}

// Settings is the decoded webview response.
type Settings struct {
	Invert int
}

// DecodeSettings parses a webview response. Responses arrive either as raw
// JSON or percent-encoded when the settings page hands them back through the
// close URL fragment. A missing or non-numeric invert field decodes to 0.
func DecodeSettings(response string) (Settings, error) {
	raw := strings.TrimSpace(response)
	fields, err := decodeObject(raw)
	if err != nil && strings.Contains(raw, "%") {
		if unescaped, uerr := url.QueryUnescape(raw); uerr == nil {
			fields, err = decodeObject(unescaped)
		}
	}
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return Settings{Invert: coerceInt(fields[KeyInvert])}, nil
}

func decodeObject(s string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("payload is not an object")
	}
	return fields, nil
}

// coerceInt turns the JSON form of a field into an int: strings go through
// ParseIntOrDefault, numbers are truncated, anything else becomes 0.
func coerceInt(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseIntOrDefault(s, 0)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
			return 0
		}
		return int(math.Trunc(f))
	}
	return 0
}
