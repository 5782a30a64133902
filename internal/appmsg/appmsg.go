// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package appmsg encodes the frames exchanged with the phone companion and the
// paired watch. Named fields are translated to the numeric AppMessage keys the
// watch application registers.
package appmsg

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Frame types carried over the companion link.
const (
	TypeAppMessage        = "appmessage"
	TypeOpenURL           = "openurl"
	TypeReady             = "ready"
	TypeShowConfiguration = "showConfiguration"
	TypeWebviewClosed     = "webviewclosed"
	TypeError             = "error"
)

// InvertKey is the AppMessage key the watchface reads the invert flag from.
const InvertKey uint32 = 0

var (
	// ErrUnknownField is returned when a message names a field with no AppMessage key.
	ErrUnknownField = errors.New("unknown appmessage field")
	// ErrInvalidAppKeys classifies malformed key mapping strings.
	ErrInvalidAppKeys = errors.New("invalid app keys")
)

// Message is a set of integer fields sent to the watch.
type Message map[string]int

// AppKeys maps field names to numeric AppMessage keys.
type AppKeys map[string]uint32

// DefaultAppKeys returns the mapping used by the watchface.
func DefaultAppKeys() AppKeys {
	return AppKeys{"invert": InvertKey}
}

// ParseAppKeys parses "name=key,name=key". An empty string yields the defaults.
func ParseAppKeys(s string) (AppKeys, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultAppKeys(), nil
	}
	keys := make(AppKeys)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, raw, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAppKeys, part)
		}
		n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAppKeys, part, err)
		}
		keys[name] = uint32(n)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalidAppKeys)
	}
	return keys, nil
}

// String renders the mapping in the form accepted by ParseAppKeys.
func (k AppKeys) String() string {
	names := make([]string, 0, len(k))
	for name := range k {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+strconv.FormatUint(uint64(k[name]), 10))
	}
	return strings.Join(parts, ",")
}

// Frame is the JSON envelope used on the companion websocket and the bus.
type Frame struct {
	Type     string         `json:"type"`
	Payload  Message        `json:"payload,omitempty"`
	Keys     map[string]int `json:"keys,omitempty"`
	URL      string         `json:"url,omitempty"`
	Response *string        `json:"response,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Encode builds an appmessage frame carrying both named and numeric keys.
func (k AppKeys) Encode(msg Message) ([]byte, error) {
	f, err := k.Frame(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

// Frame builds the appmessage frame for msg.
func (k AppKeys) Frame(msg Message) (Frame, error) {
	numeric := make(map[string]int, len(msg))
	for name, v := range msg {
		key, ok := k[name]
		if !ok {
			return Frame{}, fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
		numeric[strconv.FormatUint(uint64(key), 10)] = v
	}
	return Frame{Type: TypeAppMessage, Payload: msg, Keys: numeric}, nil
}

// EncodeOpenURL builds an openurl frame.
func EncodeOpenURL(url string) ([]byte, error) {
	return json.Marshal(Frame{Type: TypeOpenURL, URL: url})
}

// Decode parses a frame.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, errors.New("decode frame: missing type")
	}
	return f, nil
}

// Value returns the integer for the numeric key, falling back to the named field.
func (f Frame) Value(key uint32, name string) (int, bool) {
	if v, ok := f.Keys[strconv.FormatUint(uint64(key), 10)]; ok {
		return v, true
	}
	v, ok := f.Payload[name]
	return v, ok
}
