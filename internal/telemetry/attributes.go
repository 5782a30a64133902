// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys used on relay spans.
const (
	EventNameKey    = "relay.event"
	PayloadBytesKey = "relay.payload_bytes"
	ConnIDKey       = "relay.conn_id"
	ErrorTypeKey    = "error.type"
)

// EventAttributes describes one dispatched host event.
func EventAttributes(name string, payloadBytes int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(EventNameKey, name),
		attribute.Int(PayloadBytesKey, payloadBytes),
	}
}

// ConnAttributes tags spans started for a websocket connection.
func ConnAttributes(connID string) []attribute.KeyValue {
	if connID == "" {
		return nil
	}
	return []attribute.KeyValue{attribute.String(ConnIDKey, connID)}
}
