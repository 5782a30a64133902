// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID    = "request_id"
	FieldConnectionID = "conn_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldHostEvent = "host_event"

	// Relay fields
	FieldInvert  = "invert"
	FieldURL     = "url"
	FieldKey     = "key"
	FieldBackend = "backend"
	FieldTopic   = "topic"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// HTTP fields
	FieldMethod   = "method"
	FieldPath     = "path"
	FieldStatus   = "status"
	FieldDuration = "duration_ms"
)
