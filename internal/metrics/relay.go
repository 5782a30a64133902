// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeIgnored = "ignored"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

var (
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchrelay_events_total",
		Help: "Host lifecycle events handled by the relay, by event and outcome",
	}, []string{"event", "outcome"}) // event=ready|showConfiguration|webviewclosed

	AppMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchrelay_appmessages_total",
		Help: "AppMessages sent towards the paired device by outcome",
	}, []string{"outcome"})

	InvertDisplay = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "watchrelay_invert_display",
		Help: "Current in-memory invert setting (0 or 1)",
	})
)

// RecordEvent counts a handled host event.
func RecordEvent(event, outcome string) {
	EventsTotal.WithLabelValues(event, outcome).Inc()
}

// RecordAppMessage counts an AppMessage send attempt.
func RecordAppMessage(err error) {
	if err != nil {
		AppMessagesTotal.WithLabelValues(OutcomeError).Inc()
		return
	}
	AppMessagesTotal.WithLabelValues(OutcomeOK).Inc()
}

// SetInvertDisplay mirrors the in-memory setting.
func SetInvertDisplay(v int) {
	InvertDisplay.Set(float64(v))
}
