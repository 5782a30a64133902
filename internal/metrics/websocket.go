// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "watchrelay_ws_connections",
		Help: "Companion websocket connections currently open",
	})

	WSFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchrelay_ws_frames_total",
		Help: "Websocket frames by direction and outcome",
	}, []string{"direction", "outcome"}) // direction=in|out
)
