// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var StoreOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "watchrelay_store_ops_total",
	Help: "Durable store operations by backend, op and outcome",
}, []string{"backend", "op", "outcome"}) // op=get|set outcome=ok|miss|error

// RecordStoreOp counts a store operation.
func RecordStoreOp(backend, op, outcome string) {
	StoreOpsTotal.WithLabelValues(backend, op, outcome).Inc()
}
