// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getGaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, gauge.Write(metric))
	return metric.GetGauge().GetValue()
}

func getCounterVecValue(t *testing.T, counterVec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, counterVec.WithLabelValues(labels...).Write(metric))
	return metric.GetCounter().GetValue()
}

func TestRecordEvent(t *testing.T) {
	before := getCounterVecValue(t, EventsTotal, "webviewclosed", OutcomeInvalid)
	RecordEvent("webviewclosed", OutcomeInvalid)
	RecordEvent("webviewclosed", OutcomeInvalid)
	assert.Equal(t, before+2, getCounterVecValue(t, EventsTotal, "webviewclosed", OutcomeInvalid))
}

func TestRecordAppMessage(t *testing.T) {
	okBefore := getCounterVecValue(t, AppMessagesTotal, OutcomeOK)
	errBefore := getCounterVecValue(t, AppMessagesTotal, OutcomeError)

	RecordAppMessage(nil)
	RecordAppMessage(errors.New("bus closed"))

	assert.Equal(t, okBefore+1, getCounterVecValue(t, AppMessagesTotal, OutcomeOK))
	assert.Equal(t, errBefore+1, getCounterVecValue(t, AppMessagesTotal, OutcomeError))
}

func TestSetInvertDisplay(t *testing.T) {
	SetInvertDisplay(1)
	assert.Equal(t, 1.0, getGaugeValue(t, InvertDisplay))
	SetInvertDisplay(0)
	assert.Equal(t, 0.0, getGaugeValue(t, InvertDisplay))
}

func TestIncBusDropReason_DefaultsLabels(t *testing.T) {
	before := getCounterVecValue(t, BusDroppedTotal, "unknown", "unknown")
	IncBusDropReason("", "")
	assert.Equal(t, before+1, getCounterVecValue(t, BusDroppedTotal, "unknown", "unknown"))
}

func TestIncBusPublished(t *testing.T) {
	before := getCounterVecValue(t, BusPublishedTotal, "device.appmessage", "memory")
	IncBusPublished("device.appmessage", "memory")
	assert.Equal(t, before+1, getCounterVecValue(t, BusPublishedTotal, "device.appmessage", "memory"))
}

func TestRecordStoreOp(t *testing.T) {
	before := getCounterVecValue(t, StoreOpsTotal, "sqlite", "get", "miss")
	RecordStoreOp("sqlite", "get", "miss")
	assert.Equal(t, before+1, getCounterVecValue(t, StoreOpsTotal, "sqlite", "get", "miss"))
}
