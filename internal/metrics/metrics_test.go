// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStateToFloatMapsKnownStates(t *testing.T) {
	assert.Equal(t, float64(0), stateToFloat("closed"))
	assert.Equal(t, float64(1), stateToFloat("open"))
	assert.Equal(t, float64(2), stateToFloat("half-open"))
	assert.Equal(t, float64(-1), stateToFloat("unknown"))
}

func TestSetCircuitBreakerStateUpdatesGauge(t *testing.T) {
	SetCircuitBreakerState("provider-a", "open")
	assert.Equal(t, float64(1), testutil.ToFloat64(CircuitBreakerState.WithLabelValues("provider-a")))

	SetCircuitBreakerState("provider-a", "closed")
	assert.Equal(t, float64(0), testutil.ToFloat64(CircuitBreakerState.WithLabelValues("provider-a")))
}

func TestSetCircuitBreakerStatusRecordsOrdinal(t *testing.T) {
	SetCircuitBreakerStatus("provider-b", 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(CircuitBreakerState.WithLabelValues("provider-b")))
}

func TestRecordCircuitBreakerTripIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(CircuitBreakerTripsTotal.WithLabelValues("provider-c", "timeout"))
	RecordCircuitBreakerTrip("provider-c", "timeout")
	after := testutil.ToFloat64(CircuitBreakerTripsTotal.WithLabelValues("provider-c", "timeout"))
	assert.Equal(t, before+1, after)
}

func TestIncProcTerminateIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(ProcTerminateTotal.WithLabelValues("SIGTERM", "exited"))
	IncProcTerminate("SIGTERM", "exited")
	after := testutil.ToFloat64(ProcTerminateTotal.WithLabelValues("SIGTERM", "exited"))
	assert.Equal(t, before+1, after)
}

func TestIncProcWaitIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(ProcWaitTotal.WithLabelValues("ok"))
	IncProcWait("ok")
	after := testutil.ToFloat64(ProcWaitTotal.WithLabelValues("ok"))
	assert.Equal(t, before+1, after)
}
