// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveBreaker(t *testing.T) {
	ObserveBreaker("metrics_test", "", "closed")
	ObserveBreaker("metrics_test", "closed", "open")

	assert.Equal(t, 1.0, testutil.ToFloat64(breakerState.WithLabelValues("metrics_test", "open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(breakerState.WithLabelValues("metrics_test", "closed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(breakerState.WithLabelValues("metrics_test", "half-open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(breakerTransitions.WithLabelValues("metrics_test", "closed", "open")))
}

func TestRecordSegmentOutcomeAddsBytes(t *testing.T) {
	before := testutil.ToFloat64(SegmentBytes.WithLabelValues("metrics_test"))
	RecordSegmentOutcome("metrics_test", "done", 1024)
	RecordSegmentOutcome("metrics_test", "failed", 0)

	assert.Equal(t, before+1024, testutil.ToFloat64(SegmentBytes.WithLabelValues("metrics_test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(SegmentOutcomes.WithLabelValues("metrics_test", "failed")))
}

func TestInFlightGauge(t *testing.T) {
	SegmentStarted("gauge_test")
	SegmentStarted("gauge_test")
	SegmentFinished("gauge_test")

	var m dto.Metric
	require.NoError(t, SegmentsInFlight.WithLabelValues("gauge_test").Write(&m))
	assert.Equal(t, 1.0, m.GetGauge().GetValue())
}

func TestSetRecorderState(t *testing.T) {
	all := []string{"idle", "downloading"}
	SetRecorderState("live", "metrics_chan", "downloading", all)
	assert.Equal(t, 1.0, testutil.ToFloat64(recorderState.WithLabelValues("live", "metrics_chan", "downloading")))
	assert.Equal(t, 0.0, testutil.ToFloat64(recorderState.WithLabelValues("live", "metrics_chan", "idle")))
}
