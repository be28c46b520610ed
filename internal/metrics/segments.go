// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SegmentAttempts counts individual download attempts by recorder kind and result.
	SegmentAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_segment_attempts_total",
		Help: "Segment download attempts by kind (live, vod) and result",
	}, []string{"kind", "result"})

	// SegmentOutcomes counts final per-segment outcomes after the retry budget.
	SegmentOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_segment_outcomes_total",
		Help: "Final segment outcomes by kind and outcome (done, failed)",
	}, []string{"kind", "outcome"})

	// SegmentBytes counts bytes written to segment files.
	SegmentBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_segment_bytes_total",
		Help: "Bytes written to segment files by kind",
	}, []string{"kind"})

	// SegmentResumes counts downloads that continued from a partial temp file.
	SegmentResumes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_segment_resumes_total",
		Help: "Segment downloads resumed with a Range request",
	}, []string{"kind"})

	// SegmentsInFlight tracks concurrently running segment downloads.
	SegmentsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamkeeper_segments_in_flight",
		Help: "Segment downloads currently running by kind",
	}, []string{"kind"})
)

// RecordSegmentAttempt records one download attempt.
func RecordSegmentAttempt(kind, result string) {
	SegmentAttempts.WithLabelValues(kind, result).Inc()
}

// RecordSegmentOutcome records the final result of a segment and the bytes written.
func RecordSegmentOutcome(kind, outcome string, written int64) {
	SegmentOutcomes.WithLabelValues(kind, outcome).Inc()
	if written > 0 {
		SegmentBytes.WithLabelValues(kind).Add(float64(written))
	}
}

// RecordSegmentResume records a resumed transfer.
func RecordSegmentResume(kind string) {
	SegmentResumes.WithLabelValues(kind).Inc()
}

// SegmentStarted and SegmentFinished maintain the in-flight gauge.
func SegmentStarted(kind string)  { SegmentsInFlight.WithLabelValues(kind).Inc() }
func SegmentFinished(kind string) { SegmentsInFlight.WithLabelValues(kind).Dec() }
