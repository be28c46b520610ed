// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recorderState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamkeeper_recorder_state",
		Help: "Recorder state per channel (1 for the active state, 0 otherwise)",
	}, []string{"recorder", "channel", "state"})

	recorderSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_recorder_sessions_total",
		Help: "Finished recorder sessions by recorder and result",
	}, []string{"recorder", "result"})

	playlistResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_playlist_resolutions_total",
		Help: "Playlist resolutions by path (live, vod), source and result",
	}, []string{"path", "source", "result"})

	liveReresolves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_live_reresolves_total",
		Help: "Live playlist re-resolutions by trigger (congestion, empty, error)",
	}, []string{"trigger"})

	vodActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamkeeper_vod_recorders_active",
		Help: "Number of VOD recorders currently running",
	})

	vodPoolBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamkeeper_vod_pool_busy_workers",
		Help: "VOD pool workers currently fetching a segment",
	})
)

// SetRecorderState marks state as active for recorder/channel and clears the others.
func SetRecorderState(recorder, channel, state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1.0
		}
		recorderState.WithLabelValues(recorder, channel, s).Set(v)
	}
}

// RecordRecorderSession counts a finished session.
func RecordRecorderSession(recorder, result string) {
	recorderSessions.WithLabelValues(recorder, result).Inc()
}

// RecordPlaylistResolution counts a resolver outcome.
func RecordPlaylistResolution(path, source, result string) {
	playlistResolutions.WithLabelValues(path, source, result).Inc()
}

// RecordLiveReresolve counts a forced live re-resolution.
func RecordLiveReresolve(trigger string) {
	liveReresolves.WithLabelValues(trigger).Inc()
}

// SetVodActive reports the number of running VOD recorders.
func SetVodActive(n int) {
	vodActive.Set(float64(n))
}

// VodPoolWorkerBusy and VodPoolWorkerIdle track busy pool workers.
func VodPoolWorkerBusy() { vodPoolBusy.Inc() }
func VodPoolWorkerIdle() { vodPoolBusy.Dec() }
