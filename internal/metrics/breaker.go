// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamkeeper_breaker_state",
		Help: "1 for the current state of each upstream breaker, 0 for the others",
	}, []string{"breaker", "state"})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_breaker_transitions_total",
		Help: "Upstream breaker state changes",
	}, []string{"breaker", "from", "to"})
)

// BreakerStates lists every state label the gauge carries.
var BreakerStates = []string{"closed", "half-open", "open"}

// ObserveBreaker records a transition. An empty from marks the initial state
// and is not counted as a transition.
func ObserveBreaker(name, from, to string) {
	for _, s := range BreakerStates {
		v := 0.0
		if s == to {
			v = 1
		}
		breakerState.WithLabelValues(name, s).Set(v)
	}
	if from != "" {
		breakerTransitions.WithLabelValues(name, from, to).Inc()
	}
}
