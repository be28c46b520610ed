// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JournalOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_journal_operations_total",
		Help: "Journal operations by backend, operation and result",
	}, []string{"backend", "op", "result"})
)

// RecordJournalOp counts one journal call.
func RecordJournalOp(backend, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	JournalOps.WithLabelValues(backend, op, result).Inc()
}
