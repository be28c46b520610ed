// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vod

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/streamkeeper/internal/metrics"
)

const defaultWorkers = 4

// task is one segment queued for download.
type task struct {
	// name is the playlist entry after the muted rewrite; it keys the completed set.
	name     string
	target   string
	url      string
	seq      int64
	duration float64
	ts       time.Time
}

// pool drains a batch of tasks with a fixed number of workers.
type pool struct {
	workers int
	handle  func(ctx context.Context, t task) bool

	// inflight dedupe within a batch
	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

func newPool(workers int, handle func(ctx context.Context, t task) bool) *pool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &pool{
		workers:  workers,
		handle:   handle,
		inflight: make(map[string]struct{}),
	}
}

// run blocks until every task was handled or ctx ended, and returns the number
// of tasks handled successfully.
func (p *pool) run(ctx context.Context, tasks []task) int {
	if len(tasks) == 0 {
		return 0
	}
	jobs := make(chan task)
	var ok atomic.Int32
	var wg sync.WaitGroup

	n := p.workers
	if len(tasks) < n {
		n = len(tasks)
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				if ctx.Err() != nil {
					p.clearInflight(t.target)
					continue
				}
				metrics.VodPoolWorkerBusy()
				if p.handle(ctx, t) {
					ok.Add(1)
				}
				metrics.VodPoolWorkerIdle()
				p.clearInflight(t.target)
			}
		}()
	}

feed:
	for _, t := range tasks {
		if !p.markInflight(t.target) {
			continue
		}
		select {
		case <-ctx.Done():
			p.clearInflight(t.target)
			break feed
		case jobs <- t:
		}
	}
	close(jobs)
	wg.Wait()
	return int(ok.Load())
}

func (p *pool) markInflight(target string) bool {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	if _, ok := p.inflight[target]; ok {
		return false
	}
	p.inflight[target] = struct{}{}
	return true
}

func (p *pool) clearInflight(target string) {
	p.inflightMu.Lock()
	delete(p.inflight, target)
	p.inflightMu.Unlock()
}
