// Copyright 2026 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// Snapshot holds the counters accumulated during one reporting tick.
type Snapshot struct {
	TotalRequests  int64
	Queued         int64
	ThrottleHits   int64
	AverageLatency time.Duration
}

// Stats accumulates request counters. Counters other than the queued
// gauge reset on every Snapshot so ticks report per-interval activity.
type Stats struct {
	mu         sync.Mutex
	total      int64
	queued     int64
	throttled  int64
	latencySum time.Duration
	latencyN   int64
}

// NewStats creates an empty counter set.
func NewStats() *Stats {
	return &Stats{}
}

// Enqueued records a call entering the wait queue.
func (s *Stats) Enqueued() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued++
}

// Dequeued records a call leaving the wait queue.
func (s *Stats) Dequeued() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued--
}

// Throttled records a throttling response from the remote service.
func (s *Stats) Throttled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.throttled++
}

// Completed records a finished call and its latency.
func (s *Stats) Completed(latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.latencySum += latency
	s.latencyN++
}

// SnapshotAndReset returns the current counters and resets everything
// except the queued gauge.
func (s *Stats) SnapshotAndReset() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		TotalRequests: s.total,
		Queued:        s.queued,
		ThrottleHits:  s.throttled,
	}
	if s.latencyN > 0 {
		snap.AverageLatency = s.latencySum / time.Duration(s.latencyN)
	}

	s.total = 0
	s.throttled = 0
	s.latencySum = 0
	s.latencyN = 0
	return snap
}

// Reporter logs a Snapshot on a fixed cadence.
type Reporter struct {
	stats    *Stats
	interval time.Duration
	logger   *slog.Logger
	done     chan struct{}
	stopped  sync.Once
}

// NewReporter creates a reporter. Call Start to begin reporting.
func NewReporter(stats *Stats, interval time.Duration, logger *slog.Logger) *Reporter {
	return &Reporter{
		stats:    stats,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the reporting goroutine.
func (r *Reporter) Start() {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				snap := r.stats.SnapshotAndReset()
				r.logger.Info("remote client counters",
					"requests", snap.TotalRequests,
					"queued", snap.Queued,
					"throttle_hits", snap.ThrottleHits,
					"avg_latency", snap.AverageLatency)
			}
		}
	}()
}

// Stop terminates the reporting goroutine. Safe to call more than once.
func (r *Reporter) Stop() {
	r.stopped.Do(func() {
		close(r.done)
	})
}
