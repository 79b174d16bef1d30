package migrate

import (
	"sync"
	"time"

	"github.com/poiesic/vecload/core"
)

// Tracker maintains a job's live progress counters, throughput, and ETA.
// It resumes from persisted progress so a paused job's counters continue
// instead of restarting from zero.
type Tracker struct {
	mu        sync.Mutex
	total     int64
	processed int64
	errors    int64
	batch     int64
	lastKey   string
	startTime time.Time
	// startProcessed is the count carried over from a previous run; the
	// throughput calculation covers only this run's work.
	startProcessed int64
}

// NewTracker creates a tracker seeded from persisted progress.
func NewTracker(prev core.Progress) *Tracker {
	return &Tracker{
		total:          prev.Total,
		processed:      prev.Processed,
		errors:         prev.Errors,
		batch:          prev.CurrentBatch,
		lastKey:        prev.LastKey,
		startTime:      time.Now(),
		startProcessed: prev.Processed,
	}
}

// BatchDone records one finished batch.
func (t *Tracker) BatchDone(processed, errors int, lastKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.processed += int64(processed)
	if t.processed > t.total {
		t.processed = t.total
	}
	t.errors += int64(errors)
	t.batch++
	if lastKey != "" {
		t.lastKey = lastKey
	}
}

// BatchFailed records a batch-level error without advancing the
// checkpoint or the processed count.
func (t *Tracker) BatchFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.errors++
}

// Snapshot returns the progress in its persistable form.
func (t *Tracker) Snapshot() core.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := core.Progress{
		Total:        t.total,
		Processed:    t.processed,
		Errors:       t.errors,
		CurrentBatch: t.batch,
		LastKey:      t.lastKey,
	}
	if t.total > 0 {
		p.Percentage = float64(t.processed) / float64(t.total) * 100.0
	}

	elapsed := time.Since(t.startTime).Seconds()
	done := t.processed - t.startProcessed
	if elapsed > 0 && done > 0 {
		p.RecordsPerSecond = float64(done) / elapsed
		remaining := t.total - t.processed
		if remaining > 0 {
			p.RemainingMinutes = float64(remaining) / p.RecordsPerSecond / 60.0
		}
	}
	return p
}

// Stats summarizes the run so far.
func (t *Tracker) Stats() core.JobStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return core.JobStats{
		TotalProcessed: t.processed,
		TotalErrors:    t.errors,
		Duration:       time.Since(t.startTime),
	}
}
