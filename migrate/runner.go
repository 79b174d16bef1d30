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

package migrate

import (
	"context"
	"log/slog"
	"time"

	"github.com/poiesic/vecload/core"
	"github.com/poiesic/vecload/dest"
	"github.com/poiesic/vecload/source"
	"github.com/poiesic/vecload/storage"
)

type controlSignal int

const (
	signalPause controlSignal = iota + 1
	signalCancel
)

// runner owns one job's run loop. Control requests arrive on the control
// channel and are observed at batch boundaries only, so an in-flight
// batch always finishes or fails cleanly before the loop stops.
type runner struct {
	job     *core.MigrationJob
	repo    storage.JobRepository
	reader  *source.Reader
	loader  *dest.Loader
	proc    *BatchProcessor
	control chan controlSignal
	done    chan struct{}
	logger  *slog.Logger
}

func newRunner(job *core.MigrationJob, repo storage.JobRepository, reader *source.Reader, loader *dest.Loader, proc *BatchProcessor) *runner {
	return &runner{
		job:     job,
		repo:    repo,
		reader:  reader,
		loader:  loader,
		proc:    proc,
		control: make(chan controlSignal, 2),
		done:    make(chan struct{}),
		logger: slog.Default().With(
			"component", "job-runner",
			"job", job.Id.String()),
	}
}

// signal delivers a control request without blocking. Returns false if
// the control queue is full.
func (r *runner) signal(s controlSignal) bool {
	select {
	case r.control <- s:
		return true
	default:
		return false
	}
}

// pending drains queued control signals. Cancel wins over pause.
func (r *runner) pending() (cancelled, paused bool) {
	for {
		select {
		case sig := <-r.control:
			switch sig {
			case signalCancel:
				cancelled = true
			case signalPause:
				paused = true
			}
		default:
			return cancelled, paused
		}
	}
}

// run drives the job until exhaustion, failure, or a control request.
// The caller must have already transitioned the job to running.
func (r *runner) run(ctx context.Context) {
	defer close(r.done)

	job := r.job
	tracker := NewTracker(job.Progress)
	afterKey := job.Progress.LastKey
	consecutive := 0

	if err := r.loader.EnsureSchema(ctx); err != nil {
		r.fail(ctx, tracker, err)
		return
	}
	// Clean only on a genuinely fresh run. A resumed job must never
	// truncate already-migrated data.
	if job.Destination.CleanBefore && afterKey == "" && job.Source.ResumeAfterKey == "" && job.Progress.Processed == 0 {
		if err := r.loader.Clean(ctx); err != nil {
			r.fail(ctx, tracker, err)
			return
		}
	}

	r.logger.Info("run loop started",
		"after_key", afterKey,
		"batch_size", job.Processing.BatchSize,
		"total", tracker.Snapshot().Total)

	for {
		if cancelled, paused := r.pending(); cancelled || paused {
			if cancelled {
				r.stop(ctx, tracker, core.StatusCancelled)
			} else {
				r.stop(ctx, tracker, core.StatusPaused)
			}
			return
		}
		if ctx.Err() != nil {
			// engine shutdown; leave the job resumable
			r.stop(context.WithoutCancel(ctx), tracker, core.StatusPaused)
			return
		}

		records, err := r.reader.FetchBatch(ctx, afterKey, job.Processing.BatchSize)
		if err != nil {
			if !r.batchFailed(ctx, tracker, err, &consecutive) {
				return
			}
			r.sleep(ctx, job.Processing.BatchDelay)
			continue
		}
		if len(records) == 0 {
			r.finalize(ctx, tracker)
			return
		}

		embedErrs, procErr := r.proc.Process(ctx, job.Processing, records)
		if procErr != nil {
			// misconfigured dimensionality; continuing would migrate the
			// whole catalog with null vectors
			if len(embedErrs) > 0 {
				_ = r.repo.AppendErrors(ctx, job.Id, embedErrs...)
			}
			r.fail(ctx, tracker, procErr)
			return
		}

		result, err := r.loader.LoadBatch(ctx, records)
		if err != nil {
			if len(embedErrs) > 0 {
				_ = r.repo.AppendErrors(ctx, job.Id, embedErrs...)
			}
			// the batch was rolled back or never written; afterKey stays
			// put so the next iteration retries the same batch
			if !r.batchFailed(ctx, tracker, err, &consecutive) {
				return
			}
			r.sleep(ctx, job.Processing.BatchDelay)
			continue
		}

		consecutive = 0
		lastKey := records[len(records)-1].Key
		tracker.BatchDone(len(records), len(embedErrs)+len(result.Errors), lastKey)
		afterKey = lastKey

		if err := r.persist(ctx, tracker, append(embedErrs, result.Errors...)); err != nil {
			r.logger.Error("failed to persist progress", "err", err)
		}

		r.sleep(ctx, job.Processing.BatchDelay)
	}
}

// batchFailed records a per-batch error and reports whether the loop may
// continue. Once the consecutive-error budget is exhausted the job
// transitions to failed and false is returned.
func (r *runner) batchFailed(ctx context.Context, tracker *Tracker, err error, consecutive *int) bool {
	*consecutive++
	tracker.BatchFailed()
	r.logger.Warn("batch failed",
		"consecutive", *consecutive,
		"budget", r.job.Processing.MaxConsecutiveErrors,
		"err", err)
	_ = r.repo.AppendErrors(ctx, r.job.Id, err.Error())
	_ = r.repo.UpdateProgress(ctx, r.job.Id, tracker.Snapshot())

	if *consecutive > r.job.Processing.MaxConsecutiveErrors {
		r.fail(ctx, tracker, err)
		return false
	}
	return true
}

func (r *runner) fail(ctx context.Context, tracker *Tracker, err error) {
	r.logger.Error("job failed", "err", err)
	_ = r.repo.AppendErrors(ctx, r.job.Id, "fatal: "+err.Error())
	_ = r.repo.UpdateProgress(ctx, r.job.Id, tracker.Snapshot())
	if _, uerr := r.repo.UpdateStatus(ctx, r.job.Id, core.StatusFailed); uerr != nil {
		r.logger.Error("failed to mark job failed", "err", uerr)
	}
}

// stop persists progress and moves the job to the requested resting state.
func (r *runner) stop(ctx context.Context, tracker *Tracker, status core.JobStatus) {
	_ = r.repo.UpdateProgress(ctx, r.job.Id, tracker.Snapshot())
	if _, err := r.repo.UpdateStatus(ctx, r.job.Id, status); err != nil {
		r.logger.Error("failed to update status", "status", status.String(), "err", err)
		return
	}
	r.logger.Info("run loop stopped", "status", status.String())
}

// finalize handles source exhaustion: optional index build, final
// progress, and the completed transition.
func (r *runner) finalize(ctx context.Context, tracker *Tracker) {
	if r.job.Destination.CreateIndexes {
		if err := r.loader.CreateIndexes(ctx); err != nil {
			r.logger.Error("index build failed", "err", err)
			_ = r.repo.AppendErrors(ctx, r.job.Id, "index build: "+err.Error())
		}
	}

	_ = r.repo.UpdateProgress(ctx, r.job.Id, tracker.Snapshot())
	if _, err := r.repo.UpdateStatus(ctx, r.job.Id, core.StatusCompleted); err != nil {
		r.logger.Error("failed to mark job completed", "err", err)
		return
	}

	stats := tracker.Stats()
	r.logger.Info("job completed",
		"processed", stats.TotalProcessed,
		"errors", stats.TotalErrors,
		"duration", stats.Duration)
}

func (r *runner) persist(ctx context.Context, tracker *Tracker, errs []string) error {
	if len(errs) > 0 {
		if err := r.repo.AppendErrors(ctx, r.job.Id, errs...); err != nil {
			return err
		}
	}
	return r.repo.UpdateProgress(ctx, r.job.Id, tracker.Snapshot())
}

// sleep waits out the inter-batch delay, returning early on cancellation.
func (r *runner) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
