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

	"github.com/poiesic/vecload/core"
	"github.com/poiesic/vecload/dest"
	"github.com/poiesic/vecload/source"
)

// ProgressReport describes the destination's migrated contents.
type ProgressReport struct {
	TotalMigrated   int64
	LastMigratedKey string
}

// PendingWork describes what remains beyond a checkpoint.
type PendingWork struct {
	PendingCount int64
	NextBatch    []core.Record
}

// ResumeResult reports what Resume decided.
type ResumeResult struct {
	JobID        core.JobID
	ResumedFrom  string
	TotalPending int64
	// Reused is true when an existing non-terminal job was resumed
	// instead of a fresh one being created.
	Reused bool
}

// Planner computes resume checkpoints from the destination's actual
// contents and builds or reuses jobs to continue interrupted migrations.
type Planner struct {
	ctrl      *Controller
	inspector *dest.Inspector
	logger    *slog.Logger
}

// NewPlanner creates a resume planner over one destination table.
func NewPlanner(ctrl *Controller, inspector *dest.Inspector) *Planner {
	return &Planner{
		ctrl:      ctrl,
		inspector: inspector,
		logger:    slog.Default().With("component", "resume-planner"),
	}
}

// CheckProgress inspects the destination for the migrated count and the
// highest migrated key, under the same exclusion predicate migrations use.
func (p *Planner) CheckProgress(ctx context.Context) (*ProgressReport, error) {
	count, err := p.inspector.MigratedCount(ctx)
	if err != nil {
		return nil, err
	}
	lastKey, err := p.inspector.MaxMigratedKey(ctx)
	if err != nil {
		return nil, err
	}
	return &ProgressReport{TotalMigrated: count, LastMigratedKey: lastKey}, nil
}

// GetPendingWork re-queries the source with the checkpoint predicate
// appended to the job's filter. Ordering by key keeps repeated calls
// idempotent and non-overlapping.
func (p *Planner) GetPendingWork(ctx context.Context, spec core.SourceSpec, lastKey string, limit int) (*PendingWork, error) {
	spec.ResumeAfterKey = lastKey

	reader, err := source.NewReader(p.ctrl.sourceDB, spec)
	if err != nil {
		return nil, err
	}

	count, err := reader.Count(ctx)
	if err != nil {
		return nil, err
	}

	work := &PendingWork{PendingCount: count}
	if count > 0 && limit > 0 {
		work.NextBatch, err = reader.FetchBatch(ctx, "", limit)
		if err != nil {
			return nil, err
		}
	}
	return work, nil
}

// Resume continues an interrupted migration. An existing non-terminal job
// is resumed in place; otherwise, when pending work remains, a fresh job
// is built from the template with the checkpoint predicate applied and
// CleanBefore forced off, then started. Returns nil when nothing is
// pending and no job was made.
func (p *Planner) Resume(ctx context.Context, template *core.MigrationJob) (*ResumeResult, error) {
	existing, err := p.ctrl.repo.FindActive(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		switch existing.Status {
		case core.StatusPaused:
			p.logger.Info("resuming existing paused job", "job", existing.Id.String())
			if err := p.ctrl.Resume(ctx, existing.Id); err != nil {
				return nil, err
			}
		case core.StatusPending:
			p.logger.Info("starting existing pending job", "job", existing.Id.String())
			if err := p.ctrl.Start(ctx, existing.Id); err != nil {
				return nil, err
			}
		case core.StatusRunning:
			p.logger.Info("job already running", "job", existing.Id.String())
		}
		return &ResumeResult{
			JobID:        existing.Id,
			ResumedFrom:  existing.Progress.LastKey,
			TotalPending: existing.Progress.Total - existing.Progress.Processed,
			Reused:       true,
		}, nil
	}

	report, err := p.CheckProgress(ctx)
	if err != nil {
		return nil, err
	}

	work, err := p.GetPendingWork(ctx, template.Source, report.LastMigratedKey, 0)
	if err != nil {
		return nil, err
	}
	if work.PendingCount == 0 {
		p.logger.Info("no pending work, nothing to resume",
			"migrated", report.TotalMigrated,
			"last_key", report.LastMigratedKey)
		return nil, nil
	}

	job := &core.MigrationJob{
		Source:      template.Source,
		Destination: template.Destination,
		Processing:  template.Processing,
	}
	job.Source.ResumeAfterKey = report.LastMigratedKey
	// resuming must never truncate already-migrated data
	job.Destination.CleanBefore = false

	if err := p.ctrl.Create(ctx, job); err != nil {
		return nil, err
	}
	if err := p.ctrl.Start(ctx, job.Id); err != nil {
		return nil, err
	}

	p.logger.Info("resume job started",
		"job", job.Id.String(),
		"resumed_from", report.LastMigratedKey,
		"pending", work.PendingCount)
	return &ResumeResult{
		JobID:        job.Id,
		ResumedFrom:  report.LastMigratedKey,
		TotalPending: work.PendingCount,
	}, nil
}
