package storage

import (
	"context"

	"github.com/poiesic/vecload/core"
)

// JobRepository provides durable CRUD over migration job records.
// Implementations must be thread-safe and support concurrent access.
//
// Updates are partial by design (status, progress, error-log append) so
// that the run loop's frequent progress writes never race with operator
// control calls over the rest of the record.
type JobRepository interface {
	// SaveJob persists a new job. Returns ErrDuplicateKey if a job with
	// the same ID already exists.
	SaveJob(ctx context.Context, job *core.MigrationJob) error

	// GetJob retrieves a job by ID. Returns ErrNotFound if it doesn't exist.
	GetJob(ctx context.Context, id core.JobID) (*core.MigrationJob, error)

	// ListJobs returns all jobs ordered by creation time, newest first.
	ListJobs(ctx context.Context) ([]*core.MigrationJob, error)

	// UpdateStatus transitions a job to the given status inside a single
	// storage transaction, enforcing the state machine edges. Returns
	// core.ErrInvalidState for an illegal edge, leaving the job unchanged.
	// StartedAt is set on the first transition to running; CompletedAt is
	// set when a terminal status is reached.
	UpdateStatus(ctx context.Context, id core.JobID, status core.JobStatus) (*core.MigrationJob, error)

	// UpdateProgress overwrites a job's progress counters.
	UpdateProgress(ctx context.Context, id core.JobID, progress core.Progress) error

	// AppendErrors appends messages to a job's error log.
	AppendErrors(ctx context.Context, id core.JobID, msgs ...string) error

	// FindActive returns the most recently created job in a non-terminal
	// state, or nil if every job is terminal.
	FindActive(ctx context.Context) (*core.MigrationJob, error)

	// RecoverStale flips jobs left in running state by a crashed process
	// to paused, so the resume planner can take over. Returns the number
	// of jobs recovered.
	RecoverStale(ctx context.Context) (int, error)

	// DeleteJob removes a job. Returns core.ErrInvalidState unless the
	// job is in a terminal status.
	DeleteJob(ctx context.Context, id core.JobID) error

	// Close closes the storage backend and releases resources.
	Close() error
}
