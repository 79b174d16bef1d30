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


package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/vecload/core"
	"github.com/poiesic/vecload/storage"
)

// JobRepository implements storage.JobRepository for BadgerDB.
type JobRepository struct {
	backend *Backend
}

var _ storage.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a new JobRepository.
func NewJobRepository(backend *Backend) *JobRepository {
	return &JobRepository{backend: backend}
}

// Close releases repository resources. The backend is owned by the caller.
func (r *JobRepository) Close() error {
	return nil
}

// SaveJob persists a new job.
func (r *JobRepository) SaveJob(ctx context.Context, job *core.MigrationJob) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeJobKey(job.Id)
		if _, err := tx.Get(key); err == nil {
			return storage.ErrDuplicateKey
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		job.UpdatedAt = time.Now().UTC()
		if err := tx.Set(key, storage.MarshalJob(job)); err != nil {
			return err
		}
		createdKey := makeJobCreatedKey(job.CreatedAt, job.Id)
		if err := tx.Set(createdKey, storage.MarshalJobID(job.Id)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetJob retrieves a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, id core.JobID) (*core.MigrationJob, error) {
	var job *core.MigrationJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		job, err = readJob(tx, id)
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns all jobs ordered by creation time, newest first.
func (r *JobRepository) ListJobs(ctx context.Context) ([]*core.MigrationJob, error) {
	var ids []core.JobID
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobCreatedPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				id, err := storage.UnmarshalJobID(val)
				if err != nil {
					return err
				}
				ids = append(ids, id)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	// The index is ordered oldest first; reverse for newest first.
	jobs := make([]*core.MigrationJob, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		job, err := r.GetJob(ctx, ids[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// UpdateStatus transitions a job to the given status, enforcing the state
// machine inside a single read-modify-write transaction.
func (r *JobRepository) UpdateStatus(ctx context.Context, id core.JobID, status core.JobStatus) (*core.MigrationJob, error) {
	var job *core.MigrationJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		job, err = readJob(tx, id)
		if err != nil {
			return err
		}
		if err := core.ValidateTransition(job.Status, status); err != nil {
			return err
		}

		now := time.Now().UTC()
		job.Status = status
		job.UpdatedAt = now
		if status == core.StatusRunning && job.StartedAt.IsZero() {
			job.StartedAt = now
		}
		if status.IsTerminal() {
			job.CompletedAt = now
		}

		if err := tx.Set(makeJobKey(id), storage.MarshalJob(job)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateProgress overwrites a job's progress counters.
func (r *JobRepository) UpdateProgress(ctx context.Context, id core.JobID, progress core.Progress) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		job, err := readJob(tx, id)
		if err != nil {
			return err
		}
		job.Progress = progress
		job.UpdatedAt = time.Now().UTC()
		if err := tx.Set(makeJobKey(id), storage.MarshalJob(job)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// AppendErrors appends messages to a job's error log.
func (r *JobRepository) AppendErrors(ctx context.Context, id core.JobID, msgs ...string) error {
	if len(msgs) == 0 {
		return nil
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		job, err := readJob(tx, id)
		if err != nil {
			return err
		}
		job.ErrorLog = append(job.ErrorLog, msgs...)
		job.UpdatedAt = time.Now().UTC()
		if err := tx.Set(makeJobKey(id), storage.MarshalJob(job)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// FindActive returns the most recently created non-terminal job, or nil.
func (r *JobRepository) FindActive(ctx context.Context) (*core.MigrationJob, error) {
	jobs, err := r.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if !job.Status.IsTerminal() {
			return job, nil
		}
	}
	return nil, nil
}

// RecoverStale flips jobs left running by a crashed process to paused.
func (r *JobRepository) RecoverStale(ctx context.Context) (int, error) {
	jobs, err := r.ListJobs(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, job := range jobs {
		if job.Status != core.StatusRunning {
			continue
		}
		if _, err := r.UpdateStatus(ctx, job.Id, core.StatusPaused); err != nil {
			return recovered, fmt.Errorf("recover job %s: %w", job.Id, err)
		}
		recovered++
	}
	return recovered, nil
}

// DeleteJob removes a terminal job.
func (r *JobRepository) DeleteJob(ctx context.Context, id core.JobID) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		job, err := readJob(tx, id)
		if err != nil {
			return err
		}
		if !job.Status.IsTerminal() {
			return fmt.Errorf("%w: cannot delete %s job", core.ErrInvalidState, job.Status)
		}
		if err := tx.Delete(makeJobKey(id)); err != nil {
			return err
		}
		if err := tx.Delete(makeJobCreatedKey(job.CreatedAt, id)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// readJob reads and unmarshals a job inside a transaction.
func readJob(tx *badger.Txn, id core.JobID) (*core.MigrationJob, error) {
	item, err := tx.Get(makeJobKey(id))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	var job *core.MigrationJob
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		job, unmarshalErr = storage.UnmarshalJob(val)
		return unmarshalErr
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}
