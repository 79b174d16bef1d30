// Copyright 2025 Poiesic Systems
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


package core

import "fmt"

// validTransitions defines the job status state machine.
// pending -> running, cancelled
// running -> paused, completed, failed, cancelled
// paused  -> running, cancelled
// Terminal statuses have no outgoing edges.
var validTransitions = map[JobStatus][]JobStatus{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:  {StatusRunning, StatusCancelled},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidState if from -> to is not a legal
// edge. The caller's job status must be left unchanged on error.
func ValidateTransition(from, to JobStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidState, from, to)
	}
	return nil
}

// ValidateJobConfig validates a job's specs according to domain rules.
//
// Validation rules:
//   - source and destination tables must be named
//   - the column mapping must be non-empty and include the key and text columns
//   - batch sizes must be positive, the error budget non-negative
//   - SuccessThreshold must lie in [0, 1] (0 selects the default)
//   - CleanBefore is rejected on resumed jobs: truncating the destination
//     after a partial migration would destroy already-migrated data
//
// NOT validated (checked against the live schema by the source reader):
//   - existence of the mapped columns
func ValidateJobConfig(job *MigrationJob) error {
	if job == nil {
		return fmt.Errorf("%w: job is nil", ErrConfiguration)
	}
	if job.Source.Table == "" {
		return fmt.Errorf("%w: source table is required", ErrConfiguration)
	}
	if job.Destination.Table == "" {
		return fmt.Errorf("%w: destination table is required", ErrConfiguration)
	}
	if len(job.Source.Columns) == 0 {
		return fmt.Errorf("%w: column mapping is required", ErrConfiguration)
	}
	if job.Source.KeyColumn == "" {
		return fmt.Errorf("%w: key column is required", ErrConfiguration)
	}
	if _, ok := job.Source.Columns[job.Source.KeyColumn]; !ok {
		return fmt.Errorf("%w: key column %q is not in the column mapping", ErrConfiguration, job.Source.KeyColumn)
	}
	if job.Source.TextColumn == "" {
		return fmt.Errorf("%w: text column is required", ErrConfiguration)
	}
	if _, ok := job.Source.Columns[job.Source.TextColumn]; !ok {
		return fmt.Errorf("%w: text column %q is not in the column mapping", ErrConfiguration, job.Source.TextColumn)
	}
	if job.Processing.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be greater than 0", ErrConfiguration)
	}
	if job.Processing.EmbedBatchSize <= 0 {
		return fmt.Errorf("%w: embed batch size must be greater than 0", ErrConfiguration)
	}
	if job.Processing.MaxConsecutiveErrors < 0 {
		return fmt.Errorf("%w: consecutive error budget must not be negative", ErrConfiguration)
	}
	if job.Processing.SuccessThreshold < 0 || job.Processing.SuccessThreshold > 1 {
		return fmt.Errorf("%w: success threshold must be between 0 and 1", ErrConfiguration)
	}
	if job.Destination.CleanBefore && job.Source.ResumeAfterKey != "" {
		return fmt.Errorf("%w: clean-before is not allowed on a resumed job", ErrConfiguration)
	}
	return nil
}
