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

import "errors"

// Error taxonomy for migration jobs. Callers classify with errors.Is.
var (
	// ErrConfiguration indicates a bad mapping or missing table/columns.
	// Fatal: the job never starts.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidState indicates an illegal job status transition.
	// Rejected synchronously; the job is unaffected.
	ErrInvalidState = errors.New("invalid job state")

	// ErrConnection indicates the source or destination is unreachable.
	// Retried at batch granularity until the error budget is exhausted.
	ErrConnection = errors.New("connection error")

	// ErrThrottled indicates the remote service reported a quota limit.
	// Retried transparently inside the rate-limited client.
	ErrThrottled = errors.New("remote service throttled")

	// ErrBatchIntegrity indicates a batch's success rate fell below the
	// configured threshold and the whole batch was rolled back.
	ErrBatchIntegrity = errors.New("batch integrity violation")

	// ErrRecord indicates a single-record failure. Logged, never aborts
	// the batch.
	ErrRecord = errors.New("record error")

	// ErrQueueExpired indicates a queued remote call waited longer than
	// the configured expiration and was dropped without executing.
	ErrQueueExpired = errors.New("queued call expired")
)
