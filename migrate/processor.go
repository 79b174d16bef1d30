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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/vecload/ai"
	"github.com/poiesic/vecload/core"
	"github.com/poiesic/vecload/normalize"
	"github.com/poiesic/vecload/ratelimit"
)

// BatchProcessor enriches one batch of records with embeddings.
//
// Sub-batches are embedded concurrently on the worker pool, every call
// going through the rate limiter. A failed sub-batch leaves its records
// with nil vectors; it never aborts the batch, since the loader stores
// null-vector rows that can be re-embedded later.
type BatchProcessor struct {
	embedder       ai.Embedder
	limiter        ratelimit.Limiter
	expander       *normalize.Expander
	pool           *ants.Pool
	maxRetries     int
	retryBaseDelay time.Duration
	logger         *slog.Logger
}

// NewBatchProcessor creates a batch processor.
// maxRetries: maximum number of attempts for transient embedding failures
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(
	embedder ai.Embedder,
	limiter ratelimit.Limiter,
	expander *normalize.Expander,
	pool *ants.Pool,
	maxRetries int,
	retryBaseDelay time.Duration,
) (*BatchProcessor, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if limiter == nil {
		return nil, ErrLimiterRequired
	}
	if expander == nil {
		expander = normalize.NewExpander(nil)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryBaseDelay <= 0 {
		retryBaseDelay = time.Second
	}

	return &BatchProcessor{
		embedder:       embedder,
		limiter:        limiter,
		expander:       expander,
		pool:           pool,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
		logger:         slog.Default().With("component", "batch-processor"),
	}, nil
}

// Process rewrites each record's embedding text and generates vectors for
// the whole batch. It returns error messages for records whose embedding
// failed; those records keep a nil vector. A non-nil error means the
// failure is a configuration problem (wrong dimensionality) that no
// amount of continuing can fix; the caller must abort the job.
func (bp *BatchProcessor) Process(ctx context.Context, spec core.ProcessingSpec, records []core.Record) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}

	for i := range records {
		records[i].EmbedText = bp.expander.EmbedText(records[i].Text, spec.CleanText, records[i].NoExpand)
	}

	subSize := spec.EmbedBatchSize
	if subSize <= 0 {
		subSize = len(records)
	}

	var (
		mu    sync.Mutex
		errs  []string
		fatal error
		wg    sync.WaitGroup
	)
	for start := 0; start < len(records); start += subSize {
		end := start + subSize
		if end > len(records) {
			end = len(records)
		}
		sub := records[start:end]

		wg.Add(1)
		task := func() {
			defer wg.Done()
			msg, err := bp.embedSubBatch(ctx, sub)
			if msg == "" && err == nil {
				return
			}
			mu.Lock()
			if err != nil && fatal == nil {
				fatal = err
			}
			if msg != "" {
				errs = append(errs, msg)
			}
			mu.Unlock()
		}
		if bp.pool != nil {
			if submitErr := bp.pool.Submit(task); submitErr != nil {
				// pool saturated or released; run on the caller
				task()
			}
		} else {
			task()
		}
	}
	wg.Wait()

	return errs, fatal
}

// embedSubBatch embeds one sub-batch in place. A transient failure comes
// back as an error message and the sub-batch keeps nil vectors; a
// dimension mismatch comes back as an error because it is fatal to the
// whole job.
func (bp *BatchProcessor) embedSubBatch(ctx context.Context, sub []core.Record) (string, error) {
	texts := make([]string, len(sub))
	for i := range sub {
		texts[i] = sub[i].EmbedText
	}

	var vectors [][]float32
	var fatal error
	err := RetryWithBackoff(ctx, func() error {
		execErr := bp.limiter.Execute(ctx, ratelimit.CategoryEmbedding, func(ctx context.Context) error {
			var embedErr error
			vectors, embedErr = bp.embedder.EmbedTexts(ctx, texts)
			return embedErr
		})
		// a dimension mismatch is a configuration problem; retrying
		// cannot fix it
		if errors.Is(execErr, ai.ErrDimensionMismatch) {
			fatal = execErr
			return nil
		}
		return execErr
	}, bp.maxRetries, bp.retryBaseDelay)
	if fatal != nil {
		bp.logger.Error("embedding dimensionality misconfigured", "err", fatal)
		return "", fatal
	}

	if err != nil {
		bp.logger.Warn("embedding sub-batch failed",
			"records", len(sub),
			"first_key", sub[0].Key,
			"err", err)
		return fmt.Sprintf("embedding failed for %d records starting at %s: %v", len(sub), sub[0].Key, err), nil
	}
	if len(vectors) != len(sub) {
		return fmt.Sprintf("embedding count mismatch: expected %d, got %d", len(sub), len(vectors)), nil
	}

	for i := range sub {
		sub[i].Vector = vectors[i]
	}
	return "", nil
}
