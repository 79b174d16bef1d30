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
	"database/sql"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/vecload/ai"
	"github.com/poiesic/vecload/core"
	"github.com/poiesic/vecload/dest"
	"github.com/poiesic/vecload/normalize"
	"github.com/poiesic/vecload/ratelimit"
	"github.com/poiesic/vecload/source"
	"github.com/poiesic/vecload/storage"
)

// Controller owns the migration job lifecycle: creation, the state
// machine, and one run loop per started job.
type Controller struct {
	repo     storage.JobRepository
	sourceDB *sql.DB
	destDB   *sql.DB
	embedder ai.Embedder
	limiter  ratelimit.Limiter
	expander *normalize.Expander
	pool     *ants.Pool
	logger   *slog.Logger

	maxRetries     int
	retryBaseDelay time.Duration

	// runCtx governs every run loop; Release cancels it so loops park
	// their jobs as paused on shutdown.
	runCtx    context.Context
	runCancel context.CancelFunc

	mu     sync.Mutex
	active map[core.JobID]*runner
}

// Option configures a Controller.
type Option func(*Controller) error

// WithPoolSize sets the worker pool size for concurrent embedding.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(c *Controller) error {
		if size < 1 {
			size = 1
		}
		if c.pool != nil {
			c.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		c.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// WithDictionary sets the abbreviation dictionary used to rewrite text
// before embedding. Default is an empty dictionary (no expansion).
func WithDictionary(dictionary map[string]string) Option {
	return func(c *Controller) error {
		c.expander = normalize.NewExpander(dictionary)
		return nil
	}
}

// WithRetryPolicy sets the retry budget for transient embedding failures.
func WithRetryPolicy(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Controller) error {
		if maxRetries <= 0 {
			return ErrInvalidMaxAttempts
		}
		c.maxRetries = maxRetries
		c.retryBaseDelay = baseDelay
		return nil
	}
}

// NewController creates a migration controller.
func NewController(
	repo storage.JobRepository,
	sourceDB *sql.DB,
	destDB *sql.DB,
	embedder ai.Embedder,
	limiter ratelimit.Limiter,
	opts ...Option,
) (*Controller, error) {
	if repo == nil {
		return nil, ErrJobRepositoryRequired
	}
	if sourceDB == nil {
		return nil, ErrSourceRequired
	}
	if destDB == nil {
		return nil, ErrDestinationRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if limiter == nil {
		return nil, ErrLimiterRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	c := &Controller{
		runCtx:         runCtx,
		runCancel:      runCancel,
		repo:           repo,
		sourceDB:       sourceDB,
		destDB:         destDB,
		embedder:       embedder,
		limiter:        limiter,
		expander:       normalize.NewExpander(nil),
		pool:           pool,
		logger:         slog.Default(),
		maxRetries:     3,
		retryBaseDelay: time.Second,
		active:         make(map[core.JobID]*runner),
	}

	for _, opt := range opts {
		if optErr := opt(c); optErr != nil {
			c.pool.Release()
			return nil, optErr
		}
	}

	return c, nil
}

// Release cancels every run loop (their jobs park as paused) and stops
// the worker pool.
func (c *Controller) Release() {
	c.runCancel()

	c.mu.Lock()
	waiting := make([]*runner, 0, len(c.active))
	for _, r := range c.active {
		waiting = append(waiting, r)
	}
	c.mu.Unlock()
	for _, r := range waiting {
		<-r.done
	}

	if c.pool != nil {
		c.pool.Release()
	}
}

// Create validates the configuration against the live source schema,
// computes the job's total via a count query, and persists a new pending
// job. The job's ID is assigned here.
func (c *Controller) Create(ctx context.Context, job *core.MigrationJob) error {
	if err := core.ValidateJobConfig(job); err != nil {
		return err
	}

	reader, err := source.NewReader(c.sourceDB, job.Source)
	if err != nil {
		return err
	}
	if err := reader.ValidateSchema(ctx); err != nil {
		return err
	}

	total, err := reader.Count(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	job.Id = core.NewJobID(job.Destination.Table, now)
	job.Status = core.StatusPending
	job.CreatedAt = now
	job.Progress = core.Progress{Total: total}

	if err := c.repo.SaveJob(ctx, job); err != nil {
		return err
	}

	c.logger.Info("job created",
		"job", job.Id.String(),
		"source_table", job.Source.Table,
		"destination_table", job.Destination.Table,
		"total", total)
	return nil
}

// Start launches a pending job's run loop asynchronously. Callers observe
// progress by polling Get.
func (c *Controller) Start(ctx context.Context, id core.JobID) error {
	job, err := c.repo.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != core.StatusPending {
		return fmt.Errorf("%w: cannot start a %s job", core.ErrInvalidState, job.Status)
	}
	return c.launch(ctx, job)
}

// Pause requests a running job to stop at the next batch boundary. The
// in-flight batch finishes cleanly; the transition to paused happens in
// the run loop.
func (c *Controller) Pause(ctx context.Context, id core.JobID) error {
	job, err := c.repo.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != core.StatusRunning {
		return fmt.Errorf("%w: cannot pause a %s job", core.ErrInvalidState, job.Status)
	}

	c.mu.Lock()
	r, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		// running status with no loop means a previous process died;
		// flip straight to paused so the planner can resume
		_, err := c.repo.UpdateStatus(ctx, id, core.StatusPaused)
		return err
	}
	if !r.signal(signalPause) {
		return fmt.Errorf("%w: control request already pending", core.ErrInvalidState)
	}
	return nil
}

// Resume re-enters a paused job's run loop from its persisted progress.
func (c *Controller) Resume(ctx context.Context, id core.JobID) error {
	job, err := c.repo.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != core.StatusPaused {
		return fmt.Errorf("%w: cannot resume a %s job", core.ErrInvalidState, job.Status)
	}
	return c.launch(ctx, job)
}

// Cancel stops a job permanently. A running job cancels at the next batch
// boundary; a pending or paused job cancels immediately.
func (c *Controller) Cancel(ctx context.Context, id core.JobID) error {
	job, err := c.repo.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot cancel a %s job", core.ErrInvalidState, job.Status)
	}

	c.mu.Lock()
	r, ok := c.active[id]
	c.mu.Unlock()
	if ok {
		if !r.signal(signalCancel) {
			return fmt.Errorf("%w: control request already pending", core.ErrInvalidState)
		}
		return nil
	}

	_, err = c.repo.UpdateStatus(ctx, id, core.StatusCancelled)
	return err
}

// Delete removes a terminal job's record. Active jobs cannot be deleted.
func (c *Controller) Delete(ctx context.Context, id core.JobID) error {
	return c.repo.DeleteJob(ctx, id)
}

// Get returns a job by ID.
func (c *Controller) Get(ctx context.Context, id core.JobID) (*core.MigrationJob, error) {
	return c.repo.GetJob(ctx, id)
}

// List returns all jobs, newest first.
func (c *Controller) List(ctx context.Context) ([]*core.MigrationJob, error) {
	return c.repo.ListJobs(ctx)
}

// Wait blocks until the job's run loop has exited, or the context ends.
// It returns immediately when no loop is active for the job.
func (c *Controller) Wait(ctx context.Context, id core.JobID) error {
	c.mu.Lock()
	r, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// launch transitions the job to running and starts its run loop. At most
// one loop per job id may be active.
func (c *Controller) launch(ctx context.Context, job *core.MigrationJob) error {
	c.mu.Lock()
	if _, running := c.active[job.Id]; running {
		c.mu.Unlock()
		return fmt.Errorf("%w: job %s is already running", core.ErrInvalidState, job.Id)
	}
	c.mu.Unlock()

	reader, err := source.NewReader(c.sourceDB, job.Source)
	if err != nil {
		return err
	}
	loader, err := dest.NewLoader(c.destDB, job.Destination, job.Source, job.Threshold())
	if err != nil {
		return err
	}
	proc, err := NewBatchProcessor(c.embedder, c.limiter, c.expander, c.pool, c.maxRetries, c.retryBaseDelay)
	if err != nil {
		return err
	}

	updated, err := c.repo.UpdateStatus(ctx, job.Id, core.StatusRunning)
	if err != nil {
		return err
	}

	r := newRunner(updated, c.repo, reader, loader, proc)
	c.mu.Lock()
	c.active[job.Id] = r
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.active, job.Id)
			c.mu.Unlock()
		}()
		r.run(c.runCtx)
	}()

	return nil
}
