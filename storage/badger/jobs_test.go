package badger

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/vecload/core"
	"github.com/poiesic/vecload/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRepo(t *testing.T) storage.JobRepository {
	t.Helper()
	repo, backend, err := NewMemoryJobRepository()
	require.NoError(t, err)
	t.Cleanup(func() {
		repo.Close()
		backend.Close()
	})
	return repo
}

func newTestJob(createdAt time.Time) *core.MigrationJob {
	return &core.MigrationJob{
		Id:     core.NewJobID("products_vec", createdAt),
		Status: core.StatusPending,
		Source: core.SourceSpec{
			Table:      "products",
			Columns:    map[string]string{"code": "code", "description": "description"},
			KeyColumn:  "code",
			TextColumn: "description",
		},
		Destination: core.DestinationSpec{Table: "products_vec"},
		Processing:  core.ProcessingSpec{BatchSize: 100, EmbedBatchSize: 10},
		CreatedAt:   createdAt,
	}
}

func TestJobRepository_SaveAndGet(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	job := newTestJob(time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, repo.SaveJob(ctx, job))

	got, err := repo.GetJob(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, job.Id, got.Id)
	assert.Equal(t, core.StatusPending, got.Status)
	assert.Equal(t, job.Source, got.Source)
}

func TestJobRepository_SaveDuplicate(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	job := newTestJob(time.Now().UTC())
	require.NoError(t, repo.SaveJob(ctx, job))

	err := repo.SaveJob(ctx, job)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestJobRepository_GetMissing(t *testing.T) {
	repo := setupTestRepo(t)

	_, err := repo.GetJob(context.Background(), core.JobID(999))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJobRepository_ListNewestFirst(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	older := newTestJob(base.Add(-time.Hour))
	newer := newTestJob(base)
	require.NoError(t, repo.SaveJob(ctx, older))
	require.NoError(t, repo.SaveJob(ctx, newer))

	jobs, err := repo.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, newer.Id, jobs[0].Id)
	assert.Equal(t, older.Id, jobs[1].Id)
}

func TestJobRepository_UpdateStatus(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	job := newTestJob(time.Now().UTC())
	require.NoError(t, repo.SaveJob(ctx, job))

	running, err := repo.UpdateStatus(ctx, job.Id, core.StatusRunning)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRunning, running.Status)
	assert.False(t, running.StartedAt.IsZero(), "StartedAt should be set on first run")
	assert.True(t, running.CompletedAt.IsZero())

	completed, err := repo.UpdateStatus(ctx, job.Id, core.StatusCompleted)
	require.NoError(t, err)
	assert.False(t, completed.CompletedAt.IsZero(), "CompletedAt should be set on terminal status")
}

func TestJobRepository_UpdateStatus_InvalidTransition(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	job := newTestJob(time.Now().UTC())
	require.NoError(t, repo.SaveJob(ctx, job))

	// pending -> paused is not a legal edge.
	_, err := repo.UpdateStatus(ctx, job.Id, core.StatusPaused)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidState)

	// The stored status must be unchanged.
	got, err := repo.GetJob(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
}

func TestJobRepository_UpdateProgress(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	job := newTestJob(time.Now().UTC())
	require.NoError(t, repo.SaveJob(ctx, job))

	progress := core.Progress{Total: 1000, Processed: 250, Percentage: 25.0, CurrentBatch: 3, LastKey: "P-00250"}
	require.NoError(t, repo.UpdateProgress(ctx, job.Id, progress))

	got, err := repo.GetJob(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, progress, got.Progress)
}

func TestJobRepository_AppendErrors(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	job := newTestJob(time.Now().UTC())
	require.NoError(t, repo.SaveJob(ctx, job))

	require.NoError(t, repo.AppendErrors(ctx, job.Id, "batch 1: timeout"))
	require.NoError(t, repo.AppendErrors(ctx, job.Id, "record P-0002: empty text", "record P-0007: empty text"))

	got, err := repo.GetJob(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"batch 1: timeout",
		"record P-0002: empty text",
		"record P-0007: empty text",
	}, got.ErrorLog)
}

func TestJobRepository_FindActive(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	active, err := repo.FindActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active, "empty store should have no active job")

	base := time.Now().UTC().Truncate(time.Microsecond)
	done := newTestJob(base.Add(-time.Hour))
	require.NoError(t, repo.SaveJob(ctx, done))
	_, err = repo.UpdateStatus(ctx, done.Id, core.StatusCancelled)
	require.NoError(t, err)

	pending := newTestJob(base)
	require.NoError(t, repo.SaveJob(ctx, pending))

	active, err = repo.FindActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, pending.Id, active.Id)
}

func TestJobRepository_RecoverStale(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	job := newTestJob(time.Now().UTC())
	require.NoError(t, repo.SaveJob(ctx, job))
	_, err := repo.UpdateStatus(ctx, job.Id, core.StatusRunning)
	require.NoError(t, err)

	recovered, err := repo.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	got, err := repo.GetJob(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPaused, got.Status)

	// A second pass finds nothing to recover.
	recovered, err = repo.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, recovered)
}

func TestJobRepository_DeleteJob(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	job := newTestJob(time.Now().UTC())
	require.NoError(t, repo.SaveJob(ctx, job))

	// Active jobs cannot be deleted.
	err := repo.DeleteJob(ctx, job.Id)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidState)

	_, err = repo.UpdateStatus(ctx, job.Id, core.StatusCancelled)
	require.NoError(t, err)
	require.NoError(t, repo.DeleteJob(ctx, job.Id))

	_, err = repo.GetJob(ctx, job.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	jobs, err := repo.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs, "creation index entry should be removed with the job")
}
