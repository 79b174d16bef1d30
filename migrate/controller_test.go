package migrate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/vecload/ai"
	"github.com/poiesic/vecload/core"
)

func TestController_Create(t *testing.T) {
	h := setupHarness(t, 5)
	ctx := context.Background()

	job := jobTemplate()
	require.NoError(t, h.ctrl.Create(ctx, job))

	assert.NotZero(t, job.Id)
	assert.Equal(t, core.StatusPending, job.Status)
	assert.Equal(t, int64(5), job.Progress.Total)

	stored, err := h.ctrl.Get(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, stored.Status)
}

func TestController_Create_BadMapping(t *testing.T) {
	h := setupHarness(t, 5)

	job := jobTemplate()
	job.Source.Columns["colour"] = "colour"
	err := h.ctrl.Create(context.Background(), job)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestController_Create_RespectsFilter(t *testing.T) {
	h := setupHarness(t, 10)

	job := jobTemplate()
	job.Source.Filter = "price <= 4"
	require.NoError(t, h.ctrl.Create(context.Background(), job))
	assert.Equal(t, int64(4), job.Progress.Total)
}

func TestController_RunToCompletion(t *testing.T) {
	h := setupHarness(t, 7)

	id := h.createAndStart(t)
	job := h.waitForJob(t, id)

	assert.Equal(t, core.StatusCompleted, job.Status)
	assert.Equal(t, int64(7), job.Progress.Processed)
	assert.Equal(t, float64(100), job.Progress.Percentage)
	assert.Empty(t, job.ErrorLog)
	assert.False(t, job.StartedAt.IsZero())
	assert.False(t, job.CompletedAt.IsZero())
	assert.Equal(t, 7, h.destCount(t))
	assert.Equal(t, 7, h.destDistinctCount(t))

	// indexes were requested and built
	var n int
	require.NoError(t, h.dstDB.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name LIKE 'idx_catalog_%'").Scan(&n))
	assert.Equal(t, 2, n)
}

func TestController_Start_RequiresPending(t *testing.T) {
	h := setupHarness(t, 3)
	ctx := context.Background()

	id := h.createAndStart(t)
	h.waitForJob(t, id)

	err := h.ctrl.Start(ctx, id)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestController_PauseResume_ConservesRecords(t *testing.T) {
	h := setupHarness(t, 10)
	ctx := context.Background()

	var calls int32
	started := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	h.embedder.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			once.Do(func() { close(started) })
			<-gate
		}
		vectors := make([][]float32, len(texts))
		for i := range vectors {
			vectors[i] = []float32{1, 0}
		}
		return vectors, nil
	}

	id := h.createAndStart(t)
	<-started
	require.NoError(t, h.ctrl.Pause(ctx, id))
	close(gate)

	job := h.waitForJob(t, id)
	assert.Equal(t, core.StatusPaused, job.Status)

	// the in-flight batch finished cleanly before the loop stopped
	assert.Equal(t, int64(2), job.Progress.Processed)
	assert.Equal(t, 2, h.destCount(t))
	assert.NotEmpty(t, job.Progress.LastKey)

	require.NoError(t, h.ctrl.Resume(ctx, id))
	job = h.waitForJob(t, id)

	assert.Equal(t, core.StatusCompleted, job.Status)
	assert.Equal(t, int64(10), job.Progress.Processed)

	// every record migrated exactly once
	assert.Equal(t, 10, h.destCount(t))
	assert.Equal(t, 10, h.destDistinctCount(t))
}

func TestController_Pause_RequiresRunning(t *testing.T) {
	h := setupHarness(t, 3)
	ctx := context.Background()

	job := jobTemplate()
	require.NoError(t, h.ctrl.Create(ctx, job))

	err := h.ctrl.Pause(ctx, job.Id)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestController_Cancel_PendingJob(t *testing.T) {
	h := setupHarness(t, 3)
	ctx := context.Background()

	job := jobTemplate()
	require.NoError(t, h.ctrl.Create(ctx, job))
	require.NoError(t, h.ctrl.Cancel(ctx, job.Id))

	stored, err := h.ctrl.Get(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCancelled, stored.Status)

	// cancelling again is an invalid transition
	assert.ErrorIs(t, h.ctrl.Cancel(ctx, job.Id), core.ErrInvalidState)
}

func TestController_Cancel_RunningJob(t *testing.T) {
	h := setupHarness(t, 10)
	ctx := context.Background()

	started := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	h.embedder.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		once.Do(func() { close(started) })
		<-gate
		vectors := make([][]float32, len(texts))
		for i := range vectors {
			vectors[i] = []float32{1}
		}
		return vectors, nil
	}

	id := h.createAndStart(t)
	<-started
	require.NoError(t, h.ctrl.Cancel(ctx, id))
	close(gate)

	job := h.waitForJob(t, id)
	assert.Equal(t, core.StatusCancelled, job.Status)
	assert.Less(t, job.Progress.Processed, int64(10))
}

func TestController_Delete_OnlyTerminal(t *testing.T) {
	h := setupHarness(t, 3)
	ctx := context.Background()

	job := jobTemplate()
	require.NoError(t, h.ctrl.Create(ctx, job))

	assert.ErrorIs(t, h.ctrl.Delete(ctx, job.Id), core.ErrInvalidState)

	require.NoError(t, h.ctrl.Cancel(ctx, job.Id))
	require.NoError(t, h.ctrl.Delete(ctx, job.Id))

	_, err := h.ctrl.Get(ctx, job.Id)
	assert.Error(t, err)
}

func TestController_FailsAfterErrorBudget(t *testing.T) {
	h := setupHarness(t, 6)
	ctx := context.Background()

	// destination table with an incompatible shape makes every upsert
	// fail, rolling each batch back below the threshold
	_, err := h.dstDB.Exec("CREATE TABLE catalog (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	job := jobTemplate()
	require.NoError(t, h.ctrl.Create(ctx, job))
	require.NoError(t, h.ctrl.Start(ctx, job.Id))

	stored := h.waitForJob(t, job.Id)
	assert.Equal(t, core.StatusFailed, stored.Status)
	assert.NotEmpty(t, stored.ErrorLog)
	assert.Zero(t, stored.Progress.Processed)
	assert.Positive(t, stored.Progress.Errors)
}

func TestController_CleanBefore(t *testing.T) {
	h := setupHarness(t, 4)
	ctx := context.Background()

	// leftover rows from an earlier run
	_, err := h.dstDB.Exec(`CREATE TABLE catalog (code TEXT PRIMARY KEY, description, price, embedding BLOB)`)
	require.NoError(t, err)
	_, err = h.dstDB.Exec(`INSERT INTO catalog (code, description, price) VALUES ('OLD1', 'stale', 0)`)
	require.NoError(t, err)

	job := jobTemplate()
	job.Destination.CleanBefore = true
	require.NoError(t, h.ctrl.Create(ctx, job))
	require.NoError(t, h.ctrl.Start(ctx, job.Id))

	stored := h.waitForJob(t, job.Id)
	assert.Equal(t, core.StatusCompleted, stored.Status)

	assert.Equal(t, 4, h.destCount(t))
	var n int
	require.NoError(t, h.dstDB.QueryRow("SELECT COUNT(*) FROM catalog WHERE code = 'OLD1'").Scan(&n))
	assert.Zero(t, n)
}

func TestController_EmbeddingFailuresLoadNullVectors(t *testing.T) {
	h := setupHarness(t, 4)
	ctx := context.Background()

	h.embedder.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		return nil, assert.AnError
	}

	job := jobTemplate()
	require.NoError(t, h.ctrl.Create(ctx, job))
	require.NoError(t, h.ctrl.Start(ctx, job.Id))

	stored := h.waitForJob(t, job.Id)

	// failed embeddings do not fail the job; rows load with null vectors
	assert.Equal(t, core.StatusCompleted, stored.Status)
	assert.Equal(t, 4, h.destCount(t))
	assert.NotEmpty(t, stored.ErrorLog)

	var n int
	require.NoError(t, h.dstDB.QueryRow("SELECT COUNT(*) FROM catalog WHERE embedding IS NULL").Scan(&n))
	assert.Equal(t, 4, n)
}

func TestController_DimensionMismatchFailsJob(t *testing.T) {
	h := setupHarness(t, 4)
	ctx := context.Background()

	h.embedder.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		return nil, fmt.Errorf("%w: want 768, got 384", ai.ErrDimensionMismatch)
	}

	job := jobTemplate()
	require.NoError(t, h.ctrl.Create(ctx, job))
	require.NoError(t, h.ctrl.Start(ctx, job.Id))

	stored := h.waitForJob(t, job.Id)

	// unlike a transient embedding failure, a mismatched dimensionality
	// is a configuration fault; nothing may migrate with null vectors
	assert.Equal(t, core.StatusFailed, stored.Status)
	assert.Zero(t, h.destCount(t))
	require.NotEmpty(t, stored.ErrorLog)
	assert.Contains(t, stored.ErrorLog[len(stored.ErrorLog)-1], "dimension mismatch")
}

func TestController_StalePauseWithoutRunLoop(t *testing.T) {
	h := setupHarness(t, 3)
	ctx := context.Background()

	job := jobTemplate()
	require.NoError(t, h.ctrl.Create(ctx, job))
	_, err := h.repo.UpdateStatus(ctx, job.Id, core.StatusRunning)
	require.NoError(t, err)

	// no active loop for this id; pause falls back to a direct transition
	require.NoError(t, h.ctrl.Pause(ctx, job.Id))

	stored, err := h.ctrl.Get(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPaused, stored.Status)
}

func TestController_List(t *testing.T) {
	h := setupHarness(t, 3)
	ctx := context.Background()

	first := jobTemplate()
	require.NoError(t, h.ctrl.Create(ctx, first))
	time.Sleep(2 * time.Millisecond)
	second := jobTemplate()
	second.Destination.Table = "catalog_v2"
	require.NoError(t, h.ctrl.Create(ctx, second))

	jobs, err := h.ctrl.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.Id, jobs[0].Id)
	assert.Equal(t, first.Id, jobs[1].Id)
}
