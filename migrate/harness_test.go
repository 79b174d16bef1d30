package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/poiesic/vecload/ai/mock"
	"github.com/poiesic/vecload/core"
	"github.com/poiesic/vecload/ratelimit"
	"github.com/poiesic/vecload/sqlite"
	"github.com/poiesic/vecload/storage"
	"github.com/poiesic/vecload/storage/badger"
)

type harness struct {
	repo     storage.JobRepository
	srcDB    *sql.DB
	dstDB    *sql.DB
	embedder *mock.MockEmbedder
	ctrl     *Controller
}

// setupHarness wires an in-memory engine: badger job store, sqlite source
// seeded with rows products, sqlite destination, mock embedder, no-op
// limiter.
func setupHarness(t *testing.T, rows int, opts ...Option) *harness {
	t.Helper()

	repo, _, err := badger.NewMemoryJobRepository()
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	srcDB, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srcDB.Close() })
	seedSource(t, srcDB, rows)

	dstDB, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = dstDB.Close() })

	embedder := mock.NewMockEmbedder()

	opts = append([]Option{WithPoolSize(2), WithRetryPolicy(2, time.Millisecond)}, opts...)
	ctrl, err := NewController(repo, srcDB, dstDB, embedder, ratelimit.NopLimiter{}, opts...)
	require.NoError(t, err)
	t.Cleanup(ctrl.Release)

	return &harness{
		repo:     repo,
		srcDB:    srcDB,
		dstDB:    dstDB,
		embedder: embedder,
		ctrl:     ctrl,
	}
}

func seedSource(t *testing.T, db *sql.DB, rows int) {
	t.Helper()

	_, err := db.Exec(`CREATE TABLE products (
		code TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		price REAL NOT NULL,
		no_expand INTEGER NOT NULL DEFAULT 0
	)`)
	require.NoError(t, err)

	for i := 1; i <= rows; i++ {
		_, err := db.Exec(
			"INSERT INTO products (code, description, price, no_expand) VALUES (?, ?, ?, 0)",
			fmt.Sprintf("P%04d", i), fmt.Sprintf("part %d", i), float64(i))
		require.NoError(t, err)
	}
}

func jobTemplate() *core.MigrationJob {
	return &core.MigrationJob{
		Source: core.SourceSpec{
			Table: "products",
			Columns: map[string]string{
				"code":        "code",
				"description": "description",
				"price":       "price",
			},
			KeyColumn:      "code",
			TextColumn:     "description",
			NoExpandColumn: "no_expand",
		},
		Destination: core.DestinationSpec{
			Table:         "catalog",
			CreateIndexes: true,
		},
		Processing: core.ProcessingSpec{
			BatchSize:            2,
			EmbedBatchSize:       2,
			MaxConsecutiveErrors: 1,
			BatchDelay:           time.Millisecond,
		},
	}
}

func (h *harness) createAndStart(t *testing.T) core.JobID {
	t.Helper()

	job := jobTemplate()
	ctx := context.Background()
	require.NoError(t, h.ctrl.Create(ctx, job))
	require.NoError(t, h.ctrl.Start(ctx, job.Id))
	return job.Id
}

func (h *harness) waitForJob(t *testing.T, id core.JobID) *core.MigrationJob {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.ctrl.Wait(ctx, id))

	job, err := h.ctrl.Get(ctx, id)
	require.NoError(t, err)
	return job
}

func (h *harness) destCount(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, h.dstDB.QueryRow("SELECT COUNT(*) FROM catalog").Scan(&n))
	return n
}

func (h *harness) destDistinctCount(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, h.dstDB.QueryRow("SELECT COUNT(DISTINCT code) FROM catalog").Scan(&n))
	return n
}
