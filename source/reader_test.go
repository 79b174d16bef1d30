package source

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/vecload/core"
	"github.com/poiesic/vecload/sqlite"
)

func setupSourceDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE products (
		code TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		price REAL NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		no_expand INTEGER NOT NULL DEFAULT 0
	)`)
	require.NoError(t, err)

	rows := [][]any{
		{"P001", "RES 10k", 0.05, 1, 0},
		{"P002", "CAP 100uF", 0.12, 1, 0},
		{"P003", "PSU 500W", 45.00, 1, 1},
		{"P004", "old part", 1.00, 0, 0},
		{"P005", "steel bracket", 2.50, 1, 0},
	}
	for _, r := range rows {
		_, err = db.Exec(
			"INSERT INTO products (code, description, price, active, no_expand) VALUES (?, ?, ?, ?, ?)",
			r...)
		require.NoError(t, err)
	}
	return db
}

func testSpec() core.SourceSpec {
	return core.SourceSpec{
		Table: "products",
		Columns: map[string]string{
			"code":        "code",
			"description": "description",
			"price":       "price",
		},
		KeyColumn:      "code",
		TextColumn:     "description",
		NoExpandColumn: "no_expand",
	}
}

func TestNewReader_Validation(t *testing.T) {
	db := setupSourceDB(t)

	spec := testSpec()
	spec.Table = ""
	_, err := NewReader(db, spec)
	assert.ErrorIs(t, err, core.ErrConfiguration)

	spec = testSpec()
	spec.KeyColumn = "missing"
	_, err = NewReader(db, spec)
	assert.ErrorIs(t, err, core.ErrConfiguration)

	spec = testSpec()
	spec.TextColumn = "missing"
	_, err = NewReader(db, spec)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestReader_ValidateSchema(t *testing.T) {
	db := setupSourceDB(t)

	reader, err := NewReader(db, testSpec())
	require.NoError(t, err)
	require.NoError(t, reader.ValidateSchema(context.Background()))

	spec := testSpec()
	spec.Columns["colour"] = "colour"
	reader, err = NewReader(db, spec)
	require.NoError(t, err)
	assert.ErrorIs(t, reader.ValidateSchema(context.Background()), core.ErrConfiguration)
}

func TestReader_Count(t *testing.T) {
	db := setupSourceDB(t)

	reader, err := NewReader(db, testSpec())
	require.NoError(t, err)

	count, err := reader.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestReader_Count_WithFilter(t *testing.T) {
	db := setupSourceDB(t)

	spec := testSpec()
	spec.Filter = "active = 1"
	reader, err := NewReader(db, spec)
	require.NoError(t, err)

	count, err := reader.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestReader_Count_WithResumeCheckpoint(t *testing.T) {
	db := setupSourceDB(t)

	spec := testSpec()
	spec.ResumeAfterKey = "P003"
	reader, err := NewReader(db, spec)
	require.NoError(t, err)

	count, err := reader.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestReader_FetchBatch_KeyOrder(t *testing.T) {
	db := setupSourceDB(t)

	reader, err := NewReader(db, testSpec())
	require.NoError(t, err)

	records, err := reader.FetchBatch(context.Background(), "", 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "P001", records[0].Key)
	assert.Equal(t, "P002", records[1].Key)
	assert.Equal(t, "P003", records[2].Key)
}

func TestReader_FetchBatch_Pagination(t *testing.T) {
	db := setupSourceDB(t)

	reader, err := NewReader(db, testSpec())
	require.NoError(t, err)
	ctx := context.Background()

	var keys []string
	afterKey := ""
	for {
		records, err := reader.FetchBatch(ctx, afterKey, 2)
		require.NoError(t, err)
		if len(records) == 0 {
			break
		}
		for _, rec := range records {
			keys = append(keys, rec.Key)
		}
		afterKey = records[len(records)-1].Key
	}

	assert.Equal(t, []string{"P001", "P002", "P003", "P004", "P005"}, keys)
}

func TestReader_FetchBatch_RecordShape(t *testing.T) {
	db := setupSourceDB(t)

	reader, err := NewReader(db, testSpec())
	require.NoError(t, err)

	records, err := reader.FetchBatch(context.Background(), "P002", 1)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "P003", rec.Key)
	assert.Equal(t, "PSU 500W", rec.Text)
	assert.True(t, rec.NoExpand)
	assert.Equal(t, "P003", rec.Fields["code"])
	assert.Equal(t, "PSU 500W", rec.Fields["description"])
	assert.InDelta(t, 45.0, rec.Fields["price"], 0.001)

	// unmapped helper column stays out of the destination row
	_, ok := rec.Fields["no_expand"]
	assert.False(t, ok)
}

func TestReader_FetchBatch_FilterAndCheckpointCompose(t *testing.T) {
	db := setupSourceDB(t)

	spec := testSpec()
	spec.Filter = "active = 1"
	reader, err := NewReader(db, spec)
	require.NoError(t, err)

	records, err := reader.FetchBatch(context.Background(), "P003", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "P005", records[0].Key)
}
