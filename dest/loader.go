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

package dest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/poiesic/vecload/core"
)

// VectorColumn is the destination column holding the embedding blob.
const VectorColumn = "embedding"

// LoadResult reports one batch's outcome.
type LoadResult struct {
	Inserted    int
	Errors      []string
	SuccessRate float64
}

// Loader upserts enriched batches into one destination table.
type Loader struct {
	db        *sql.DB
	table     string
	keyField  string
	fields    []string // destination fields in stable statement order
	threshold float64
	logger    *slog.Logger
}

// NewLoader builds a Loader. The destination field list is derived from
// the source mapping so every batch produces the same statement shape.
// threshold is the minimum success rate for a batch to commit; zero means
// core.DefaultSuccessThreshold.
func NewLoader(db *sql.DB, destSpec core.DestinationSpec, srcSpec core.SourceSpec, threshold float64) (*Loader, error) {
	if destSpec.Table == "" {
		return nil, fmt.Errorf("%w: destination table is required", core.ErrConfiguration)
	}
	keyField, ok := srcSpec.Columns[srcSpec.KeyColumn]
	if !ok {
		return nil, fmt.Errorf("%w: key column %q missing from mapping", core.ErrConfiguration, srcSpec.KeyColumn)
	}
	if threshold == 0 {
		threshold = core.DefaultSuccessThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: success threshold %v outside [0,1]", core.ErrConfiguration, threshold)
	}

	fields := make([]string, 0, len(srcSpec.Columns))
	for _, f := range srcSpec.Columns {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	return &Loader{
		db:        db,
		table:     destSpec.Table,
		keyField:  keyField,
		fields:    fields,
		threshold: threshold,
		logger:    slog.Default().With("component", "batch-loader", "table", destSpec.Table),
	}, nil
}

// KeyField returns the destination column holding the business key.
func (l *Loader) KeyField() string {
	return l.keyField
}

// LoadBatch upserts every record in one transaction. Records are keyed by
// the business key; on conflict all non-key columns are updated, never
// deleted and reinserted. Failed embeddings load with a null vector.
//
// After attempting all records the batch commits only if
// inserted/len(records) reaches the threshold; otherwise the whole
// transaction rolls back and core.ErrBatchIntegrity is returned, since a
// mostly-failed batch usually signals a systemic problem and partial
// writes would be misleading.
func (l *Loader) LoadBatch(ctx context.Context, records []core.Record) (*LoadResult, error) {
	if len(records) == 0 {
		return &LoadResult{SuccessRate: 1}, nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin batch transaction: %v", core.ErrConnection, err)
	}

	stmt, err := tx.PrepareContext(ctx, l.upsertStatement())
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("%w: prepare upsert: %v", core.ErrConnection, err)
	}
	defer func() { _ = stmt.Close() }()

	result := &LoadResult{}
	for _, rec := range records {
		if err := l.upsertRecord(ctx, stmt, rec); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record %s: %v", rec.Key, err))
			continue
		}
		result.Inserted++
	}
	result.SuccessRate = float64(result.Inserted) / float64(len(records))

	if result.SuccessRate < l.threshold {
		_ = tx.Rollback()
		l.logger.Error("batch rolled back below success threshold",
			"success_rate", result.SuccessRate,
			"threshold", l.threshold,
			"errors", len(result.Errors))
		return result, fmt.Errorf("%w: success rate %.2f below threshold %.2f",
			core.ErrBatchIntegrity, result.SuccessRate, l.threshold)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit batch: %v", core.ErrConnection, err)
	}

	l.logger.Debug("batch loaded",
		"inserted", result.Inserted,
		"errors", len(result.Errors),
		"success_rate", result.SuccessRate)
	return result, nil
}

func (l *Loader) upsertRecord(ctx context.Context, stmt *sql.Stmt, rec core.Record) error {
	if rec.Key == "" {
		return fmt.Errorf("%w: empty business key", core.ErrRecord)
	}

	args := make([]any, 0, len(l.fields)+1)
	for _, f := range l.fields {
		args = append(args, rec.Fields[f])
	}

	var blob any
	if rec.Vector != nil {
		blob = EncodeVector(NormalizeVector(rec.Vector))
	}
	args = append(args, blob)

	if _, err := stmt.ExecContext(ctx, args...); err != nil {
		return fmt.Errorf("%w: %v", core.ErrRecord, err)
	}
	return nil
}

// upsertStatement builds "insert, or update all non-key columns on
// conflict". A null incoming vector keeps any previously stored one so a
// re-run with failed embeddings never erases good vectors.
func (l *Loader) upsertStatement() string {
	cols := make([]string, 0, len(l.fields)+1)
	for _, f := range l.fields {
		cols = append(cols, quoteIdent(f))
	}
	cols = append(cols, VectorColumn)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	var sets []string
	for _, f := range l.fields {
		if f == l.keyField {
			continue
		}
		q := quoteIdent(f)
		sets = append(sets, q+" = excluded."+q)
	}
	sets = append(sets, VectorColumn+" = COALESCE(excluded."+VectorColumn+", "+quoteIdent(l.table)+"."+VectorColumn+")")

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		quoteIdent(l.table),
		strings.Join(cols, ", "),
		placeholders,
		quoteIdent(l.keyField),
		strings.Join(sets, ", "))
}

// Clean removes every row from the destination table. The caller is
// responsible for refusing this on resumed jobs.
func (l *Loader) Clean(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, "DELETE FROM "+quoteIdent(l.table)); err != nil {
		return fmt.Errorf("%w: clean destination: %v", core.ErrConnection, err)
	}
	l.logger.Warn("destination table cleaned")
	return nil
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
