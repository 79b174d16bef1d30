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

package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/poiesic/vecload/core"
)

// Reader performs paginated, filtered, key-ordered extraction for one
// source specification.
type Reader struct {
	db     *sql.DB
	spec   core.SourceSpec
	cols   []string // source columns in stable select order
	logger *slog.Logger
}

// NewReader builds a Reader for the given specification. The column list
// is fixed at construction so every batch selects the same shape.
func NewReader(db *sql.DB, spec core.SourceSpec) (*Reader, error) {
	if spec.Table == "" {
		return nil, fmt.Errorf("%w: source table is required", core.ErrConfiguration)
	}
	if len(spec.Columns) == 0 {
		return nil, fmt.Errorf("%w: source column mapping is required", core.ErrConfiguration)
	}
	if _, ok := spec.Columns[spec.KeyColumn]; !ok {
		return nil, fmt.Errorf("%w: key column %q missing from mapping", core.ErrConfiguration, spec.KeyColumn)
	}
	if _, ok := spec.Columns[spec.TextColumn]; !ok {
		return nil, fmt.Errorf("%w: text column %q missing from mapping", core.ErrConfiguration, spec.TextColumn)
	}

	cols := make([]string, 0, len(spec.Columns)+1)
	for col := range spec.Columns {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	if spec.NoExpandColumn != "" {
		if _, mapped := spec.Columns[spec.NoExpandColumn]; !mapped {
			cols = append(cols, spec.NoExpandColumn)
		}
	}

	return &Reader{
		db:     db,
		spec:   spec,
		cols:   cols,
		logger: slog.Default().With("component", "source-reader", "table", spec.Table),
	}, nil
}

// ValidateSchema verifies the table and every mapped column exist by
// running the batch select with a zero limit. A failure here is a
// configuration error, not a connection one.
func (r *Reader) ValidateSchema(ctx context.Context) error {
	query := fmt.Sprintf("SELECT %s FROM %s LIMIT 0", r.selectList(), quoteIdent(r.spec.Table))
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: source schema validation failed: %v", core.ErrConfiguration, err)
	}
	return rows.Close()
}

// Count returns the number of rows the job will extract, honoring the
// filter and any resume checkpoint.
func (r *Reader) Count(ctx context.Context) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(r.spec.Table))
	where, args := r.predicate(r.spec.ResumeAfterKey)
	query += where

	var count int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count query: %v", core.ErrConnection, err)
	}
	return count, nil
}

// FetchBatch returns up to limit rows whose key is strictly greater than
// afterKey, in increasing key order. An empty afterKey starts from the
// beginning (or from the spec's resume checkpoint if one is set).
func (r *Reader) FetchBatch(ctx context.Context, afterKey string, limit int) ([]core.Record, error) {
	if afterKey == "" {
		afterKey = r.spec.ResumeAfterKey
	}

	where, args := r.predicate(afterKey)
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s LIMIT ?",
		r.selectList(), quoteIdent(r.spec.Table), where, quoteIdent(r.spec.KeyColumn))
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: batch query: %v", core.ErrConnection, err)
	}
	defer func() { _ = rows.Close() }()

	var records []core.Record
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: batch read: %v", core.ErrConnection, err)
	}

	r.logger.Debug("fetched batch", "after_key", afterKey, "count", len(records))
	return records, nil
}

func (r *Reader) scanRecord(rows *sql.Rows) (core.Record, error) {
	values := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return core.Record{}, fmt.Errorf("%w: row scan: %v", core.ErrConnection, err)
	}

	rec := core.Record{Fields: make(map[string]any, len(r.spec.Columns))}
	for i, col := range r.cols {
		val := normalizeValue(values[i])
		if field, mapped := r.spec.Columns[col]; mapped {
			rec.Fields[field] = val
		}
		switch col {
		case r.spec.KeyColumn:
			rec.Key = valueToString(val)
		case r.spec.TextColumn:
			rec.Text = valueToString(val)
		}
		if r.spec.NoExpandColumn != "" && col == r.spec.NoExpandColumn {
			rec.NoExpand = valueToBool(val)
		}
	}
	return rec, nil
}

// predicate builds the WHERE clause from the filter and checkpoint.
func (r *Reader) predicate(afterKey string) (string, []any) {
	var clauses []string
	var args []any
	if r.spec.Filter != "" {
		clauses = append(clauses, "("+r.spec.Filter+")")
	}
	if afterKey != "" {
		clauses = append(clauses, quoteIdent(r.spec.KeyColumn)+" > ?")
		args = append(args, afterKey)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *Reader) selectList() string {
	quoted := make([]string, len(r.cols))
	for i, c := range r.cols {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// quoteIdent quotes an identifier so configured table and column names
// cannot break out of their position in the statement.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// normalizeValue converts driver byte slices into strings so Fields hold
// comparable values.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func valueToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func valueToBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case string:
		return t == "1" || strings.EqualFold(t, "true")
	default:
		return false
	}
}
