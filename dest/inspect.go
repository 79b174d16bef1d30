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

	"github.com/poiesic/vecload/core"
)

// Inspector answers resume-planning and integrity questions from the
// destination's actual contents. After a process restart the in-memory
// progress counters are not a source of truth; only these queries are.
type Inspector struct {
	db       *sql.DB
	table    string
	keyField string
	// exclude is an optional predicate removing rows (synthetic or test
	// codes) that migrations also skip, so derived checkpoints line up
	// with what the pipeline actually wrote.
	exclude string
	logger  *slog.Logger
}

// NewInspector builds an Inspector over one destination table.
func NewInspector(db *sql.DB, table, keyField, exclude string) (*Inspector, error) {
	if table == "" {
		return nil, fmt.Errorf("%w: destination table is required", core.ErrConfiguration)
	}
	if keyField == "" {
		return nil, fmt.Errorf("%w: destination key field is required", core.ErrConfiguration)
	}
	return &Inspector{
		db:       db,
		table:    table,
		keyField: keyField,
		exclude:  exclude,
		logger:   slog.Default().With("component", "dest-inspector", "table", table),
	}, nil
}

func (i *Inspector) where() string {
	if i.exclude == "" {
		return ""
	}
	return " WHERE NOT (" + i.exclude + ")"
}

// MigratedCount returns the number of migrated rows under the exclusion
// predicate.
func (i *Inspector) MigratedCount(ctx context.Context) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", quoteIdent(i.table), i.where())

	var count int64
	if err := i.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: migrated count: %v", core.ErrConnection, err)
	}
	return count, nil
}

// MaxMigratedKey returns the highest migrated business key, or empty if
// the destination holds no eligible rows.
func (i *Inspector) MaxMigratedKey(ctx context.Context) (string, error) {
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s%s",
		quoteIdent(i.keyField), quoteIdent(i.table), i.where())

	var key sql.NullString
	if err := i.db.QueryRowContext(ctx, query).Scan(&key); err != nil {
		return "", fmt.Errorf("%w: max migrated key: %v", core.ErrConnection, err)
	}
	if !key.Valid {
		return "", nil
	}
	return key.String, nil
}

// VerifyReport summarizes a sampled integrity check.
type VerifyReport struct {
	Sampled         int
	MissingVectors  int
	WrongDimensions int
	DuplicateKeys   int
}

// Clean reports whether the sample surfaced no integrity problems.
func (r *VerifyReport) Clean() bool {
	return r.MissingVectors == 0 && r.WrongDimensions == 0 && r.DuplicateKeys == 0
}

// Verify samples up to sampleSize rows and checks for missing embeddings,
// wrong-dimension vectors (when dimensions is non-zero), and duplicate
// business keys across the whole table.
func (i *Inspector) Verify(ctx context.Context, sampleSize, dimensions int) (*VerifyReport, error) {
	if sampleSize <= 0 {
		sampleSize = 100
	}
	report := &VerifyReport{}

	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s LIMIT ?",
		VectorColumn, quoteIdent(i.table), i.where(), quoteIdent(i.keyField))
	rows, err := i.db.QueryContext(ctx, query, sampleSize)
	if err != nil {
		return nil, fmt.Errorf("%w: verify sample: %v", core.ErrConnection, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("%w: verify scan: %v", core.ErrConnection, err)
		}
		report.Sampled++

		if blob == nil {
			report.MissingVectors++
			continue
		}
		vec, err := DecodeVector(blob)
		if err != nil {
			report.WrongDimensions++
			continue
		}
		if dimensions > 0 && len(vec) != dimensions {
			report.WrongDimensions++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: verify read: %v", core.ErrConnection, err)
	}

	dupQuery := fmt.Sprintf(
		"SELECT COUNT(*) FROM (SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1)",
		quoteIdent(i.keyField), quoteIdent(i.table), quoteIdent(i.keyField))
	if err := i.db.QueryRowContext(ctx, dupQuery).Scan(&report.DuplicateKeys); err != nil {
		return nil, fmt.Errorf("%w: duplicate key check: %v", core.ErrConnection, err)
	}

	i.logger.Info("integrity check finished",
		"sampled", report.Sampled,
		"missing_vectors", report.MissingVectors,
		"wrong_dimensions", report.WrongDimensions,
		"duplicate_keys", report.DuplicateKeys)
	return report, nil
}
