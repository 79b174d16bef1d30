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
	"fmt"
	"strings"

	"github.com/poiesic/vecload/core"
)

// EnsureSchema creates the destination table if it does not exist. The
// business key is the primary key, which is what the upsert's ON CONFLICT
// clause relies on. Columns other than the key and the vector are left
// untyped; SQLite affinity handles the mapped values.
func (l *Loader) EnsureSchema(ctx context.Context) error {
	cols := make([]string, 0, len(l.fields)+1)
	for _, f := range l.fields {
		if f == l.keyField {
			cols = append(cols, quoteIdent(f)+" TEXT PRIMARY KEY")
			continue
		}
		cols = append(cols, quoteIdent(f))
	}
	cols = append(cols, VectorColumn+" BLOB")

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		quoteIdent(l.table), strings.Join(cols, ", "))
	if _, err := l.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%w: ensure destination schema: %v", core.ErrConnection, err)
	}
	return nil
}

// CreateIndexes builds the key and vector indexes. Idempotent.
func (l *Loader) CreateIndexes(ctx context.Context) error {
	indexes := []struct {
		name   string
		column string
	}{
		{fmt.Sprintf("idx_%s_%s", l.table, l.keyField), l.keyField},
		{fmt.Sprintf("idx_%s_%s", l.table, VectorColumn), VectorColumn},
	}

	for _, idx := range indexes {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteIdent(idx.name), quoteIdent(l.table), quoteIdent(idx.column))
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: create index %s: %v", core.ErrConnection, idx.name, err)
		}
	}

	l.logger.Info("destination indexes ensured", "count", len(indexes))
	return nil
}
