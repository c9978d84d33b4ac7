// Package bunexec adapts a bun database handle to cache.RawExecutor.
//
// Queries go through bun's formatter, so placeholders use bun's syntax (?).
package bunexec

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-query-cache/cache"
)

// Executor runs statements on a bun.IDB: a *bun.DB, a bun.Conn or a bun.Tx.
type Executor struct {
	db bun.IDB
}

// New returns an Executor for db.
func New(db bun.IDB) *Executor {
	return &Executor{db: db}
}

// Query implements cache.RawExecutor.
func (e *Executor) Query(ctx context.Context, query string, args ...any) (cache.RowSet, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return cache.RowSet{}, errors.Wrap(err, "bunexec: query")
	}
	defer rows.Close()

	return ScanRows(rows)
}

// Exec implements cache.RawExecutor.
func (e *Executor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := e.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "bunexec: exec")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "bunexec: rows affected")
	}
	return n, nil
}

var _ cache.RawExecutor = (*Executor)(nil)

// ScanRows materializes rows into a RowSet. It does not close rows.
func ScanRows(rows *sql.Rows) (cache.RowSet, error) {
	columns, err := rows.Columns()
	if err != nil {
		return cache.RowSet{}, errors.Wrap(err, "bunexec: columns")
	}

	out := cache.RowSet{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return cache.RowSet{}, errors.Wrap(err, "bunexec: scan")
		}
		out.Rows = append(out.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return cache.RowSet{}, errors.Wrap(err, "bunexec: rows")
	}
	return out, nil
}
