// Package pgxexec adapts pgx/v5 handles to cache.RawExecutor.
package pgxexec

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/goliatone/go-query-cache/cache"
)

// Querier is the subset of *pgxpool.Pool, *pgx.Conn and pgx.Tx the executor needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Executor runs statements through a Querier.
type Executor struct {
	q Querier
}

// New returns an Executor for q.
func New(q Querier) *Executor {
	return &Executor{q: q}
}

// Query implements cache.RawExecutor. Values are decoded by pgx's type map;
// types holding pointers (numeric, intervals with big values) are returned
// as-is and the cache serves such reads uncached.
func (e *Executor) Query(ctx context.Context, query string, args ...any) (cache.RowSet, error) {
	rows, err := e.q.Query(ctx, query, args...)
	if err != nil {
		return cache.RowSet{}, errors.Wrap(err, "pgxexec: query")
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := cache.RowSet{Columns: make([]string, len(fields)), Rows: [][]any{}}
	for i, f := range fields {
		out.Columns[i] = f.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return cache.RowSet{}, errors.Wrap(err, "pgxexec: values")
		}
		out.Rows = append(out.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return cache.RowSet{}, errors.Wrap(err, "pgxexec: rows")
	}
	return out, nil
}

// Exec implements cache.RawExecutor.
func (e *Executor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := e.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "pgxexec: exec")
	}
	return tag.RowsAffected(), nil
}

var _ cache.RawExecutor = (*Executor)(nil)
