package testsupport

import (
	"context"
	"sync"

	"github.com/goliatone/go-query-cache/cache"
)

// FakeExecutor is an in-memory cache.RawExecutor. Reads return the row set
// registered for the exact query text; writes return a fixed affected count.
// Every call is recorded.
type FakeExecutor struct {
	mu       sync.Mutex
	rows     map[string]cache.RowSet
	queryErr error
	execErr  error
	affected int64
	queries  map[string]int
	execs    map[string]int

	// BeforeQuery, when set, runs at the start of every Query call without
	// the fake's lock held. Tests use it to block or interleave reads.
	BeforeQuery func(ctx context.Context, query string)
	// OnExec, when set, runs after every successful Exec with the fake's
	// lock held, so it may call SetRowsLocked.
	OnExec func(f *FakeExecutor, query string, args []any)
}

// NewFakeExecutor returns an empty FakeExecutor whose writes affect one row.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{
		rows:     make(map[string]cache.RowSet),
		queries:  make(map[string]int),
		execs:    make(map[string]int),
		affected: 1,
	}
}

// SetRows registers the result of query.
func (f *FakeExecutor) SetRows(query string, rows cache.RowSet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetRowsLocked(query, rows)
}

// SetRowsLocked is SetRows for use inside OnExec.
func (f *FakeExecutor) SetRowsLocked(query string, rows cache.RowSet) {
	f.rows[query] = rows
}

// FailQuery makes every Query return err. A nil err clears the failure.
func (f *FakeExecutor) FailQuery(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryErr = err
}

// FailExec makes every Exec return err. A nil err clears the failure.
func (f *FakeExecutor) FailExec(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execErr = err
}

// SetAffected sets the count returned by successful Exec calls.
func (f *FakeExecutor) SetAffected(n int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.affected = n
}

// Query implements cache.RawExecutor.
func (f *FakeExecutor) Query(ctx context.Context, query string, args ...any) (cache.RowSet, error) {
	if f.BeforeQuery != nil {
		f.BeforeQuery(ctx, query)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries[query]++
	if f.queryErr != nil {
		return cache.RowSet{}, f.queryErr
	}
	if err := ctx.Err(); err != nil {
		return cache.RowSet{}, err
	}

	rows, err := f.rows[query].Clone()
	if err != nil {
		return f.rows[query], nil
	}
	return rows, nil
}

// Exec implements cache.RawExecutor.
func (f *FakeExecutor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.execs[query]++
	if f.execErr != nil {
		return 0, f.execErr
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.OnExec != nil {
		f.OnExec(f, query, args)
	}
	return f.affected, nil
}

// QueryCount returns how many times query was read.
func (f *FakeExecutor) QueryCount(query string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[query]
}

// ExecCount returns how many times query was executed as a write.
func (f *FakeExecutor) ExecCount(query string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execs[query]
}

// TotalQueries returns the number of Query calls across all queries.
func (f *FakeExecutor) TotalQueries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.queries {
		total += n
	}
	return total
}

var _ cache.RawExecutor = (*FakeExecutor)(nil)

// Rows builds a RowSet from columns and rows, for terse test tables.
func Rows(columns []string, rows ...[]any) cache.RowSet {
	return cache.RowSet{Columns: columns, Rows: rows}
}
