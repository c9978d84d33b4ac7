package cache

import (
	"context"
	"strings"

	"github.com/goliatone/go-query-cache/internal/sqltables"
)

type callOptionsContextKey struct{}

type callOptions struct {
	skipCache      bool
	skipInvalidate bool
	tables         []string
}

// WithoutCache makes Read calls on ctx go straight to the raw executor. The
// result is neither looked up nor stored.
func WithoutCache(ctx context.Context) context.Context {
	opts := callOptionsFromContext(ctx)
	opts.skipCache = true
	return context.WithValue(contextOrBackground(ctx), callOptionsContextKey{}, opts)
}

// WithoutInvalidation makes Write calls on ctx leave the cache untouched.
// Use it only for writes known not to affect any cached read.
func WithoutInvalidation(ctx context.Context) context.Context {
	opts := callOptionsFromContext(ctx)
	opts.skipInvalidate = true
	return context.WithValue(contextOrBackground(ctx), callOptionsContextKey{}, opts)
}

// WithTables attaches extra table dependencies to Read calls on ctx, for reads
// that depend on tables their text does not name (views, functions).
func WithTables(ctx context.Context, tables ...string) context.Context {
	ctx = contextOrBackground(ctx)
	if len(tables) == 0 {
		return ctx
	}

	opts := callOptionsFromContext(ctx)
	combined := append(append([]string(nil), opts.tables...), tables...)
	combined = dedupeTables(combined)
	if len(combined) == 0 {
		return ctx
	}
	opts.tables = combined
	return context.WithValue(ctx, callOptionsContextKey{}, opts)
}

func callOptionsFromContext(ctx context.Context) callOptions {
	if ctx == nil {
		return callOptions{}
	}
	if opts, ok := ctx.Value(callOptionsContextKey{}).(callOptions); ok {
		opts.tables = append([]string(nil), opts.tables...)
		return opts
	}
	return callOptions{}
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// dedupeTables canonicalizes table names to the form the index uses and drops
// blanks and duplicates, keeping first-seen order.
func dedupeTables(tables []string) []string {
	seen := make(map[string]struct{}, len(tables))
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		t = tableKey(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// tableKey is the index key of a table: its unqualified, unquoted, lowercase
// relation name.
func tableKey(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == sqltables.Wildcard {
		return name
	}
	return sqltables.NormalizeIdentifier(strings.TrimSpace(sqltables.Relation(name)))
}
