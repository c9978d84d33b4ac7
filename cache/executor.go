package cache

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/goliatone/go-query-cache/internal/cacheinfra"
	"github.com/goliatone/go-query-cache/internal/sqltables"
)

const tracerName = "github.com/goliatone/go-query-cache"

// CachedExecutor serves reads from a bounded LRU+TTL cache and invalidates
// cached reads when a write touches a table they depend on. It is safe for
// concurrent use; construct one per process and share it.
type CachedExecutor struct {
	raw      RawExecutor
	codec    KeyCodec
	logger   *slog.Logger
	tracer   trace.Tracer
	cascades map[string][]string
	classify func(ctx context.Context, query string) sqltables.Analysis
	stats    *stats
	enabled  atomic.Bool
	group    *singleflight.Group

	// mu guards store and index together. The raw executor is never called
	// with mu held.
	mu    sync.Mutex
	store *cacheinfra.Store[RowSet]
	index *cacheinfra.Index
}

// New validates cfg and builds a CachedExecutor in front of raw.
func New(raw RawExecutor, cfg Config) (*CachedExecutor, error) {
	if raw == nil {
		return nil, ErrNilExecutor
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &CachedExecutor{
		raw:      raw,
		codec:    cfg.KeyCodec,
		logger:   cfg.Logger,
		tracer:   cfg.Tracer,
		cascades: normalizeCascades(cfg.Cascades),
		stats:    newStats(),
		index:    cacheinfra.NewIndex(),
	}
	if e.codec == nil {
		e.codec = NewDefaultKeyCodec()
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if cfg.Coalesce {
		e.group = &singleflight.Group{}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	store, err := cacheinfra.NewStore[RowSet](cacheinfra.StoreConfig{
		MaxEntries: cfg.MaxEntries,
		DefaultTTL: cfg.DefaultTTL,
		Clock:      clock,
		Recorder:   e.stats,
		OnRemove:   e.index.Unregister,
	})
	if err != nil {
		return nil, err
	}
	e.store = store

	e.classify = func(_ context.Context, query string) sqltables.Analysis {
		return sqltables.Classify(query)
	}
	if cfg.Classifier != (ClassifierConfig{}) {
		memo, err := cacheinfra.NewMemo[sqltables.Analysis](cfg.Classifier.toInternal())
		if err != nil {
			return nil, err
		}
		e.classify = func(ctx context.Context, query string) sqltables.Analysis {
			analysis, err := memo.GetOrCompute(ctx, query, func(context.Context) (sqltables.Analysis, error) {
				return sqltables.Classify(query), nil
			})
			if err != nil {
				return sqltables.Classify(query)
			}
			return analysis
		}
	}

	e.enabled.Store(cfg.Enabled)
	return e, nil
}

// Read runs a read query, serving it from the cache when possible. Errors
// from the raw executor are returned unchanged and nothing is cached.
func (e *CachedExecutor) Read(ctx context.Context, query string, args ...any) (RowSet, error) {
	ctx, span := e.tracer.Start(ctx, "querycache.read", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	e.stats.requests.Inc()
	opts := callOptionsFromContext(ctx)

	if !e.Enabled() || opts.skipCache {
		span.SetAttributes(attribute.String("querycache.outcome", "skip"))
		return e.query(ctx, span, query, args)
	}

	key, err := e.codec.MakeKey(query, args...)
	if err != nil {
		e.bypass(ctx, span, "key", "", err)
		return e.query(ctx, span, query, args)
	}
	span.SetAttributes(attribute.String("querycache.key", key.Digest()))

	e.mu.Lock()
	cached, ok := e.store.Get(string(key))
	e.mu.Unlock()
	if ok {
		rows, err := cached.Clone()
		if err == nil {
			span.SetAttributes(attribute.String("querycache.outcome", "hit"))
			return rows, nil
		}
		// Cached row sets were copied once already, so this cannot fail for
		// values the cache accepted; fall back to the database regardless.
		e.bypass(ctx, span, "copy", key.Digest(), err)
		return e.query(ctx, span, query, args)
	}
	span.SetAttributes(attribute.String("querycache.outcome", "miss"))

	deps := e.readDependencies(ctx, query, opts)

	e.mu.Lock()
	version := e.index.Version(deps)
	e.mu.Unlock()

	rows, shared, err := e.fetch(ctx, span, key, version, query, args)
	if err != nil {
		return RowSet{}, err
	}

	stored, err := rows.Clone()
	if err != nil {
		e.bypass(ctx, span, "copy", key.Digest(), err)
		return rows, nil
	}

	e.mu.Lock()
	// A write that completed while the query ran bumped the version; its
	// result may predate that write and must not be cached.
	populated := e.Enabled() && e.index.Version(deps) == version
	if populated {
		e.store.Put(string(key), stored, 0)
		e.index.Register(string(key), deps)
	}
	e.mu.Unlock()

	if !populated {
		e.logger.DebugContext(ctx, "query cache discarded stale population",
			slog.String("key", key.Digest()))
	}

	if shared {
		if own, err := rows.Clone(); err == nil {
			return own, nil
		}
	}
	return rows, nil
}

// Write runs a statement that modifies data, then invalidates every cached
// read depending on a table it writes. Errors from the raw executor are
// returned unchanged and nothing is invalidated.
func (e *CachedExecutor) Write(ctx context.Context, query string, args ...any) (int64, error) {
	ctx, span := e.tracer.Start(ctx, "querycache.write", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	affected, err := e.raw.Exec(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return affected, err
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", affected))

	opts := callOptionsFromContext(ctx)
	if !e.Enabled() || opts.skipInvalidate {
		return affected, nil
	}

	analysis := e.classify(ctx, query)
	writes := analysis.WriteSet()
	if writes.All {
		e.stats.unclassified.Inc()
		e.logger.DebugContext(ctx, "query cache flush on unclassified write",
			slog.String("reason", analysis.Reason))
		removed := e.Flush()
		span.SetAttributes(
			attribute.Bool("querycache.flush", true),
			attribute.Int("querycache.invalidated", removed),
		)
		return affected, nil
	}

	tables := e.expandCascades(writes.Names)
	removed := e.invalidate(tables)
	span.SetAttributes(
		attribute.StringSlice("querycache.tables", tables),
		attribute.Int("querycache.invalidated", removed),
	)
	if removed > 0 {
		e.logger.DebugContext(ctx, "query cache invalidated",
			slog.Any("tables", tables), slog.Int("entries", removed))
	}
	return affected, nil
}

// Flush drops every cached entry and returns how many were removed.
func (e *CachedExecutor) Flush() int {
	e.mu.Lock()
	removed := e.store.EvictAll()
	e.index.Clear()
	e.mu.Unlock()

	e.stats.invalidations.Add(int64(removed))
	return removed
}

// Sweep removes expired entries ahead of their next lookup and returns how
// many were removed.
func (e *CachedExecutor) Sweep() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Sweep()
}

// Stats returns a snapshot of the counters.
func (e *CachedExecutor) Stats() StatsSnapshot {
	out := e.stats.snapshot()
	out.Entries = e.Size()
	return out
}

// ResetStats zeroes every counter. Cached entries are kept.
func (e *CachedExecutor) ResetStats() {
	e.stats.reset()
}

// SetEnabled toggles caching. Disabling flushes the cache so that re-enabling
// never serves entries that missed writes made while disabled.
func (e *CachedExecutor) SetEnabled(enabled bool) {
	e.enabled.Store(enabled)
	if !enabled {
		e.Flush()
	}
}

// Enabled reports whether caching is on.
func (e *CachedExecutor) Enabled() bool {
	return e.enabled.Load()
}

// Size returns the number of cached entries.
func (e *CachedExecutor) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Size()
}

func (e *CachedExecutor) query(ctx context.Context, span trace.Span, query string, args []any) (RowSet, error) {
	rows, err := e.raw.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rows, err
}

// fetch runs the raw query, sharing one call among concurrent misses when
// coalescing is on. Callers only share a flight if they observed the same
// index version, so a read issued after a write never joins a query that
// started before it. A shared query runs detached from the cancellation of
// whichever caller started it; each caller stops waiting when its own ctx
// is done.
func (e *CachedExecutor) fetch(ctx context.Context, span trace.Span, key Key, version uint64, query string, args []any) (RowSet, bool, error) {
	if e.group == nil {
		rows, err := e.query(ctx, span, query, args)
		return rows, false, err
	}

	flight := strconv.FormatUint(version, 10) + "|" + string(key)
	detached := context.WithoutCancel(ctx)
	ch := e.group.DoChan(flight, func() (any, error) {
		return e.raw.Query(detached, query, args...)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return RowSet{}, false, res.Err
		}
		return res.Val.(RowSet), res.Shared, nil
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, ctx.Err().Error())
		return RowSet{}, false, ctx.Err()
	}
}

func (e *CachedExecutor) readDependencies(ctx context.Context, query string, opts callOptions) []string {
	analysis := e.classify(ctx, query)
	reads := analysis.ReadSet()

	var deps []string
	if reads.All {
		if analysis.Reason != "" {
			e.stats.unclassified.Inc()
			e.logger.DebugContext(ctx, "query cache read depends on all tables",
				slog.String("reason", analysis.Reason))
		}
		deps = append(deps, sqltables.Wildcard)
	} else {
		deps = append(deps, reads.Names...)
	}
	deps = append(deps, opts.tables...)
	return dedupeTables(deps)
}

// invalidate removes every entry registered under tables or under the
// wildcard, and returns how many were removed.
func (e *CachedExecutor) invalidate(tables []string) int {
	removed := 0
	e.mu.Lock()
	for _, table := range append(tables, sqltables.Wildcard) {
		for _, key := range e.index.Invalidate(table) {
			if e.store.Evict(key) {
				removed++
			}
		}
	}
	e.mu.Unlock()

	e.stats.invalidations.Add(int64(removed))
	return removed
}

// expandCascades returns tables plus every table reachable from them through
// the configured cascades.
func (e *CachedExecutor) expandCascades(tables []string) []string {
	out := dedupeTables(tables)
	seen := make(map[string]struct{}, len(out))
	for _, t := range out {
		seen[t] = struct{}{}
	}
	for i := 0; i < len(out); i++ {
		for _, dep := range e.cascades[out[i]] {
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			out = append(out, dep)
		}
	}
	return out
}

func (e *CachedExecutor) bypass(ctx context.Context, span trace.Span, stage, key string, err error) {
	e.stats.bypassed.Inc()
	span.SetAttributes(attribute.String("querycache.outcome", "bypass"))
	e.logger.DebugContext(ctx, "query cache bypass",
		slog.String("stage", stage), slog.String("key", key), slog.String("error", err.Error()))
}

func normalizeCascades(in map[string][]string) map[string][]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string][]string, len(in))
	for table, deps := range in {
		key := tableKey(table)
		out[key] = dedupeTables(append(out[key], deps...))
	}
	return out
}
