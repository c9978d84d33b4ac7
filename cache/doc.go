// Package cache caches the results of read queries in front of a database
// access layer and invalidates them when writes touch the tables they read.
//
// # Overview
//
// A CachedExecutor wraps a RawExecutor. Callers choose explicitly whether a
// statement is a read or a write:
//
//	exec, err := cache.New(raw, cache.DefaultConfig())
//	rows, err := exec.Read(ctx, "SELECT * FROM users WHERE id = $1", 7)
//	n, err := exec.Write(ctx, "UPDATE users SET name = $1 WHERE id = $2", "Bob", 7)
//
// Reads are keyed by KeyCodec on the normalized query text and the full
// encoding of every argument. On a miss the raw executor runs, the tables the
// query reads are extracted from its text, and the row set is stored in a
// bounded LRU with a per-entry TTL and registered under each of those tables.
//
// Writes run first. Only when they succeed are the tables they write
// extracted and every cached read registered under one of them dropped. Once
// Write returns, no later Read can observe a row set cached before it.
//
// # Table Extraction
//
// Statements are tokenized and classified against a small SQL subset:
// SELECT with joins, subqueries and CTEs; INSERT, UPDATE (including
// multi-table forms), DELETE, TRUNCATE and MERGE; and transaction control.
// A write the classifier cannot understand flushes the whole cache. A read
// whose tables are unknown depends on every table. A stale read is worse
// than a miss, so every uncertainty resolves towards invalidating more.
//
// Tables are indexed by their unqualified, lowercase name, so "Sales.Orders"
// and "orders" share invalidations.
//
// # Per-call Options
//
// Context options adjust single calls:
//
//	ctx = cache.WithoutCache(ctx)          // read straight from the database
//	ctx = cache.WithoutInvalidation(ctx)   // write without purging
//	ctx = cache.WithTables(ctx, "prices")  // extra read dependencies
//
// Config.Cascades declares tables changed implicitly by writes to others,
// such as ON DELETE CASCADE children or trigger targets.
//
// # Errors
//
// Errors from the raw executor are returned unchanged and never mutate the
// cache. Arguments or results the cache cannot key or copy (ErrUncacheable)
// are handled internally by running the query uncached and counting a bypass.
//
// # Concurrency
//
// A single mutex guards the store and the index; the raw executor is never
// called while it is held. A read miss that races a write still returns its
// result but does not cache it.
package cache
