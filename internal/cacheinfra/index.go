package cacheinfra

import "sort"

// Index maps tables to the cache keys that depend on them, and keys back to
// their tables so a key can be dropped from every table at once.
// It never owns entries. It is not safe for concurrent use.
type Index struct {
	byTable  map[string]map[string]struct{}
	byKey    map[string]map[string]struct{}
	versions map[string]uint64
	flushes  uint64
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{
		byTable:  make(map[string]map[string]struct{}),
		byKey:    make(map[string]map[string]struct{}),
		versions: make(map[string]uint64),
	}
}

// Register records key under every table in tables.
func (x *Index) Register(key string, tables []string) {
	if len(tables) == 0 {
		return
	}
	deps, ok := x.byKey[key]
	if !ok {
		deps = make(map[string]struct{}, len(tables))
		x.byKey[key] = deps
	}
	for _, table := range tables {
		deps[table] = struct{}{}
		keys, ok := x.byTable[table]
		if !ok {
			keys = make(map[string]struct{})
			x.byTable[table] = keys
		}
		keys[key] = struct{}{}
	}
}

// Invalidate removes and returns every key registered under table. Each
// removed key is also dropped from the other tables it was registered under.
// The table's version is bumped even when no key depends on it.
func (x *Index) Invalidate(table string) []string {
	x.versions[table]++

	keys, ok := x.byTable[table]
	if !ok {
		return nil
	}
	delete(x.byTable, table)

	removed := make([]string, 0, len(keys))
	for key := range keys {
		for other := range x.byKey[key] {
			if other != table {
				x.dropKeyFromTable(other, key)
			}
		}
		delete(x.byKey, key)
		removed = append(removed, key)
	}
	sort.Strings(removed)
	return removed
}

// Unregister drops key from every table. Unknown keys are ignored.
func (x *Index) Unregister(key string) {
	for table := range x.byKey[key] {
		x.dropKeyFromTable(table, key)
	}
	delete(x.byKey, key)
}

// Clear drops every registration and bumps the flush generation.
func (x *Index) Clear() {
	x.byTable = make(map[string]map[string]struct{})
	x.byKey = make(map[string]map[string]struct{})
	x.flushes++
}

// Version returns a stamp that changes whenever one of tables is invalidated
// or the index is cleared. Counters only grow, so equal stamps mean nothing
// happened in between.
func (x *Index) Version(tables []string) uint64 {
	v := x.flushes
	for _, table := range tables {
		v += x.versions[table]
	}
	return v
}

// Tables returns the tables key is registered under, sorted.
func (x *Index) Tables(key string) []string {
	return sortedSet(x.byKey[key])
}

// Keys returns the keys registered under table, sorted.
func (x *Index) Keys(table string) []string {
	return sortedSet(x.byTable[table])
}

// Len returns the number of registered keys.
func (x *Index) Len() int {
	return len(x.byKey)
}

func (x *Index) dropKeyFromTable(table, key string) {
	keys, ok := x.byTable[table]
	if !ok {
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(x.byTable, table)
	}
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
