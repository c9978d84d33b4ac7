package cache

import "github.com/puzpuzpuz/xsync/v3"

// StatsSnapshot is a point-in-time copy of the executor counters.
type StatsSnapshot struct {
	Hits      int64
	Misses    int64
	Evictions int64
	// Invalidations counts entries removed by writes and flushes.
	Invalidations int64
	// TotalRequests counts Read calls, cached or not.
	TotalRequests int64
	// Unclassified counts statements whose tables could not be determined.
	Unclassified int64
	// Bypassed counts reads served uncached because a key or copy failed.
	Bypassed int64
	// Entries is the number of cached row sets.
	Entries int
	// HitRate is Hits / (Hits + Misses), or 0 before any lookup.
	HitRate float64
}

// stats holds the process-wide counters. It also receives the store's
// hit, miss and eviction events.
type stats struct {
	hits          *xsync.Counter
	misses        *xsync.Counter
	evictions     *xsync.Counter
	invalidations *xsync.Counter
	requests      *xsync.Counter
	unclassified  *xsync.Counter
	bypassed      *xsync.Counter
}

func newStats() *stats {
	return &stats{
		hits:          xsync.NewCounter(),
		misses:        xsync.NewCounter(),
		evictions:     xsync.NewCounter(),
		invalidations: xsync.NewCounter(),
		requests:      xsync.NewCounter(),
		unclassified:  xsync.NewCounter(),
		bypassed:      xsync.NewCounter(),
	}
}

func (s *stats) RecordHit()      { s.hits.Inc() }
func (s *stats) RecordMiss()     { s.misses.Inc() }
func (s *stats) RecordEviction() { s.evictions.Inc() }

func (s *stats) snapshot() StatsSnapshot {
	out := StatsSnapshot{
		Hits:          s.hits.Value(),
		Misses:        s.misses.Value(),
		Evictions:     s.evictions.Value(),
		Invalidations: s.invalidations.Value(),
		TotalRequests: s.requests.Value(),
		Unclassified:  s.unclassified.Value(),
		Bypassed:      s.bypassed.Value(),
	}
	if lookups := out.Hits + out.Misses; lookups > 0 {
		out.HitRate = float64(out.Hits) / float64(lookups)
	}
	return out
}

func (s *stats) reset() {
	s.hits.Reset()
	s.misses.Reset()
	s.evictions.Reset()
	s.invalidations.Reset()
	s.requests.Reset()
	s.unclassified.Reset()
	s.bypassed.Reset()
}
