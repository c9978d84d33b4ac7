// Package metrics exports query cache statistics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-query-cache/cache"
)

// StatsSource is anything that can report cache statistics, usually a
// *cache.CachedExecutor.
type StatsSource interface {
	Stats() cache.StatsSnapshot
}

// Collector reads a StatsSource on every scrape. Counters mirror the
// executor's own counters, so ResetStats shows up as a counter reset.
type Collector struct {
	source StatsSource

	hits          *prometheus.Desc
	misses        *prometheus.Desc
	evictions     *prometheus.Desc
	invalidations *prometheus.Desc
	requests      *prometheus.Desc
	unclassified  *prometheus.Desc
	bypassed      *prometheus.Desc
	entries       *prometheus.Desc
	hitRate       *prometheus.Desc
}

// NewCollector builds a Collector for source. Metric names are prefixed with
// namespace when it is not empty.
func NewCollector(namespace string, source StatsSource) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "query_cache", name), help, nil, nil)
	}
	return &Collector{
		source:        source,
		hits:          desc("hits_total", "Reads served from the cache."),
		misses:        desc("misses_total", "Reads that went to the database."),
		evictions:     desc("evictions_total", "Entries removed by capacity or expiry."),
		invalidations: desc("invalidations_total", "Entries removed by writes and flushes."),
		requests:      desc("requests_total", "Read calls, cached or not."),
		unclassified:  desc("unclassified_statements_total", "Statements whose tables could not be determined."),
		bypassed:      desc("bypassed_total", "Reads served uncached because a key or copy failed."),
		entries:       desc("entries", "Cached row sets."),
		hitRate:       desc("hit_ratio", "Hits divided by hits plus misses."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
	ch <- c.invalidations
	ch <- c.requests
	ch <- c.unclassified
	ch <- c.bypassed
	ch <- c.entries
	ch <- c.hitRate
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(c.invalidations, prometheus.CounterValue, float64(s.Invalidations))
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(s.TotalRequests))
	ch <- prometheus.MustNewConstMetric(c.unclassified, prometheus.CounterValue, float64(s.Unclassified))
	ch <- prometheus.MustNewConstMetric(c.bypassed, prometheus.CounterValue, float64(s.Bypassed))
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.Entries))
	ch <- prometheus.MustNewConstMetric(c.hitRate, prometheus.GaugeValue, s.HitRate)
}

var _ prometheus.Collector = (*Collector)(nil)

// NewRegistry returns a registry holding the collector plus the Go and
// process collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	registry.MustRegister(c)
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
