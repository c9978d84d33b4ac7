package di

import (
	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/pkg/metrics"
)

// MetricsNamespace prefixes the metrics exported by the container's collector.
const MetricsNamespace = "querycache"

// Container wires the application's single CachedExecutor together with the
// components that share it: the key codec and the metrics collector.
type Container struct {
	executor  *cache.CachedExecutor
	keyCodec  cache.KeyCodec
	collector *metrics.Collector
	config    cache.Config
}

// NewContainer creates a container whose executor fronts raw. The key codec
// defaults to cache.NewDefaultKeyCodec when config leaves it empty.
func NewContainer(raw cache.RawExecutor, config cache.Config) (*Container, error) {
	if config.KeyCodec == nil {
		config.KeyCodec = cache.NewDefaultKeyCodec()
	}

	executor, err := cache.New(raw, config)
	if err != nil {
		return nil, err
	}

	return &Container{
		executor:  executor,
		keyCodec:  config.KeyCodec,
		collector: metrics.NewCollector(MetricsNamespace, executor),
		config:    config,
	}, nil
}

// NewContainerWithDefaults creates a container using cache.DefaultConfig.
func NewContainerWithDefaults(raw cache.RawExecutor) (*Container, error) {
	return NewContainer(raw, cache.DefaultConfig())
}

// Executor returns the shared cached executor.
func (c *Container) Executor() *cache.CachedExecutor {
	return c.executor
}

// KeyCodec returns the key codec used by the executor.
func (c *Container) KeyCodec() cache.KeyCodec {
	return c.keyCodec
}

// Collector returns the Prometheus collector reading the executor's stats.
func (c *Container) Collector() *metrics.Collector {
	return c.collector
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() cache.Config {
	return c.config
}
