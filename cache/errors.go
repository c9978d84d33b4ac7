package cache

import (
	"github.com/pkg/errors"

	"github.com/goliatone/go-query-cache/internal/cacheinfra"
)

var (
	// ErrUncacheable marks a query argument or result value the cache cannot
	// key or copy. The executor recovers from it by running the query uncached.
	ErrUncacheable = errors.New("cache: uncacheable value")

	// ErrNilExecutor is returned by New when no RawExecutor is given.
	ErrNilExecutor = errors.New("cache: raw executor is nil")
)

// ConfigError represents a configuration validation error.
type ConfigError = cacheinfra.ConfigError

// maxDepth bounds recursion when encoding arguments or copying rows.
const maxDepth = 32
