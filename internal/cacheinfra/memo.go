package cacheinfra

import (
	"context"
	"time"

	"github.com/viccon/sturdyc"
)

// MemoConfig holds the configuration for the sturdyc backed memo.
type MemoConfig struct {
	// Capacity defines the maximum number of memoized results.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of sturdyc shards.
	// Must be greater than 0 and not larger than Capacity.
	NumShards int

	// TTL is how long a memoized result is kept.
	// Must be greater than 0.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of a shard to evict
	// when it reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often sturdyc checks for expired entries.
	// Zero value uses the sturdyc default.
	EvictionInterval time.Duration
}

// DefaultMemoConfig returns a MemoConfig sized for statement classification:
// applications issue a bounded set of distinct parameterized statements.
func DefaultMemoConfig() MemoConfig {
	return MemoConfig{
		Capacity:           4096,
		NumShards:          16,
		TTL:                time.Hour,
		EvictionPercentage: 10,
	}
}

// Validate checks if the configuration values are valid.
func (c MemoConfig) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.NumShards > c.Capacity {
		return &ConfigError{Field: "NumShards", Message: "must not exceed Capacity"}
	}

	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}

	return nil
}

func (c MemoConfig) sturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Memo memoizes pure, deterministic computations keyed by string. Concurrent
// callers asking for the same key share one computation.
type Memo[T any] struct {
	client *sturdyc.Client[T]
}

// NewMemo validates cfg and builds a sturdyc client for it.
func NewMemo[T any](cfg MemoConfig) (*Memo[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[T](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.sturdycOptions()...,
	)

	return &Memo[T]{client: client}, nil
}

// GetOrCompute returns the memoized value for key, running compute on a miss.
// Errors from compute are returned and not memoized.
func (m *Memo[T]) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (T, error)) (T, error) {
	return m.client.GetOrFetch(ctx, key, compute)
}
