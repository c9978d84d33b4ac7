package cache

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"

	"github.com/goliatone/go-query-cache/internal/cacheinfra"
)

// Config exposes the options of a CachedExecutor.
type Config struct {
	// MaxEntries bounds the number of cached row sets. Must be greater than 0.
	MaxEntries int
	// DefaultTTL is how long a cached row set stays valid. Must be greater than 0.
	DefaultTTL time.Duration
	// Enabled toggles caching. A disabled executor passes every call through.
	Enabled bool
	// Coalesce lets concurrent misses on the same key share one raw query.
	Coalesce bool
	// Cascades declares writes that implicitly change other tables, such as
	// ON DELETE CASCADE foreign keys or triggers. A write to a key table also
	// invalidates every listed table, transitively.
	Cascades map[string][]string
	// Classifier sizes the memo of statement classifications. A zero value
	// disables memoization.
	Classifier ClassifierConfig

	KeyCodec KeyCodec
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Tracer   trace.Tracer
}

// ClassifierConfig mirrors the sturdyc options of the classification memo.
type ClassifierConfig struct {
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries: 2000,
		DefaultTTL: 300 * time.Second,
		Enabled:    true,
		Classifier: convertFromInternal(cacheinfra.DefaultMemoConfig()),
	}
}

// Validate checks whether the configuration values are valid. The first
// failing field is reported as a *ConfigError.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.MaxEntries,
			validation.Required.Error("must be greater than 0"),
			validation.Min(1).Error("must be greater than 0"),
		),
		validation.Field(&c.DefaultTTL, validation.By(positiveDuration)),
		validation.Field(&c.Cascades, validation.By(validCascades)),
	)
	if err != nil {
		return toConfigError(err)
	}

	if c.Classifier != (ClassifierConfig{}) {
		if err := c.Classifier.toInternal().Validate(); err != nil {
			var cfgErr *ConfigError
			if errors.As(err, &cfgErr) {
				return &ConfigError{Field: "Classifier." + cfgErr.Field, Message: cfgErr.Message}
			}
			return err
		}
	}
	return nil
}

func positiveDuration(value any) error {
	d, _ := value.(time.Duration)
	if d <= 0 {
		return errors.New("must be greater than 0")
	}
	return nil
}

func validCascades(value any) error {
	cascades, _ := value.(map[string][]string)
	for table, dependents := range cascades {
		if strings.TrimSpace(table) == "" {
			return errors.New("table names must not be empty")
		}
		for _, dep := range dependents {
			if strings.TrimSpace(dep) == "" {
				return errors.Errorf("dependents of %q must not be empty", table)
			}
		}
	}
	return nil
}

func toConfigError(err error) error {
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make([]string, 0, len(verrs))
	for field := range verrs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range []string{"MaxEntries", "DefaultTTL", "Cascades"} {
		if fieldErr, ok := verrs[field]; ok {
			return &ConfigError{Field: field, Message: fieldErr.Error()}
		}
	}
	return &ConfigError{Field: fields[0], Message: verrs[fields[0]].Error()}
}

func (c ClassifierConfig) toInternal() cacheinfra.MemoConfig {
	return cacheinfra.MemoConfig{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
	}
}

func convertFromInternal(cfg cacheinfra.MemoConfig) ClassifierConfig {
	return ClassifierConfig{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
	}
}
