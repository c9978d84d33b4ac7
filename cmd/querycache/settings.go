package main

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/goliatone/go-query-cache/cache"
)

const (
	keyMaxEntries  = "max-entries"
	keyDefaultTTL  = "default-ttl"
	keyEnabled     = "enabled"
	keyCoalesce    = "coalesce"
	keyLogLevel    = "log-level"
	keyCascades    = "cascades"
	keyDriver      = "driver"
	keyDSN         = "dsn"
	keyMetricsAddr = "metrics-addr"
)

// settings is the resolved CLI configuration. Flags win over environment
// variables, which win over the config file.
type settings struct {
	MaxEntries int
	DefaultTTL time.Duration
	Enabled    bool
	Coalesce   bool
	LogLevel   string
	Cascades   map[string][]string
}

var defaultSettings = func() settings {
	cfg := cache.DefaultConfig()
	return settings{
		MaxEntries: cfg.MaxEntries,
		DefaultTTL: cfg.DefaultTTL,
		Enabled:    cfg.Enabled,
		LogLevel:   "info",
	}
}()

func loadSettings(v *viper.Viper) settings {
	s := settings{
		MaxEntries: v.GetInt(keyMaxEntries),
		DefaultTTL: v.GetDuration(keyDefaultTTL),
		Enabled:    v.GetBool(keyEnabled),
		Coalesce:   v.GetBool(keyCoalesce),
		LogLevel:   v.GetString(keyLogLevel),
	}
	if v.IsSet(keyCascades) {
		s.Cascades = v.GetStringMapStringSlice(keyCascades)
	}
	return s
}

// cacheConfig builds a validated cache configuration logging to w.
func (s settings) cacheConfig(w io.Writer) (cache.Config, error) {
	cfg := cache.DefaultConfig()
	cfg.MaxEntries = s.MaxEntries
	cfg.DefaultTTL = s.DefaultTTL
	cfg.Enabled = s.Enabled
	cfg.Coalesce = s.Coalesce
	cfg.Cascades = s.Cascades
	cfg.Logger = newLogger(s.LogLevel, w)

	if err := cfg.Validate(); err != nil {
		return cache.Config{}, err
	}
	return cfg, nil
}

func newLogger(level string, w io.Writer) *slog.Logger {
	lvl := new(slog.LevelVar)
	switch strings.ToLower(level) {
	case "debug":
		lvl.Set(slog.LevelDebug)
	case "warn", "warning":
		lvl.Set(slog.LevelWarn)
	case "error":
		lvl.Set(slog.LevelError)
	default:
		lvl.Set(slog.LevelInfo)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
