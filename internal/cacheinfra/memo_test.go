package cacheinfra

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultMemoConfig(t *testing.T) {
	cfg := DefaultMemoConfig()

	if cfg.Capacity != 4096 {
		t.Errorf("expected Capacity to be 4096, got %d", cfg.Capacity)
	}

	if cfg.NumShards != 16 {
		t.Errorf("expected NumShards to be 16, got %d", cfg.NumShards)
	}

	if cfg.TTL != time.Hour {
		t.Errorf("expected TTL to be 1 hour, got %v", cfg.TTL)
	}

	if cfg.EvictionPercentage != 10 {
		t.Errorf("expected EvictionPercentage to be 10, got %d", cfg.EvictionPercentage)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to be valid, got %v", err)
	}
}

func TestMemoConfig_Validate(t *testing.T) {
	valid := DefaultMemoConfig()

	tests := []struct {
		name    string
		mutate  func(*MemoConfig)
		field   string
		wantErr bool
	}{
		{name: "valid", mutate: func(*MemoConfig) {}},
		{name: "zero capacity", mutate: func(c *MemoConfig) { c.Capacity = 0 }, field: "Capacity", wantErr: true},
		{name: "zero shards", mutate: func(c *MemoConfig) { c.NumShards = 0 }, field: "NumShards", wantErr: true},
		{name: "shards above capacity", mutate: func(c *MemoConfig) { c.Capacity = 4; c.NumShards = 8 }, field: "NumShards", wantErr: true},
		{name: "zero ttl", mutate: func(c *MemoConfig) { c.TTL = 0 }, field: "TTL", wantErr: true},
		{name: "eviction percentage too low", mutate: func(c *MemoConfig) { c.EvictionPercentage = 0 }, field: "EvictionPercentage", wantErr: true},
		{name: "eviction percentage too high", mutate: func(c *MemoConfig) { c.EvictionPercentage = 101 }, field: "EvictionPercentage", wantErr: true},
		{name: "negative eviction interval", mutate: func(c *MemoConfig) { c.EvictionInterval = -time.Second }, field: "EvictionInterval", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			err := cfg.Validate()
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got %T (%v)", err, err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, cfgErr.Field)
			}
		})
	}
}

func TestNewMemo_InvalidConfig(t *testing.T) {
	if _, err := NewMemo[int](MemoConfig{}); err == nil {
		t.Fatal("expected error for zero config")
	}
}

func TestMemo_GetOrCompute(t *testing.T) {
	memo, err := NewMemo[string](DefaultMemoConfig())
	if err != nil {
		t.Fatalf("failed to create memo: %v", err)
	}

	ctx := context.Background()
	var calls int32
	compute := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "computed", nil
	}

	for i := 0; i < 3; i++ {
		got, err := memo.GetOrCompute(ctx, "k", compute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "computed" {
			t.Errorf("expected computed, got %q", got)
		}
	}

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected compute to run once, ran %d times", n)
	}
}

func TestMemo_ErrorsAreNotMemoized(t *testing.T) {
	memo, err := NewMemo[int](DefaultMemoConfig())
	if err != nil {
		t.Fatalf("failed to create memo: %v", err)
	}

	boom := errors.New("boom")
	calls := 0
	compute := func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, boom
		}
		return 7, nil
	}

	if _, err := memo.GetOrCompute(context.Background(), "k", compute); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := memo.GetOrCompute(context.Background(), "k", compute)
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
}

func TestMemo_ConcurrentAccess(t *testing.T) {
	memo, err := NewMemo[int](DefaultMemoConfig())
	if err != nil {
		t.Fatalf("failed to create memo: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := memo.GetOrCompute(context.Background(), "shared", func(context.Context) (int, error) {
				return 42, nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if got != 42 {
				t.Errorf("expected 42, got %d", got)
			}
		}()
	}
	wg.Wait()
}
