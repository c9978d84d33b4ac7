package cacheinfra

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jonboulle/clockwork"
)

// Recorder receives the store's hit, miss and eviction events.
type Recorder interface {
	RecordHit()
	RecordMiss()
	RecordEviction()
}

type nopRecorder struct{}

func (nopRecorder) RecordHit()      {}
func (nopRecorder) RecordMiss()     {}
func (nopRecorder) RecordEviction() {}

// StoreConfig configures a Store.
type StoreConfig struct {
	// MaxEntries bounds the number of live entries. Must be greater than 0.
	MaxEntries int
	// DefaultTTL applies to Put calls with a non-positive ttl. Must be greater than 0.
	DefaultTTL time.Duration
	// Clock defaults to the real clock.
	Clock clockwork.Clock
	// Recorder defaults to a no-op recorder.
	Recorder Recorder
	// OnRemove is called with the key of every entry leaving the store, for
	// any reason: expiry, capacity eviction, explicit eviction or EvictAll.
	OnRemove func(key string)
}

// Validate checks if the configuration values are valid.
func (c StoreConfig) Validate() error {
	if c.MaxEntries <= 0 {
		return &ConfigError{Field: "MaxEntries", Message: "must be greater than 0"}
	}
	if c.DefaultTTL <= 0 {
		return &ConfigError{Field: "DefaultTTL", Message: "must be greater than 0"}
	}
	return nil
}

type entry[V any] struct {
	key          string
	value        V
	insertedAt   time.Time
	expiresAt    time.Time
	lastAccessed time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// Store is a bounded LRU container with per-entry TTL.
// It is not safe for concurrent use; callers serialize access.
type Store[V any] struct {
	lru      *simplelru.LRU[string, *entry[V]]
	clock    clockwork.Clock
	ttl      time.Duration
	recorder Recorder
	onRemove func(key string)
}

// NewStore builds a Store from cfg.
func NewStore[V any](cfg StoreConfig) (*Store[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store[V]{
		clock:    cfg.Clock,
		ttl:      cfg.DefaultTTL,
		recorder: cfg.Recorder,
		onRemove: cfg.OnRemove,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}

	lru, err := simplelru.NewLRU[string, *entry[V]](cfg.MaxEntries, s.removed)
	if err != nil {
		return nil, err
	}
	s.lru = lru
	return s, nil
}

func (s *Store[V]) removed(key string, _ *entry[V]) {
	if s.onRemove != nil {
		s.onRemove(key)
	}
}

// Get returns the live value for key and marks it most recently used.
// An expired entry is removed and reported as a miss.
func (s *Store[V]) Get(key string) (V, bool) {
	var zero V

	e, ok := s.lru.Peek(key)
	if !ok {
		s.recorder.RecordMiss()
		return zero, false
	}

	now := s.clock.Now()
	if e.expired(now) {
		s.lru.Remove(key)
		s.recorder.RecordMiss()
		s.recorder.RecordEviction()
		return zero, false
	}

	s.lru.Get(key)
	e.lastAccessed = now
	s.recorder.RecordHit()
	return e.value, true
}

// Put stores value under key. A non-positive ttl uses the default TTL.
// When the store is full the least recently used entry is evicted first.
func (s *Store[V]) Put(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.clock.Now()
	e := &entry[V]{
		key:          key,
		value:        value,
		insertedAt:   now,
		expiresAt:    now.Add(ttl),
		lastAccessed: now,
	}
	if evicted := s.lru.Add(key, e); evicted {
		s.recorder.RecordEviction()
	}
}

// Evict removes key and reports whether it was present.
func (s *Store[V]) Evict(key string) bool {
	return s.lru.Remove(key)
}

// EvictAll removes every entry and returns how many were removed.
func (s *Store[V]) EvictAll() int {
	n := s.lru.Len()
	s.lru.Purge()
	return n
}

// Sweep removes every expired entry and returns how many were removed.
func (s *Store[V]) Sweep() int {
	now := s.clock.Now()
	removed := 0
	for _, key := range s.lru.Keys() {
		e, ok := s.lru.Peek(key)
		if !ok || !e.expired(now) {
			continue
		}
		s.lru.Remove(key)
		s.recorder.RecordEviction()
		removed++
	}
	return removed
}

// Keys returns the keys from least to most recently used.
func (s *Store[V]) Keys() []string {
	return s.lru.Keys()
}

// Size returns the number of entries, including expired ones not yet removed.
func (s *Store[V]) Size() int {
	return s.lru.Len()
}
