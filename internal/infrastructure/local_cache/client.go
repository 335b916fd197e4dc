// Package local_cache holds the in-process ristretto cache and the dedupe
// windows built on it.
package local_cache

import (
	"sync"

	"github.com/dgraph-io/ristretto"
)

type Options struct {
	NumCounters int64 // about 10x the expected number of live keys
	MaxCost     int64 // every entry costs 1
	BufferItems int64
	Metrics     bool
}

type Option func(*Options)

func WithNumCounters(n int64) Option { return func(o *Options) { o.NumCounters = n } }

func WithMaxCost(c int64) Option { return func(o *Options) { o.MaxCost = c } }

func WithMetrics() Option { return func(o *Options) { o.Metrics = true } }

// The controller keeps few keys: dedupe claims and the latest telemetry view.
func defaultOptions() Options {
	return Options{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	}
}

var (
	mu    sync.RWMutex
	cache *ristretto.Cache
)

// New builds an independent cache.
func New(opts ...Option) (*ristretto.Cache, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return ristretto.NewCache(&ristretto.Config{
		NumCounters:        o.NumCounters,
		MaxCost:            o.MaxCost,
		BufferItems:        o.BufferItems,
		Metrics:            o.Metrics,
		IgnoreInternalCost: true,
	})
}

// NewLocalCache builds the process-wide cache. Later calls are no-ops.
func NewLocalCache(opts ...Option) error {
	mu.Lock()
	defer mu.Unlock()
	if cache != nil {
		return nil
	}
	c, err := New(opts...)
	if err != nil {
		return err
	}
	cache = c
	return nil
}

func Cache() *ristretto.Cache {
	mu.RLock()
	defer mu.RUnlock()
	if cache == nil {
		panic("local cache not initialized; call NewLocalCache first")
	}
	return cache
}
