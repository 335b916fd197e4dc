package local_cache

import (
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Window remembers keys for a fixed time. Claim is atomic across goroutines.
type Window struct {
	mu    sync.Mutex
	cache *ristretto.Cache
	ttl   time.Duration
	ns    string
}

// NewWindow keys entries under ns so several windows can share one cache.
func NewWindow(c *ristretto.Cache, ns string, ttl time.Duration) *Window {
	return &Window{cache: c, ttl: ttl, ns: ns}
}

func (w *Window) key(k string) string { return w.ns + ":" + k }

// Claim records key and reports true unless key was claimed within the window.
func (w *Window) Claim(key string) bool {
	k := w.key(key)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, found := w.cache.Get(k); found {
		return false
	}
	w.cache.SetWithTTL(k, time.Now(), 1, w.ttl)
	w.cache.Wait()
	return true
}

// Release forgets key, e.g. when the claimed work never started.
func (w *Window) Release(key string) {
	w.mu.Lock()
	w.cache.Del(w.key(key))
	w.mu.Unlock()
}

// Remaining returns how long key stays claimed, zero if it is not.
func (w *Window) Remaining(key string) time.Duration {
	ttl, found := w.cache.GetTTL(w.key(key))
	if !found {
		return 0
	}
	return ttl
}
