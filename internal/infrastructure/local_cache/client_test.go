package local_cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalCache(t *testing.T) {
	err := NewLocalCache()
	assert.NoError(t, err)

	success := Cache().Set("test-key", "test", 10)
	assert.Equal(t, true, success)

	time.Sleep(50 * time.Millisecond)

	val, success := Cache().Get("test-key")
	assert.Equal(t, "test", val)
	assert.Equal(t, true, success)
}

func TestWindow_Claim(t *testing.T) {
	c, err := New(WithNumCounters(1000), WithMaxCost(100))
	require.NoError(t, err)
	defer c.Close()

	w := NewWindow(c, "reboot", time.Minute)
	assert.True(t, w.Claim("system"))
	assert.False(t, w.Claim("system"))
	assert.Greater(t, w.Remaining("system"), 50*time.Second)

	other := NewWindow(c, "email", time.Minute)
	assert.True(t, other.Claim("system"))

	w.Release("system")
	assert.True(t, w.Claim("system"))
}

func TestWindow_ClaimIsExclusive(t *testing.T) {
	c, err := New(WithNumCounters(1000), WithMaxCost(100))
	require.NoError(t, err)
	defer c.Close()

	w := NewWindow(c, "reboot", time.Minute)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Claim("system") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestWindow_Expires(t *testing.T) {
	c, err := New(WithNumCounters(1000), WithMaxCost(100))
	require.NoError(t, err)
	defer c.Close()

	w := NewWindow(c, "reboot", 20*time.Millisecond)
	require.True(t, w.Claim("system"))
	assert.Eventually(t, func() bool { return w.Claim("system") }, time.Second, 10*time.Millisecond)
}
