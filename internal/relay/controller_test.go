package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/infrastructure/metrics"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := t.stopped
	t.stopped = true
	return !was
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	ft.timers = append(ft.timers, t)
	return t
}

// fire runs the i-th timer callback even if it was stopped, the way a timer
// that already fired races with Stop.
func (ft *fakeTimers) fire(i int) {
	ft.mu.Lock()
	t := ft.timers[i]
	ft.mu.Unlock()
	t.f()
}

func (ft *fakeTimers) get(i int) *fakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.timers[i]
}

func newTestController(t *testing.T, cfgs []Config, opts ...Option) (*Controller, *MemoryDriver, *fakeTimers) {
	t.Helper()
	drv := NewMemoryDriver()
	timers := &fakeTimers{}
	base := []Option{
		WithTimerFunc(timers.AfterFunc),
		WithMetrics(metrics.New()),
		WithLogger(log.Nop()),
		WithWriteTimeout(100 * time.Millisecond),
	}
	c, err := NewController(cfgs, drv, append(base, opts...)...)
	require.NoError(t, err)
	return c, drv, timers
}

func relayCfg(id string, boot State) Config {
	return Config{ID: id, Name: id, Enabled: true, PulseTime: 5 * time.Second, BootState: boot}
}

func TestPulse_FromOnReturnsToOn(t *testing.T) {
	c, drv, timers := newTestController(t, []Config{relayCfg("relay_1", StateOn)})
	ctx := context.Background()
	c.Start(ctx)

	st, err := c.Pulse(ctx, "relay_1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatePulsing, st.State)
	assert.False(t, st.Output)
	require.NotNil(t, st.PulseReturn)
	assert.Equal(t, StateOn, *st.PulseReturn)
	assert.Equal(t, 5*time.Second, timers.get(0).d)

	timers.fire(0)
	st, err = c.Status("relay_1")
	require.NoError(t, err)
	assert.Equal(t, StateOn, st.State)
	assert.True(t, st.Output)
	assert.Equal(t, []bool{true, false, true}, drv.Writes("relay_1"))
}

func TestPulse_RealTimerReturnsAfterDuration(t *testing.T) {
	drv := NewMemoryDriver()
	c, err := NewController([]Config{relayCfg("relay_1", StateOn)}, drv,
		WithMetrics(metrics.New()), WithLogger(log.Nop()))
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Pulse(context.Background(), "relay_1", 60*time.Millisecond)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		st, _ := c.Status("relay_1")
		return st.State == StateOn
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestPulse_InterruptedBySetOn(t *testing.T) {
	c, drv, timers := newTestController(t, []Config{relayCfg("relay_2", StateOff)})
	ctx := context.Background()

	_, err := c.Pulse(ctx, "relay_2", 5*time.Second)
	require.NoError(t, err)

	st, err := c.SetOn(ctx, "relay_2")
	require.NoError(t, err)
	assert.Equal(t, StateOn, st.State)
	assert.Nil(t, st.PulseUntil)
	assert.True(t, timers.get(0).stopped)

	// The original pulse timer firing late must not turn the relay back off.
	timers.fire(0)
	st, err = c.Status("relay_2")
	require.NoError(t, err)
	assert.Equal(t, StateOn, st.State)
	assert.Equal(t, []bool{true}, drv.Writes("relay_2"))
}

func TestPulse_RestartWhilePulsing(t *testing.T) {
	c, drv, timers := newTestController(t, []Config{relayCfg("relay_3", StateOff)})
	ctx := context.Background()

	_, err := c.Pulse(ctx, "relay_3", 5*time.Second)
	require.NoError(t, err)
	st, err := c.Pulse(ctx, "relay_3", 8*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatePulsing, st.State)
	assert.True(t, timers.get(0).stopped)
	assert.Equal(t, 8*time.Second, timers.get(1).d)

	timers.fire(0)
	st, _ = c.Status("relay_3")
	assert.Equal(t, StatePulsing, st.State)

	timers.fire(1)
	st, _ = c.Status("relay_3")
	assert.Equal(t, StateOff, st.State)
	assert.Equal(t, []bool{true, false}, drv.Writes("relay_3"))
}

func TestPulse_DefaultsToConfiguredPulseTime(t *testing.T) {
	cfg := relayCfg("relay_4", StateOff)
	cfg.PulseTime = 3 * time.Second
	c, _, timers := newTestController(t, []Config{cfg})

	_, err := c.Pulse(context.Background(), "relay_4", 0)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, timers.get(0).d)
}

func TestSetOn_IdempotentAndToggle(t *testing.T) {
	c, drv, _ := newTestController(t, []Config{relayCfg("relay_1", StateOff)})
	ctx := context.Background()

	_, err := c.SetOn(ctx, "relay_1")
	require.NoError(t, err)
	_, err = c.SetOn(ctx, "relay_1")
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, drv.Writes("relay_1"))

	st, err := c.Toggle(ctx, "relay_1")
	require.NoError(t, err)
	assert.Equal(t, StateOff, st.State)
}

func TestDisabledRelayRejectsCommands(t *testing.T) {
	cfg := relayCfg("relay_5", StateOn)
	cfg.Enabled = false
	c, drv, _ := newTestController(t, []Config{cfg})
	ctx := context.Background()
	c.Start(ctx)

	_, err := c.SetOff(ctx, "relay_5")
	assert.ErrorIs(t, err, cerrors.ErrRelayDisabled)
	_, err = c.Pulse(ctx, "relay_5", time.Second)
	assert.ErrorIs(t, err, cerrors.ErrRelayDisabled)

	st, err := c.Status("relay_5")
	require.NoError(t, err)
	assert.Equal(t, StateOn, st.State)
	assert.Empty(t, drv.Writes("relay_5"))
}

func TestUnknownRelay(t *testing.T) {
	c, _, _ := newTestController(t, []Config{relayCfg("relay_1", StateOff)})
	_, err := c.SetOn(context.Background(), "relay_9")
	assert.ErrorIs(t, err, cerrors.ErrRelayNotFound)
}

func TestWrite_RetriesOnceThenFaults(t *testing.T) {
	m := metrics.New()
	c, drv, _ := newTestController(t, []Config{relayCfg("relay_1", StateOff)}, WithMetrics(m))
	ctx := context.Background()

	drv.FailNext("relay_1", errors.New("i2c nack"))
	st, err := c.SetOn(ctx, "relay_1")
	require.NoError(t, err)
	assert.False(t, st.Fault)

	drv.FailNext("relay_1", errors.New("i2c nack"), errors.New("i2c nack"))
	st, err = c.SetOff(ctx, "relay_1")
	var fault *cerrors.RelayFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "relay_1", fault.RelayID)
	assert.True(t, st.Fault)
	assert.Equal(t, StateOn, st.State)
	assert.NotNil(t, st.FaultSince)
	assert.Equal(t, []string{"relay_1"}, c.Faulted())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RelayFault.WithLabelValues("relay_1")))

	// Commands to a faulted relay are accepted and a successful write clears the fault.
	st, err = c.SetOff(ctx, "relay_1")
	require.NoError(t, err)
	assert.False(t, st.Fault)
	assert.Equal(t, StateOff, st.State)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RelayFault.WithLabelValues("relay_1")))
}

func TestWrite_TimeoutCountsAsFailure(t *testing.T) {
	c, drv, _ := newTestController(t, []Config{relayCfg("relay_1", StateOff)}, WithWriteTimeout(10*time.Millisecond))
	drv.SetDelay(200 * time.Millisecond)

	_, err := c.SetOn(context.Background(), "relay_1")
	var fault *cerrors.RelayFault
	require.ErrorAs(t, err, &fault)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPulse_WriteFailureLeavesStableState(t *testing.T) {
	c, drv, timers := newTestController(t, []Config{relayCfg("relay_1", StateOff)})
	drv.FailNext("relay_1", errors.New("bus"), errors.New("bus"))

	st, err := c.Pulse(context.Background(), "relay_1", time.Second)
	assert.Error(t, err)
	assert.Equal(t, StateOff, st.State)
	assert.True(t, st.Fault)
	assert.Empty(t, timers.timers)
}

func TestNormallyClosedInvertsOutput(t *testing.T) {
	cfg := relayCfg("relay_6", StateOff)
	cfg.NormallyClosed = true
	c, drv, _ := newTestController(t, []Config{cfg})
	ctx := context.Background()
	c.Start(ctx)

	_, err := c.SetOn(ctx, "relay_6")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, drv.Writes("relay_6"))
}

func TestCommandsSerializedPerRelay(t *testing.T) {
	var cfgs []Config
	for i := 1; i <= 10; i++ {
		cfgs = append(cfgs, relayCfg(fmt.Sprintf("relay_%d", i), StateOff))
	}
	c, drv, _ := newTestController(t, cfgs)
	drv.SetDelay(time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("relay_%d", i%10+1)
			if i%2 == 0 {
				_, _ = c.SetOn(context.Background(), id)
			} else {
				_, _ = c.SetOff(context.Background(), id)
			}
		}(i)
	}
	wg.Wait()

	for _, cfg := range cfgs {
		assert.False(t, drv.Overlapped(cfg.ID), cfg.ID)
		st, err := c.Status(cfg.ID)
		require.NoError(t, err)
		out, _ := drv.Output(cfg.ID)
		assert.Equal(t, st.Output, out)
	}
}

func TestListenerAndReconfigure(t *testing.T) {
	var mu sync.Mutex
	var seen []Status
	c, _, _ := newTestController(t, []Config{relayCfg("relay_1", StateOff)}, WithStateListener(func(st Status) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	}))

	_, err := c.SetOn(context.Background(), "relay_1")
	require.NoError(t, err)
	mu.Lock()
	require.Len(t, seen, 1)
	assert.Equal(t, StateOn, seen[0].State)
	mu.Unlock()

	updated := relayCfg("relay_1", StateOff)
	updated.Name = "Pump"
	updated.PulseTime = 9 * time.Second
	require.NoError(t, c.Reconfigure([]Config{updated}))
	cfg, err := c.Config("relay_1")
	require.NoError(t, err)
	assert.Equal(t, "Pump", cfg.Name)
	assert.Equal(t, 9*time.Second, cfg.PulseTime)

	err = c.Reconfigure([]Config{updated, relayCfg("relay_7", StateOff)})
	var verr *cerrors.ConfigValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestNewController_RejectsDuplicateIDs(t *testing.T) {
	_, err := NewController([]Config{relayCfg("relay_1", StateOff), relayCfg("relay_1", StateOn)}, NewMemoryDriver())
	var verr *cerrors.ConfigValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Details, 1)
}

func TestParseStateAndCommand(t *testing.T) {
	s, err := ParseState("ON")
	require.NoError(t, err)
	assert.Equal(t, StateOn, s)
	_, err = ParseState("pulsing")
	assert.Error(t, err)

	k, err := ParseCommandKind("Pulse")
	require.NoError(t, err)
	assert.Equal(t, CommandPulse, k)
	_, err = ParseCommandKind("blink")
	assert.Error(t, err)
}

func TestStatus_JSONRoundTripWhilePulsing(t *testing.T) {
	prev := StateOn
	until := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	in := Status{ID: "relay_1", Enabled: true, State: StatePulsing, PulseUntil: &until, PulseReturn: &prev}

	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"state":"PULSING"`)

	var out Status
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, StatePulsing, out.State)
	require.NotNil(t, out.PulseReturn)
	assert.Equal(t, StateOn, *out.PulseReturn)

	var st State
	assert.Error(t, st.UnmarshalText([]byte("blinking")))
}
