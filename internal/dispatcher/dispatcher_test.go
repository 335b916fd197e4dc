package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/infrastructure/metrics"
	"github.com/okieraised/relay-controller/internal/notify"
	"github.com/okieraised/relay-controller/internal/reboot"
	"github.com/okieraised/relay-controller/internal/relay"
	"github.com/okieraised/relay-controller/internal/rules"
	"github.com/okieraised/relay-controller/internal/worker"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	d       *Dispatcher
	ctrl    *relay.Controller
	driver  *relay.MemoryDriver
	sender  *notify.MemorySender
	trigger *reboot.MemoryTrigger
	metrics *metrics.Metrics
}

func testConfig() Config {
	return Config{
		Workers:        4,
		QueueSize:      256,
		MaxAttempts:    4,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		CallTimeout:    time.Second,
		GracePeriod:    time.Second,
		RebootDedupe:   time.Minute,
	}
}

func newFixture(t *testing.T, cfg Config, relayCount int) *fixture {
	t.Helper()
	m := metrics.New()
	drv := relay.NewMemoryDriver()
	var cfgs []relay.Config
	for i := 1; i <= relayCount; i++ {
		cfgs = append(cfgs, relay.Config{ID: fmt.Sprintf("relay_%d", i), Enabled: true, PulseTime: time.Second})
	}
	ctrl, err := relay.NewController(cfgs, drv, relay.WithMetrics(m), relay.WithLogger(log.Nop()))
	require.NoError(t, err)

	f := &fixture{
		ctrl:    ctrl,
		driver:  drv,
		sender:  notify.NewMemorySender(),
		trigger: &reboot.MemoryTrigger{},
		metrics: m,
	}
	f.d, err = New(cfg, ctrl, f.sender, f.trigger, WithLogger(log.Nop()), WithMetrics(m))
	require.NoError(t, err)
	require.NoError(t, f.d.Start(context.Background()))
	return f
}

func collect(t *testing.T, d *Dispatcher, n int) []Outcome {
	t.Helper()
	out := make([]Outcome, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case o, ok := <-d.Results():
			require.True(t, ok, "results closed after %d outcomes", len(out))
			out = append(out, o)
		case <-timeout:
			t.Fatalf("got %d of %d outcomes", len(out), n)
		}
	}
	return out
}

func byType(outs []Outcome) map[rules.ActionType]Outcome {
	m := make(map[rules.ActionType]Outcome, len(outs))
	for _, o := range outs {
		m[o.Request.Action.Type()] = o
	}
	return m
}

func TestIOActions_FinalStateFollowsSubmissionOrder(t *testing.T) {
	f := newFixture(t, testConfig(), 10)
	f.driver.SetDelay(time.Millisecond)

	var mu sync.Mutex
	last := map[string]relay.CommandKind{}
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := fmt.Sprintf("relay_%d", i%10+1)
			state := relay.CommandOn
			if (i/10)%2 == 1 {
				state = relay.CommandOff
			}
			mu.Lock()
			_, err := f.d.Submit(Request{Origin: OriginAPI, Action: rules.IoAction{Target: target, State: state}})
			if err == nil {
				last[target] = state
			}
			mu.Unlock()
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	outs := collect(t, f.d, 100)
	for _, o := range outs {
		assert.Equal(t, ResultSucceeded, o.Result)
	}
	require.Len(t, last, 10)
	for id, kind := range last {
		st, err := f.ctrl.Status(id)
		require.NoError(t, err)
		assert.Equal(t, kind == relay.CommandOn, st.Output, id)
		assert.False(t, f.driver.Overlapped(id), id)
	}
	assert.Equal(t, 10, f.d.Stats().Lanes)
	require.NoError(t, f.d.Stop(time.Second))
}

func TestRetryExhaustion_SiblingsUnaffected(t *testing.T) {
	f := newFixture(t, testConfig(), 2)
	f.sender.FailAlways(errors.New("421 service not available"))

	for _, a := range []rules.Action{
		rules.EmailAction{Message: "battery low"},
		rules.IoAction{Target: "relay_2", State: relay.CommandOn},
		rules.LogAction{Message: "Alert from rule 'low'"},
	} {
		_, err := f.d.Submit(Request{Origin: OriginRule, RuleID: "low", Action: a})
		require.NoError(t, err)
	}

	outs := byType(collect(t, f.d, 3))
	email := outs[rules.ActionEmail]
	assert.Equal(t, ResultFailed, email.Result)
	assert.Equal(t, 4, email.Attempts)
	assert.Equal(t, 4, f.sender.Calls())
	var failure *cerrors.ActionDispatchFailure
	require.ErrorAs(t, email.Err, &failure)
	assert.True(t, failure.Retryable)
	assert.Equal(t, 4, failure.Attempts)
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.ActionAttempts.WithLabelValues("email")))

	assert.Equal(t, ResultSucceeded, outs[rules.ActionIO].Result)
	require.NotNil(t, outs[rules.ActionIO].Relay)
	assert.Equal(t, relay.StateOn, outs[rules.ActionIO].Relay.State)
	assert.Equal(t, ResultSucceeded, outs[rules.ActionLog].Result)
}

func TestFatalErrorNotRetried(t *testing.T) {
	f := newFixture(t, testConfig(), 0)
	f.sender.FailAlways(notify.Fatal(errors.New("550 mailbox unavailable")))

	_, err := f.d.Submit(Request{Action: rules.EmailAction{Message: "x"}})
	require.NoError(t, err)
	out := collect(t, f.d, 1)[0]
	assert.Equal(t, ResultFailed, out.Result)
	assert.Equal(t, 1, out.Attempts)
	var failure *cerrors.ActionDispatchFailure
	require.ErrorAs(t, out.Err, &failure)
	assert.False(t, failure.Retryable)
}

func TestTransientThenSuccess(t *testing.T) {
	f := newFixture(t, testConfig(), 0)
	f.sender.FailNext(errors.New("timeout"), errors.New("timeout"))

	_, err := f.d.Submit(Request{Action: rules.EmailAction{Message: "x", Recipients: []string{"ops@example.com"}}})
	require.NoError(t, err)
	out := collect(t, f.d, 1)[0]
	assert.Equal(t, ResultSucceeded, out.Result)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, []notify.Sent{{Message: "x", Recipients: []string{"ops@example.com"}}}, f.sender.Sent())
}

func TestCallTimeoutIsRetryable(t *testing.T) {
	cfg := testConfig()
	cfg.CallTimeout = 20 * time.Millisecond
	cfg.MaxAttempts = 2
	f := newFixture(t, cfg, 0)
	f.sender.Block(make(chan struct{}))

	_, err := f.d.Submit(Request{Action: rules.EmailAction{Message: "x"}})
	require.NoError(t, err)
	out := collect(t, f.d, 1)[0]
	assert.Equal(t, ResultFailed, out.Result)
	assert.Equal(t, 2, out.Attempts)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

func TestIOFaultReported(t *testing.T) {
	f := newFixture(t, testConfig(), 1)
	f.driver.FailNext("relay_1", errors.New("nack"), errors.New("nack"))

	_, err := f.d.Submit(Request{Action: rules.IoAction{Target: "relay_1", State: relay.CommandOn}})
	require.NoError(t, err)
	out := collect(t, f.d, 1)[0]
	assert.Equal(t, ResultFailed, out.Result)
	assert.Equal(t, 1, out.Attempts)
	var fault *cerrors.RelayFault
	require.ErrorAs(t, out.Err, &fault)
	assert.Equal(t, "relay_1", fault.RelayID)
	require.NotNil(t, out.Relay)
	assert.True(t, out.Relay.Fault)
}

func TestRebootDedupe(t *testing.T) {
	f := newFixture(t, testConfig(), 0)

	_, err := f.d.Submit(Request{Action: rules.RebootAction{}})
	require.NoError(t, err)
	first := collect(t, f.d, 1)[0]
	_, err = f.d.Submit(Request{Action: rules.RebootAction{}})
	require.NoError(t, err)
	second := collect(t, f.d, 1)[0]

	assert.Equal(t, ResultSucceeded, first.Result)
	assert.Equal(t, ResultSkipped, second.Result)
	assert.Equal(t, 1, f.trigger.Calls())
}

func TestRebootFailureReleasesDedupe(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	f := newFixture(t, cfg, 0)
	f.trigger.FailNext(errors.New("permission denied"))

	_, err := f.d.Submit(Request{Action: rules.RebootAction{}})
	require.NoError(t, err)
	assert.Equal(t, ResultFailed, collect(t, f.d, 1)[0].Result)

	_, err = f.d.Submit(Request{Action: rules.RebootAction{}})
	require.NoError(t, err)
	assert.Equal(t, ResultSucceeded, collect(t, f.d, 1)[0].Result)
	assert.Equal(t, 2, f.trigger.Calls())
}

func TestStop_DrainsWithinGrace(t *testing.T) {
	f := newFixture(t, testConfig(), 0)
	for i := 0; i < 20; i++ {
		_, err := f.d.Submit(Request{Action: rules.LogAction{Message: "m"}})
		require.NoError(t, err)
	}
	require.NoError(t, f.d.Stop(time.Second))

	n := 0
	for o := range f.d.Results() {
		assert.Equal(t, ResultSucceeded, o.Result)
		n++
	}
	assert.Equal(t, 20, n)

	_, err := f.d.Submit(Request{Action: rules.LogAction{Message: "late"}})
	assert.ErrorIs(t, err, cerrors.ErrDispatcherClosed)
}

func TestStop_AbandonsAfterGrace(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.CallTimeout = time.Minute
	f := newFixture(t, cfg, 0)
	f.sender.Block(make(chan struct{}))

	for i := 0; i < 3; i++ {
		_, err := f.d.Submit(Request{Action: rules.EmailAction{Message: fmt.Sprint(i)}})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return f.sender.Calls() == 1 }, time.Second, time.Millisecond)

	begin := time.Now()
	err := f.d.Stop(50 * time.Millisecond)
	assert.ErrorIs(t, err, worker.ErrStopTimeout)
	assert.Less(t, time.Since(begin), 2*time.Second)

	var outs []Outcome
	for o := range f.d.Results() {
		outs = append(outs, o)
	}
	require.Len(t, outs, 3)
	for _, o := range outs {
		assert.Equal(t, ResultAbandoned, o.Result)
		var failure *cerrors.ActionDispatchFailure
		require.ErrorAs(t, o.Err, &failure)
		assert.True(t, failure.Abandoned)
	}
	assert.Equal(t, int64(3), f.d.Stats().Abandoned)
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t, testConfig(), 0)
	_, err := f.d.Submit(Request{})
	assert.ErrorIs(t, err, cerrors.ErrInvalidCommand)

	req, err := f.d.Submit(Request{Action: rules.LogAction{Message: "x"}})
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.False(t, req.Enqueued.IsZero())
	collect(t, f.d, 1)
}
