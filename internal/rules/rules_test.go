package rules

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/infrastructure/metrics"
	"github.com/okieraised/relay-controller/internal/relay"
	"github.com/okieraised/relay-controller/internal/telemetry"
	"github.com/okieraised/relay-controller/internal/utilities"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestCompare(t *testing.T) {
	n, s, b := telemetry.Number, telemetry.String, telemetry.Bool
	cases := []struct {
		sample    telemetry.Value
		op        Operator
		threshold telemetry.Value
		want      bool
	}{
		{n(12), OpGT, n(11.5), true},
		{n(11.5), OpGT, n(11.5), false},
		{n(11.5), OpGTE, n(11.5), true},
		{n(11.4), OpLT, n(11.5), true},
		{n(11.5), OpLT, n(11.5), false},
		{n(11.5), OpLTE, n(11.5), true},
		{n(-3), OpEQ, n(-3), true},
		{n(-3), OpNEQ, n(-3), false},
		{s("abc"), OpLT, s("abd"), true},
		{s("b"), OpGT, s("abc"), true},
		{s("ON"), OpEQ, s("ON"), true},
		{s("ON"), OpNEQ, s("OFF"), true},
		{b(true), OpEQ, b(true), true},
		{b(true), OpNEQ, b(false), true},
		{b(false), OpEQ, b(true), false},
		{n(math.Inf(1)), OpGT, n(11.5), true},
		{n(math.Inf(-1)), OpLT, n(11.5), true},
		{n(math.Inf(1)), OpEQ, n(math.Inf(1)), true},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s %s %s", tc.sample, tc.op, tc.threshold), func(t *testing.T) {
			got, err := Compare(tc.sample, tc.op, tc.threshold)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCompare_Mismatch(t *testing.T) {
	_, err := Compare(telemetry.String("12"), OpGT, telemetry.Number(11))
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = Compare(telemetry.Bool(true), OpGT, telemetry.Bool(false))
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = Compare(telemetry.Value{}, OpEQ, telemetry.Number(1))
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = Compare(telemetry.Number(1), Operator("=~"), telemetry.Number(1))
	assert.ErrorIs(t, err, ErrUnknownOperator)
}

func TestCompare_NaNNeverMatches(t *testing.T) {
	nan := telemetry.Number(math.NaN())
	for _, op := range []Operator{OpLT, OpLTE, OpGT, OpGTE, OpEQ, OpNEQ} {
		got, err := Compare(nan, op, telemetry.Number(11.5))
		assert.ErrorIs(t, err, ErrTypeMismatch, op)
		assert.False(t, got, op)

		_, err = Compare(telemetry.Number(11.5), op, nan)
		assert.ErrorIs(t, err, ErrTypeMismatch, op)
	}

	_, err := Compare(telemetry.ParseRaw("nan"), OpLTE, telemetry.Number(11.5))
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func knownRelays(ids ...string) TargetCatalog {
	return func(id string) bool {
		for _, known := range ids {
			if known == id {
				return true
			}
		}
		return false
	}
}

func lowVoltSpec(id string) Spec {
	return Spec{
		ID:       id,
		Name:     "Low voltage",
		Source:   "relay_1",
		Field:    "volts",
		Operator: "<",
		Value:    telemetry.Number(11.5),
		Actions: []ActionSpec{
			{Type: "io", Target: "relay_2", State: "pulse"},
			{Type: "email", Message: "battery low"},
			{Type: "log"},
		},
	}
}

func TestBuild(t *testing.T) {
	cooldown := utilities.Duration{Duration: 5 * time.Minute}
	spec := lowVoltSpec("low-volt")
	spec.Cooldown = &cooldown

	built, err := Build([]Spec{spec}, knownRelays("relay_1", "relay_2"))
	require.NoError(t, err)
	require.Len(t, built, 1)

	r := built[0]
	assert.Equal(t, OpLT, r.Operator)
	require.NotNil(t, r.Cooldown)
	assert.Equal(t, 5*time.Minute, *r.Cooldown)
	require.Len(t, r.Actions, 3)
	assert.Equal(t, IoAction{Target: "relay_2", State: relay.CommandPulse}, r.Actions[0])
	assert.Equal(t, EmailAction{Message: "battery low"}, r.Actions[1])
	assert.Equal(t, LogAction{Message: "Alert from rule 'Low voltage'"}, r.Actions[2])
}

func TestBuild_CollectsAllProblems(t *testing.T) {
	bad := []Spec{
		{ID: "a", Source: "relay_1", Field: "volts", Operator: "=~", Value: telemetry.Number(1),
			Actions: []ActionSpec{{Type: "io", Target: "relay_9", State: "on"}}},
		{ID: "a", Field: "volts", Operator: ">", Value: telemetry.Number(1),
			Actions: []ActionSpec{{Type: "sms"}}},
		{ID: "c", Source: "s", Field: "f", Operator: ">", Value: telemetry.Bool(true),
			Actions: []ActionSpec{{Type: "io", Target: "relay_1", State: "blink"}}},
		{ID: "d", Source: "s", Field: "f", Operator: "==", Value: telemetry.Number(1)},
	}
	_, err := Build(bad, knownRelays("relay_1"))
	var verr *cerrors.ConfigValidationError
	require.ErrorAs(t, err, &verr)

	fields := make([]string, 0, len(verr.Details))
	for _, d := range verr.Details {
		fields = append(fields, d.Field)
	}
	assert.Contains(t, fields, "rules[a].operator")
	assert.Contains(t, fields, "rules[a].actions[0].target")
	assert.Contains(t, fields, "rules[a].id")
	assert.Contains(t, fields, "rules[a].source")
	assert.Contains(t, fields, "rules[a].actions[0].type")
	assert.Contains(t, fields, "rules[c].operator")
	assert.Contains(t, fields, "rules[c].actions[0]")
	assert.Contains(t, fields, "rules[d].actions")
}

func TestBuild_DisabledRuleDropped(t *testing.T) {
	off := false
	spec := lowVoltSpec("r1")
	spec.Enabled = &off
	built, err := Build([]Spec{spec, lowVoltSpec("r2")}, nil)
	require.NoError(t, err)
	require.Len(t, built, 1)
	assert.Equal(t, "r2", built[0].ID)
}

func TestSpec_DecodesYAML(t *testing.T) {
	doc := `
id: hot
name: Overheat
source: sensor_1
field: temp_c
operator: ">="
value: 70
cooldown: 2m
actions:
  - {type: io, target: relay_1, state: off}
  - {type: email, recipients: [ops@example.com]}
  - {type: reboot}
`
	var spec Spec
	require.NoError(t, yaml.Unmarshal([]byte(doc), &spec))
	built, err := Build([]Spec{spec}, knownRelays("relay_1"))
	require.NoError(t, err)
	r := built[0]
	assert.Equal(t, telemetry.Number(70), r.Threshold)
	require.NotNil(t, r.Cooldown)
	assert.Equal(t, 2*time.Minute, *r.Cooldown)
	assert.Equal(t, IoAction{Target: "relay_1", State: relay.CommandOff}, r.Actions[0])
	assert.Equal(t, []string{"ops@example.com"}, r.Actions[1].(EmailAction).Recipients)
	assert.Equal(t, ActionReboot, r.Actions[2].Type())
}

func newTestRegistry(m *metrics.Metrics) *Registry {
	return NewRegistry(
		WithTargets(knownRelays("relay_1", "relay_2")),
		WithRegistryLogger(log.Nop()),
		WithRegistryMetrics(m),
	)
}

func TestRegistry_ReloadAndIndex(t *testing.T) {
	m := metrics.New()
	reg := newTestRegistry(m)
	assert.Equal(t, uint64(0), reg.Snapshot().Version())

	other := lowVoltSpec("hot")
	other.Field = "temp_c"
	other.Operator = ">"
	snap, err := reg.Reload([]Spec{lowVoltSpec("low-volt"), other, lowVoltSpec("low-volt-2")})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Version())
	assert.Same(t, snap, reg.Snapshot())

	byKey := snap.ForKey(telemetry.Key{Source: "relay_1", Field: "volts"})
	require.Len(t, byKey, 2)
	assert.Equal(t, "low-volt", byKey[0].ID)
	assert.Equal(t, "low-volt-2", byKey[1].ID)
	assert.Len(t, snap.ForSource("relay_1"), 3)
	assert.Equal(t, []string{"relay_1"}, snap.Sources())
	assert.Empty(t, snap.ForSource("sensor_9"))

	r, ok := snap.Get("hot")
	require.True(t, ok)
	assert.Equal(t, "temp_c", r.Field)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistryVersion))
}

func TestRegistry_RejectedReloadKeepsSnapshot(t *testing.T) {
	m := metrics.New()
	reg := newTestRegistry(m)
	good, err := reg.Reload([]Spec{lowVoltSpec("low-volt")})
	require.NoError(t, err)

	bad := lowVoltSpec("broken")
	bad.Operator = "=>"
	snap, err := reg.Reload([]Spec{lowVoltSpec("fine"), bad})
	require.Error(t, err)
	assert.True(t, errors.As(err, new(*cerrors.ConfigValidationError)))
	assert.Same(t, good, snap)
	assert.Same(t, good, reg.Snapshot())

	st := reg.Status()
	assert.Equal(t, uint64(1), st.Version)
	assert.Contains(t, st.LastError, "rules[broken].operator")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistryReloads.WithLabelValues("rejected")))

	_, err = reg.Reload([]Spec{lowVoltSpec("fine")})
	require.NoError(t, err)
	assert.NoError(t, reg.LastError())
}

func TestRegistry_StatusTimestamps(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := NewRegistry(
		WithTargets(knownRelays("relay_1", "relay_2")),
		WithRegistryLogger(log.Nop()),
		WithRegistryClock(func() time.Time { return now }),
	)
	assert.Equal(t, now, reg.Snapshot().LoadedAt())

	now = now.Add(time.Minute)
	_, err := reg.Reload([]Spec{lowVoltSpec("low-volt")})
	require.NoError(t, err)

	now = now.Add(time.Minute)
	bad := lowVoltSpec("broken")
	bad.Source = ""
	_, err = reg.Reload([]Spec{bad})
	require.Error(t, err)

	st := reg.Status()
	assert.Equal(t, 1, st.RuleCount)
	assert.Equal(t, now.Add(-time.Minute), st.LoadedAt)
	assert.Equal(t, now, st.LastAttempt)
	assert.NotEmpty(t, st.LastError)
}

func generation(prefix string, n int) []Spec {
	specs := make([]Spec, n)
	for i := range specs {
		s := lowVoltSpec(fmt.Sprintf("%s-%d", prefix, i))
		s.Name = prefix
		specs[i] = s
	}
	return specs
}

func TestRegistry_ReloadIsAtomicForReaders(t *testing.T) {
	reg := newTestRegistry(metrics.New())
	_, err := reg.Reload(generation("a", 3))
	require.NoError(t, err)

	var stop atomic.Bool
	var torn atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				snap := reg.Snapshot()
				rules := snap.ForKey(telemetry.Key{Source: "relay_1", Field: "volts"})
				gen := rules[0].Name
				want := 3
				if gen == "b" {
					want = 5
				}
				if len(rules) != want {
					torn.Add(1)
				}
				for _, r := range rules {
					if r.Name != gen || !strings.HasPrefix(r.ID, gen+"-") {
						torn.Add(1)
					}
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		gen := generation("a", 3)
		if i%2 == 0 {
			gen = generation("b", 5)
		}
		_, err := reg.Reload(gen)
		require.NoError(t, err)
	}
	stop.Store(true)
	wg.Wait()

	assert.Zero(t, torn.Load())
	assert.Equal(t, uint64(201), reg.Snapshot().Version())
}
