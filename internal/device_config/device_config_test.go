package device_config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/infrastructure/metrics"
	"github.com/okieraised/relay-controller/internal/relay"
	"github.com/okieraised/relay-controller/internal/rules"
	"github.com/okieraised/relay-controller/internal/utilities"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `
general: {system_name: greenhouse, reboot_time: "03:30", reboot_enabled: true}
email: {recipients: [ops@example.com], subject_prefix: "[gh]"}
relays:
  - {id: relay_1, name: Pump, enabled: true, pulse_time: 5, boot_state: off,
     normally_closed: false,
     schedule: {enabled: true, on_time: "08:00", off_time: "17:00", days_mask: 124}}
  - {id: relay_2, name: Fan, pulse_time: 1500ms, boot_state: ON, normally_closed: true}
rules:
  - {id: low-volt, name: Low voltage, source: relay_1, field: volts, operator: "<",
     value: 11.5, cooldown: 5m,
     actions: [{type: io, target: relay_2, state: pulse}, {type: email, message: "battery low"}]}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, utilities.WriteFileAtomic(path, []byte(content), 0o644))
}

func TestParseAndConvert(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)
	require.NoError(t, doc.Validate())

	assert.Equal(t, "greenhouse", doc.SystemName())
	assert.Equal(t, "[gh]", doc.SubjectPrefix())
	enabled, at := doc.DailyReboot()
	assert.True(t, enabled)
	assert.Equal(t, utilities.MustParseClock("03:30"), at)

	cfgs := doc.RelayConfigs()
	require.Len(t, cfgs, 2)
	assert.Equal(t, relay.Config{
		ID: "relay_1", Name: "Pump", Enabled: true, PulseTime: 5 * time.Second, BootState: relay.StateOff,
		Schedule: &relay.Schedule{
			Enabled: true, OnTime: utilities.MustParseClock("08:00"), OffTime: utilities.MustParseClock("17:00"),
			DaysMask: relay.Weekdays,
		},
	}, cfgs[0])
	assert.Equal(t, 1500*time.Millisecond, cfgs[1].PulseTime)
	assert.Equal(t, relay.StateOn, cfgs[1].BootState)
	assert.True(t, cfgs[1].Enabled)
	assert.True(t, cfgs[1].NormallyClosed)

	require.Len(t, doc.Rules, 1)
	assert.Equal(t, 5*time.Minute, doc.Rules[0].Cooldown.Duration)
}

func TestDefaults(t *testing.T) {
	doc, err := Parse([]byte("relays: [{id: r1}]\n"))
	require.NoError(t, err)
	require.NoError(t, doc.Validate())

	assert.Equal(t, "relay-controller", doc.SystemName())
	assert.Equal(t, "[relay-controller]", doc.SubjectPrefix())
	enabled, at := doc.DailyReboot()
	assert.True(t, enabled)
	assert.Equal(t, "04:00", at.String())

	cfg := doc.RelayConfigs()[0]
	assert.Equal(t, "r1", cfg.Name)
	assert.Equal(t, 5*time.Second, cfg.PulseTime)
	assert.Equal(t, relay.StateOff, cfg.BootState)

	empty, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Relays)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	doc, err := Parse([]byte(`
email: {recipients: [not-an-address]}
relays:
  - {id: r1, pulse_time: 0, boot_state: pulsing}
  - {id: r1}
  - {name: nameless, schedule: {enabled: true, on_time: "08:00", off_time: "08:00", days_mask: 1}}
rules:
  - {id: x, source: r1, field: volts, operator: "~", value: 1, actions: [{type: io, target: ghost, state: on}]}
`))
	require.NoError(t, err)

	err = doc.Validate()
	var verr *cerrors.ConfigValidationError
	require.True(t, errors.As(err, &verr))

	fields := map[string]bool{}
	for _, d := range verr.Details {
		fields[d.Field] = true
	}
	for _, f := range []string{
		"email.recipients[0]",
		"relays[0].pulse_time",
		"relays[0].boot_state",
		"relays[1].id",
		"relays[2].id",
		"relays[2].schedule.days_mask",
		"relays[2].schedule",
		"rules[x].operator",
		"rules[x].actions[0].target",
	} {
		assert.True(t, fields[f], "missing %s in %v", f, verr.Details)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("relays: [{id: r1, colour: red}]\n"))
	var verr *cerrors.ConfigValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestLoaderMergesRulesDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "device.yaml")
	writeFile(t, path, sampleDoc)
	writeFile(t, filepath.Join(dir, RulesDirName, "20-temp.yaml"), `
rules:
  - {id: hot, source: relay_2, field: temp, operator: ">", value: 40, actions: [{type: log}]}
`)
	writeFile(t, filepath.Join(dir, RulesDirName, "10-door.yaml"), `
rules:
  - {id: door, source: relay_1, field: door, operator: "==", value: "open", actions: [{type: io, target: relay_1, state: off}]}
`)
	writeFile(t, filepath.Join(dir, RulesDirName, "notes.txt"), "ignored")

	doc, err := NewLoader(path).Load()
	require.NoError(t, err)
	var ids []string
	for _, r := range doc.Rules {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"low-volt", "door", "hot"}, ids)
}

func TestLoaderMissingFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	assert.ErrorIs(t, err, cerrors.ErrConfigUnavailable)
}

func newReloader(t *testing.T, path string) (*Reloader, *rules.Registry, *relay.Controller) {
	t.Helper()
	m := metrics.New()
	doc, err := NewLoader(path).Load()
	require.NoError(t, err)
	ctrl, err := relay.NewController(doc.RelayConfigs(), relay.NewMemoryDriver(),
		relay.WithLogger(log.Nop()), relay.WithMetrics(m))
	require.NoError(t, err)
	reg := rules.NewRegistry(rules.WithTargets(ctrl.Has),
		rules.WithRegistryLogger(log.Nop()), rules.WithRegistryMetrics(m))
	return NewReloader(NewLoader(path), reg, ctrl), reg, ctrl
}

func TestReloaderAppliesAndRejects(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "device.yaml")
	writeFile(t, path, sampleDoc)
	r, reg, ctrl := newReloader(t, path)

	var hooked atomic.Int32
	r.OnApply(func(doc *Document) { hooked.Add(1) })

	snap, err := r.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Version())
	assert.Equal(t, int32(1), hooked.Load())
	require.NotNil(t, r.Current())

	// attribute change is applied
	doc := r.Current()
	doc.Relays[0].Name = "Main pump"
	_, err = r.Apply(doc)
	require.NoError(t, err)
	cfg, err := ctrl.Config("relay_1")
	require.NoError(t, err)
	assert.Equal(t, "Main pump", cfg.Name)

	// a new relay needs a restart; nothing is applied
	writeFile(t, path, strings.Replace(sampleDoc, "rules:", "  - {id: relay_3}\nrules:", 1))
	_, err = r.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, uint64(2), reg.Snapshot().Version())
	assert.Equal(t, int32(2), hooked.Load())

	// a broken rule keeps the old snapshot
	writeFile(t, path, sampleDoc+`  - {id: bad, source: s, field: f, operator: "<", value: 1, actions: []}
`)
	_, err = r.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, uint64(2), reg.Snapshot().Version())
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "device.yaml")
	writeFile(t, path, sampleDoc)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, RulesDirName), 0o755))

	var calls atomic.Int32
	w := NewWatcher(NewLoader(path), func(context.Context) { calls.Add(1) }, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// give the watcher time to register
	time.Sleep(50 * time.Millisecond)
	writeFile(t, path, sampleDoc+"\n")
	writeFile(t, filepath.Join(dir, RulesDirName, "extra.yaml"), "rules: []\n")

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	writeFile(t, filepath.Join(dir, "unrelated.txt"), "x")
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, calls.Load(), int32(2))

	cancel()
	require.NoError(t, <-done)
}
