package telemetry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseRaw(t *testing.T) {
	assert.Equal(t, Number(12.5), ParseRaw(" 12.5 "))
	assert.Equal(t, Bool(true), ParseRaw("TRUE"))
	assert.Equal(t, String("on"), ParseRaw(`"on"`))
	assert.Equal(t, String("nan"), ParseRaw("nan"))
	assert.Equal(t, String("NaN"), ParseRaw(" NaN "))
	assert.Equal(t, String("+Inf"), ParseRaw("+Inf"))
	assert.Equal(t, String("-infinity"), ParseRaw("-infinity"))
}

func TestValue_JSONAndYAML(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`13.2`), &v))
	assert.Equal(t, KindNumber, v.Kind())
	assert.Equal(t, 13.2, v.Float())

	require.NoError(t, json.Unmarshal([]byte(`"closed"`), &v))
	assert.Equal(t, KindString, v.Kind())

	var doc struct {
		A Value `yaml:"a"`
		B Value `yaml:"b"`
		C Value `yaml:"c"`
		D Value `yaml:"d"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 11\nb: \"11\"\nc: true\nd: open\n"), &doc))
	assert.Equal(t, Number(11), doc.A)
	assert.Equal(t, String("11"), doc.B)
	assert.Equal(t, Bool(true), doc.C)
	assert.Equal(t, String("open"), doc.D)

	out, err := json.Marshal(Number(4))
	require.NoError(t, err)
	assert.Equal(t, "4", string(out))
}

func TestParseMQTTMessage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	samples, err := ParseMQTTMessage("relayctl", "relayctl/telemetry/relay_1/volts", []byte("12.4"), now)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, Sample{Source: "relay_1", Field: "volts", Value: Number(12.4), Timestamp: now}, samples[0])

	samples, err = ParseMQTTMessage("relayctl", "relayctl/telemetry/environmental",
		[]byte(`[{"field":"temperature","value":21.5},{"field":"humidity","value":40}]`), now)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, "environmental", samples[1].Source)
	assert.Equal(t, "humidity", samples[1].Field)

	_, err = ParseMQTTMessage("relayctl", "relayctl/telemetry", []byte(`{"source":"relay_2"}`), now)
	assert.Error(t, err)

	_, err = ParseMQTTMessage("relayctl", "other/telemetry/a/b", []byte("1"), now)
	assert.Error(t, err)
}

func TestBuffer_SnapshotAndMaxAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	buf := NewBuffer(WithMaxAge(time.Minute), WithClock(func() time.Time { return now }))

	buf.Ingest(Sample{Source: "environmental", Field: "temperature", Value: Number(30)})
	now = now.Add(2 * time.Minute)
	buf.Ingest(Sample{Source: "relay_1", Field: "volts", Value: Number(12), Timestamp: now.Add(-10 * time.Second)})
	buf.Ingest(Sample{Source: "relay_1", Field: "volts", Value: Number(11), Timestamp: now.Add(-20 * time.Second)})

	snap := buf.Snapshot()
	s, ok, known := snap.Lookup("relay_1", "volts")
	assert.True(t, ok)
	assert.True(t, known)
	assert.Equal(t, Number(12), s.Value)

	_, ok, known = snap.Lookup("relay_1", "amps")
	assert.False(t, ok)
	assert.True(t, known)

	_, ok, known = snap.Lookup("environmental", "temperature")
	assert.False(t, ok)
	assert.False(t, known)
	assert.Equal(t, 1, snap.Len())
}

func TestBuffer_AgesByArrival(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	buf := NewBuffer(WithMaxAge(time.Minute), WithClock(func() time.Time { return now }))

	// board clock two hours behind
	buf.Ingest(Sample{Source: "relay_1", Field: "volts", Value: Number(12), Timestamp: now.Add(-2 * time.Hour)})
	_, ok, _ := buf.Snapshot().Lookup("relay_1", "volts")
	assert.True(t, ok)

	now = now.Add(61 * time.Second)
	_, ok, known := buf.Snapshot().Lookup("relay_1", "volts")
	assert.False(t, ok)
	assert.False(t, known)
}

func TestBuffer_FutureTimestampDoesNotShadowLaterReadings(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	buf := NewBuffer(WithClock(func() time.Time { return now }))

	buf.Ingest(Sample{Source: "relay_1", Field: "volts", Value: Number(11), Timestamp: now.AddDate(1, 0, 0)})
	s, ok, _ := buf.Snapshot().Lookup("relay_1", "volts")
	require.True(t, ok)
	assert.Equal(t, now, s.Timestamp)

	for i := 1; i <= 3; i++ {
		now = now.Add(5 * time.Second)
		buf.Ingest(Sample{Source: "relay_1", Field: "volts", Value: Number(12.6), Timestamp: now})
	}
	s, ok, _ = buf.Snapshot().Lookup("relay_1", "volts")
	require.True(t, ok)
	assert.Equal(t, Number(12.6), s.Value)
}

func TestChannelSource_PumpAndNoRestart(t *testing.T) {
	in := make(chan Sample, 2)
	src := NewChannelSource(in)
	buf := NewBuffer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in <- Sample{Source: "relay_3", Field: "amps", Value: Number(1.2)}
	close(in)
	require.NoError(t, buf.Pump(ctx, src))

	_, ok, _ := buf.Snapshot().Lookup("relay_3", "amps")
	assert.True(t, ok)

	_, err := src.Subscribe(ctx)
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
}
