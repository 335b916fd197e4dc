package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Driver writes a physical output level. energized is the coil level after
// normally-closed inversion has been applied.
type Driver interface {
	Write(ctx context.Context, relayID string, energized bool) error
}

// MQTTDriver publishes "<prefix>/relay/<id>/set" with "1" or "0" to an IO bridge.
type MQTTDriver struct {
	client mqtt.Client
	prefix string
	qos    byte
}

func NewMQTTDriver(client mqtt.Client, prefix string, qos byte) *MQTTDriver {
	return &MQTTDriver{client: client, prefix: strings.TrimSuffix(prefix, "/"), qos: qos}
}

func (d *MQTTDriver) Topic(relayID string) string {
	return fmt.Sprintf("%s/relay/%s/set", d.prefix, relayID)
}

func (d *MQTTDriver) Write(ctx context.Context, relayID string, energized bool) error {
	payload := "0"
	if energized {
		payload = "1"
	}
	tok := d.client.Publish(d.Topic(relayID), d.qos, true, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", d.Topic(relayID), ctx.Err())
	}
}

// MemoryDriver keeps outputs in memory. It backs the simulated driver and tests.
type MemoryDriver struct {
	mu       sync.Mutex
	outputs  map[string]bool
	writes   map[string][]bool
	failures map[string][]error
	delay    time.Duration
	inflight map[string]int
	overlap  map[string]bool
}

func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		outputs:  make(map[string]bool),
		writes:   make(map[string][]bool),
		failures: make(map[string][]error),
		inflight: make(map[string]int),
		overlap:  make(map[string]bool),
	}
}

// SetDelay makes each write take d, or until ctx expires.
func (m *MemoryDriver) SetDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

// FailNext queues errors returned by the next writes to relayID, in order.
func (m *MemoryDriver) FailNext(relayID string, errs ...error) {
	m.mu.Lock()
	m.failures[relayID] = append(m.failures[relayID], errs...)
	m.mu.Unlock()
}

func (m *MemoryDriver) Write(ctx context.Context, relayID string, energized bool) error {
	m.mu.Lock()
	m.inflight[relayID]++
	if m.inflight[relayID] > 1 {
		m.overlap[relayID] = true
	}
	delay := m.delay
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inflight[relayID]--
		m.mu.Unlock()
	}()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q := m.failures[relayID]; len(q) > 0 {
		err := q[0]
		m.failures[relayID] = q[1:]
		if err != nil {
			return err
		}
	}
	m.outputs[relayID] = energized
	m.writes[relayID] = append(m.writes[relayID], energized)
	return nil
}

func (m *MemoryDriver) Output(relayID string) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.outputs[relayID]
	return v, ok
}

// Writes returns the successful writes to relayID in order.
func (m *MemoryDriver) Writes(relayID string) []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.writes[relayID]...)
}

// Overlapped reports whether two writes to relayID were ever in progress at once.
func (m *MemoryDriver) Overlapped(relayID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overlap[relayID]
}
