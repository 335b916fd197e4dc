package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MQTTSource subscribes to "<prefix>/telemetry/#".
//
// Two payload shapes are accepted:
//   - "<prefix>/telemetry/<source>/<field>" with a raw scalar body
//   - "<prefix>/telemetry" or "<prefix>/telemetry/<source>" with a JSON sample or array of samples
type MQTTSource struct {
	client     mqtt.Client
	prefix     string
	qos        byte
	bufferSize int
	timeout    time.Duration
	logger     *log.Logger

	mu         sync.Mutex
	subscribed bool
	dropped    atomic.Int64
}

type MQTTSourceOption func(*MQTTSource)

func WithQoS(qos byte) MQTTSourceOption {
	return func(s *MQTTSource) { s.qos = qos }
}

func WithBufferSize(n int) MQTTSourceOption {
	return func(s *MQTTSource) { s.bufferSize = n }
}

func WithSubscribeTimeout(d time.Duration) MQTTSourceOption {
	return func(s *MQTTSource) { s.timeout = d }
}

func NewMQTTSource(client mqtt.Client, prefix string, opts ...MQTTSourceOption) *MQTTSource {
	s := &MQTTSource{
		client:     client,
		prefix:     strings.TrimSuffix(prefix, "/"),
		qos:        1,
		bufferSize: 256,
		timeout:    5 * time.Second,
		logger:     log.Component("telemetry"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MQTTSource) Topic() string {
	return s.prefix + "/telemetry/#"
}

// Dropped returns how many samples were discarded because the consumer lagged.
func (s *MQTTSource) Dropped() int64 { return s.dropped.Load() }

func (s *MQTTSource) Subscribe(ctx context.Context) (<-chan Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribed {
		return nil, ErrAlreadySubscribed
	}

	out := make(chan Sample, s.bufferSize)
	var outMu sync.RWMutex
	closed := false

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		outMu.RLock()
		defer outMu.RUnlock()
		if closed {
			return
		}
		samples, err := ParseMQTTMessage(s.prefix, msg.Topic(), msg.Payload(), time.Now())
		if err != nil {
			s.logger.Warn("Discarding malformed telemetry message", zap.String("topic", msg.Topic()), zap.Error(err))
			return
		}
		for _, sample := range samples {
			select {
			case out <- sample:
			default:
				s.dropped.Add(1)
			}
		}
	}

	tok := s.client.Subscribe(s.Topic(), s.qos, handler)
	if !tok.WaitTimeout(s.timeout) {
		return nil, fmt.Errorf("mqtt subscribe to %s timed out after %s", s.Topic(), s.timeout)
	}
	if err := tok.Error(); err != nil {
		return nil, errors.Wrap(err, "failed to subscribe to telemetry topic")
	}
	s.subscribed = true
	s.logger.Info(fmt.Sprintf("Subscribed to telemetry topic [%s]", s.Topic()))

	go func() {
		<-ctx.Done()
		s.client.Unsubscribe(s.Topic()).WaitTimeout(s.timeout)
		outMu.Lock()
		closed = true
		close(out)
		outMu.Unlock()
	}()
	return out, nil
}

type wireSample struct {
	Source    string    `json:"source"`
	Field     string    `json:"field"`
	Value     Value     `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// ParseMQTTMessage decodes one telemetry message into samples.
func ParseMQTTMessage(prefix, topic string, payload []byte, now time.Time) ([]Sample, error) {
	base := strings.TrimSuffix(prefix, "/") + "/telemetry"
	if topic != base && !strings.HasPrefix(topic, base+"/") {
		return nil, fmt.Errorf("topic %q is outside %q", topic, base)
	}
	rest := strings.Trim(strings.TrimPrefix(topic, base), "/")
	var parts []string
	if rest != "" {
		parts = strings.Split(rest, "/")
	}

	switch len(parts) {
	case 2:
		return []Sample{{Source: parts[0], Field: parts[1], Value: ParseRaw(string(payload)), Timestamp: now}}, nil
	case 0, 1:
		var batch []wireSample
		trimmed := strings.TrimSpace(string(payload))
		if strings.HasPrefix(trimmed, "[") {
			if err := json.Unmarshal(payload, &batch); err != nil {
				return nil, errors.Wrap(err, "failed to decode telemetry batch")
			}
		} else {
			var one wireSample
			if err := json.Unmarshal(payload, &one); err != nil {
				return nil, errors.Wrap(err, "failed to decode telemetry sample")
			}
			batch = append(batch, one)
		}
		out := make([]Sample, 0, len(batch))
		for i, w := range batch {
			if w.Source == "" && len(parts) == 1 {
				w.Source = parts[0]
			}
			if w.Source == "" || w.Field == "" {
				return nil, fmt.Errorf("sample %d is missing source or field", i)
			}
			if !w.Value.IsValid() {
				return nil, fmt.Errorf("sample %d has no value", i)
			}
			if w.Timestamp.IsZero() {
				w.Timestamp = now
			}
			out = append(out, Sample(w))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected telemetry topic depth %q", topic)
	}
}
