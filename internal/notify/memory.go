package notify

import (
	"context"
	"sync"

	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"go.uber.org/zap"
)

// LogSender writes notifications to the log. It is the sender used when no
// transport is configured.
type LogSender struct {
	logger *log.Logger
}

func NewLogSender(l *log.Logger) *LogSender {
	if l == nil {
		l = log.Component("notify")
	}
	return &LogSender{logger: l}
}

func (s *LogSender) Send(_ context.Context, message string, recipients []string) error {
	s.logger.Warn("Notification", zap.String("message", message), zap.Strings("recipients", recipients))
	return nil
}

// Sent is one delivery recorded by MemorySender.
type Sent struct {
	Message    string
	Recipients []string
}

// MemorySender records deliveries and returns scripted errors.
type MemorySender struct {
	mu       sync.Mutex
	sent     []Sent
	calls    int
	failures []error
	always   error
	block    chan struct{}
}

func NewMemorySender() *MemorySender { return &MemorySender{} }

// FailNext makes the next len(errs) calls return errs in order.
func (m *MemorySender) FailNext(errs ...error) {
	m.mu.Lock()
	m.failures = append(m.failures, errs...)
	m.mu.Unlock()
}

// FailAlways makes every call return err; nil restores success.
func (m *MemorySender) FailAlways(err error) {
	m.mu.Lock()
	m.always = err
	m.mu.Unlock()
}

// Block makes calls wait until ctx is done or release is closed.
func (m *MemorySender) Block(release chan struct{}) {
	m.mu.Lock()
	m.block = release
	m.mu.Unlock()
}

func (m *MemorySender) Send(ctx context.Context, message string, recipients []string) error {
	m.mu.Lock()
	m.calls++
	block := m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		if err != nil {
			return err
		}
	}
	if m.always != nil {
		return m.always
	}
	m.sent = append(m.sent, Sent{Message: message, Recipients: append([]string(nil), recipients...)})
	return nil
}

func (m *MemorySender) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}

func (m *MemorySender) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
