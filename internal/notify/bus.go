package notify

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// MQTTSender publishes notifications to "<prefix>/notify" for a bridge to deliver.
type MQTTSender struct {
	client mqtt.Client
	topic  string
	qos    byte
	system string
	now    func() time.Time
}

func NewMQTTSender(client mqtt.Client, prefix string, qos byte, system string) *MQTTSender {
	return &MQTTSender{client: client, topic: prefix + "/notify", qos: qos, system: system, now: time.Now}
}

func (s *MQTTSender) Send(ctx context.Context, message string, recipients []string) error {
	payload, err := encode(s.system, message, recipients, s.now())
	if err != nil {
		return err
	}
	tok := s.client.Publish(s.topic, s.qos, false, payload)
	select {
	case <-tok.Done():
		return errors.Wrapf(tok.Error(), "publish %s", s.topic)
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "publish %s", s.topic)
	}
}

// NATSSender publishes notifications on a NATS subject.
type NATSSender struct {
	conn    *nats.Conn
	subject string
	system  string
	now     func() time.Time
}

func NewNATSSender(conn *nats.Conn, subject, system string) *NATSSender {
	return &NATSSender{conn: conn, subject: subject, system: system, now: time.Now}
}

func (s *NATSSender) Send(ctx context.Context, message string, recipients []string) error {
	payload, err := encode(s.system, message, recipients, s.now())
	if err != nil {
		return err
	}
	if err := s.conn.Publish(s.subject, payload); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubject) {
			return Fatal(errors.Wrapf(err, "publish %s", s.subject))
		}
		return errors.Wrapf(err, "publish %s", s.subject)
	}
	return errors.Wrap(s.conn.FlushWithContext(ctx), "flush nats")
}
