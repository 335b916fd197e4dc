// Package notify delivers rule notifications over SMTP, MQTT or NATS.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Sender delivers one message. Errors marked with Fatal are not retried; any
// other error, including a deadline, is treated as transient.
type Sender interface {
	Send(ctx context.Context, message string, recipients []string) error
}

// Notification is the JSON document published by the bus senders.
type Notification struct {
	System     string    `json:"system"`
	Message    string    `json:"message"`
	Recipients []string  `json:"recipients,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func encode(system, message string, recipients []string, now time.Time) ([]byte, error) {
	b, err := json.Marshal(Notification{System: system, Message: message, Recipients: recipients, Timestamp: now.UTC()})
	if err != nil {
		return nil, Fatal(errors.Wrap(err, "encode notification"))
	}
	return b, nil
}

type classified struct {
	err   error
	fatal bool
}

func (c *classified) Error() string  { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Fatal marks err as permanent.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, fatal: true}
}

// Retryable marks err as transient. Unmarked errors are transient too; this
// exists to override a fatal classification further down the chain.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, fatal: false}
}

// IsFatal reports whether the outermost classification of err is fatal.
func IsFatal(err error) bool {
	var c *classified
	if errors.As(err, &c) {
		return c.fatal
	}
	return false
}

func IsRetryable(err error) bool {
	return err != nil && !IsFatal(err)
}
