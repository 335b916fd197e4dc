package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	base := errors.New("boom")
	assert.False(t, IsFatal(base))
	assert.True(t, IsRetryable(base))
	assert.False(t, IsRetryable(nil))

	fatal := Fatal(base)
	assert.True(t, IsFatal(fatal))
	assert.False(t, IsRetryable(fatal))
	assert.ErrorIs(t, fatal, base)

	wrapped := errors.Wrap(fatal, "send")
	assert.True(t, IsFatal(wrapped))

	assert.True(t, IsRetryable(Retryable(fatal)))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.Nil(t, Fatal(nil))
	assert.Nil(t, Retryable(nil))
}

func TestEncode(t *testing.T) {
	now := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
	b, err := encode("greenhouse", "battery low", []string{"ops@example.com"}, now)
	require.NoError(t, err)

	var n Notification
	require.NoError(t, json.Unmarshal(b, &n))
	assert.Equal(t, "greenhouse", n.System)
	assert.Equal(t, "battery low", n.Message)
	assert.Equal(t, []string{"ops@example.com"}, n.Recipients)
	assert.True(t, now.Equal(n.Timestamp))
}

func TestMemorySender(t *testing.T) {
	m := NewMemorySender()
	m.FailNext(errors.New("temporary"))
	assert.Error(t, m.Send(context.Background(), "a", nil))
	require.NoError(t, m.Send(context.Background(), "b", []string{"x@example.com"}))
	assert.Equal(t, 2, m.Calls())
	assert.Equal(t, []Sent{{Message: "b", Recipients: []string{"x@example.com"}}}, m.Sent())

	release := make(chan struct{})
	m.Block(release)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Send(ctx, "c", nil), context.DeadlineExceeded)
	close(release)
}

func TestSMTPSender_Validation(t *testing.T) {
	_, err := NewSMTPSender(SMTPOptions{})
	assert.Error(t, err)

	s, err := NewSMTPSender(SMTPOptions{Server: "localhost", Port: 2525, Secure: "none", From: "relay@example.com"})
	require.NoError(t, err)

	err = s.Send(context.Background(), "no recipients", nil)
	assert.True(t, IsFatal(err))

	s.SetDefaults("[relay]", []string{"not-an-address"})
	err = s.Send(context.Background(), "bad recipient", nil)
	assert.True(t, IsFatal(err))
}

func TestLogSender(t *testing.T) {
	assert.NoError(t, NewLogSender(log.Nop()).Send(context.Background(), "hello", nil))
}
