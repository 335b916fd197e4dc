package reboot

import (
	"context"
	"testing"

	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTrigger(t *testing.T) {
	_, err := NewCommandTrigger("  ", log.Nop())
	assert.Error(t, err)

	ok, err := NewCommandTrigger("true", log.Nop())
	require.NoError(t, err)
	assert.NoError(t, ok.Reboot(context.Background()))

	fail, err := NewCommandTrigger("false", log.Nop())
	require.NoError(t, err)
	assert.Error(t, fail.Reboot(context.Background()))
}

func TestMemoryTrigger(t *testing.T) {
	var m MemoryTrigger
	m.FailNext(errors.New("busy"))
	assert.Error(t, m.Reboot(context.Background()))
	assert.NoError(t, m.Reboot(context.Background()))
	assert.Equal(t, 2, m.Calls())
	assert.NoError(t, NewDryRunTrigger(log.Nop()).Reboot(context.Background()))
}
