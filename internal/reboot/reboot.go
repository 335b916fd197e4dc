// Package reboot restarts the host.
package reboot

import (
	"context"
	"os/exec"
	"strings"
	"sync"

	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Trigger reboots the system. After a successful call the process should not
// expect to keep running.
type Trigger interface {
	Reboot(ctx context.Context) error
}

// CommandTrigger runs a shell-free command such as "systemctl reboot".
type CommandTrigger struct {
	argv   []string
	logger *log.Logger
}

func NewCommandTrigger(command string, l *log.Logger) (*CommandTrigger, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, errors.New("reboot command is empty")
	}
	if l == nil {
		l = log.Component("reboot")
	}
	return &CommandTrigger{argv: argv, logger: l}, nil
}

func (t *CommandTrigger) Reboot(ctx context.Context) error {
	t.logger.Warn("Rebooting system", zap.Strings("command", t.argv))
	out, err := exec.CommandContext(ctx, t.argv[0], t.argv[1:]...).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "run %q: %s", strings.Join(t.argv, " "), strings.TrimSpace(string(out)))
	}
	return nil
}

// DryRunTrigger only logs.
type DryRunTrigger struct {
	logger *log.Logger
}

func NewDryRunTrigger(l *log.Logger) *DryRunTrigger {
	if l == nil {
		l = log.Component("reboot")
	}
	return &DryRunTrigger{logger: l}
}

func (t *DryRunTrigger) Reboot(context.Context) error {
	t.logger.Warn("Reboot requested (dry run, not rebooting)")
	return nil
}

// MemoryTrigger counts reboots and returns scripted errors.
type MemoryTrigger struct {
	mu       sync.Mutex
	calls    int
	failures []error
}

func (t *MemoryTrigger) FailNext(errs ...error) {
	t.mu.Lock()
	t.failures = append(t.failures, errs...)
	t.mu.Unlock()
}

func (t *MemoryTrigger) Reboot(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if len(t.failures) > 0 {
		err := t.failures[0]
		t.failures = t.failures[1:]
		return err
	}
	return nil
}

func (t *MemoryTrigger) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
