package relay

import (
	"fmt"
	"strings"
	"time"
)

type CommandKind string

const (
	CommandOn     CommandKind = "on"
	CommandOff    CommandKind = "off"
	CommandPulse  CommandKind = "pulse"
	CommandToggle CommandKind = "toggle"
)

func ParseCommandKind(s string) (CommandKind, error) {
	switch k := CommandKind(strings.ToLower(strings.TrimSpace(s))); k {
	case CommandOn, CommandOff, CommandPulse, CommandToggle:
		return k, nil
	default:
		return "", fmt.Errorf("invalid relay command %q", s)
	}
}

// Command is one state change request. Duration applies to pulses only;
// zero means the relay's configured pulse time.
type Command struct {
	Kind     CommandKind
	Duration time.Duration
}

func (c Command) String() string {
	if c.Kind == CommandPulse && c.Duration > 0 {
		return fmt.Sprintf("pulse(%s)", c.Duration)
	}
	return string(c.Kind)
}
