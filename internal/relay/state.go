package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/okieraised/relay-controller/internal/utilities"
)

type State int

const (
	StateOff State = iota
	StateOn
	StatePulsing
)

func (s State) String() string {
	switch s {
	case StateOn:
		return "ON"
	case StatePulsing:
		return "PULSING"
	default:
		return "OFF"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText reads any reported state, including "PULSING".
func (s *State) UnmarshalText(b []byte) error {
	if strings.EqualFold(strings.TrimSpace(string(b)), StatePulsing.String()) {
		*s = StatePulsing
		return nil
	}
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseState accepts "on"/"off" in any case; "pulsing" is not a settable state.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "1", "true":
		return StateOn, nil
	case "off", "0", "false":
		return StateOff, nil
	default:
		return StateOff, fmt.Errorf("invalid relay state %q", s)
	}
}

func stateOf(on bool) State {
	if on {
		return StateOn
	}
	return StateOff
}

// Schedule switches a relay on between OnTime and OffTime on the days set in DaysMask.
type Schedule struct {
	Enabled  bool                `json:"enabled"`
	OnTime   utilities.ClockTime `json:"on_time"`
	OffTime  utilities.ClockTime `json:"off_time"`
	DaysMask uint8               `json:"days_mask"`
}

// Config is the static description of one relay.
type Config struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Enabled        bool          `json:"enabled"`
	PulseTime      time.Duration `json:"pulse_time"`
	BootState      State         `json:"boot_state"`
	NormallyClosed bool          `json:"normally_closed"`
	Schedule       *Schedule     `json:"schedule,omitempty"`
}

// Status is a point-in-time view of a relay.
type Status struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Enabled     bool       `json:"enabled"`
	State       State      `json:"state"`
	Output      bool       `json:"output"`
	Fault       bool       `json:"fault"`
	FaultError  string     `json:"fault_error,omitempty"`
	FaultSince  *time.Time `json:"fault_since,omitempty"`
	PulseUntil  *time.Time `json:"pulse_until,omitempty"`
	PulseReturn *State     `json:"pulse_return,omitempty"`
	LastChange  time.Time  `json:"last_change"`
	Seq         uint64     `json:"seq"`
}
