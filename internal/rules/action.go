package rules

import (
	"fmt"

	"github.com/okieraised/relay-controller/internal/relay"
)

type ActionType string

const (
	ActionIO     ActionType = "io"
	ActionEmail  ActionType = "email"
	ActionReboot ActionType = "reboot"
	ActionLog    ActionType = "log"
)

// Action is one of IoAction, EmailAction, RebootAction or LogAction.
type Action interface {
	Type() ActionType
	String() string
	sealed()
}

// IoAction drives a relay through the relay controller.
type IoAction struct {
	Target string
	State  relay.CommandKind
}

// EmailAction sends Message to Recipients, or to the device defaults when empty.
type EmailAction struct {
	Message    string
	Recipients []string
}

type RebootAction struct {
	Reason string
}

// LogAction writes a warning to the controller log.
type LogAction struct {
	Message string
}

func (IoAction) Type() ActionType     { return ActionIO }
func (EmailAction) Type() ActionType  { return ActionEmail }
func (RebootAction) Type() ActionType { return ActionReboot }
func (LogAction) Type() ActionType    { return ActionLog }

func (IoAction) sealed()     {}
func (EmailAction) sealed()  {}
func (RebootAction) sealed() {}
func (LogAction) sealed()    {}

func (a IoAction) String() string     { return fmt.Sprintf("io(%s=%s)", a.Target, a.State) }
func (a EmailAction) String() string  { return fmt.Sprintf("email(%q)", a.Message) }
func (a RebootAction) String() string { return "reboot" }
func (a LogAction) String() string    { return fmt.Sprintf("log(%q)", a.Message) }

// ActionSpec is the configuration form of an action.
type ActionSpec struct {
	Type       string   `yaml:"type" json:"type" validate:"required,oneof=io email reboot log"`
	Target     string   `yaml:"target,omitempty" json:"target,omitempty" validate:"required_if=Type io"`
	State      string   `yaml:"state,omitempty" json:"state,omitempty"`
	Message    string   `yaml:"message,omitempty" json:"message,omitempty"`
	Recipients []string `yaml:"recipients,omitempty" json:"recipients,omitempty" validate:"omitempty,dive,email"`
}

func (s ActionSpec) build(ruleName string) (Action, error) {
	switch ActionType(s.Type) {
	case ActionIO:
		kind, err := relay.ParseCommandKind(s.State)
		if err != nil {
			return nil, err
		}
		return IoAction{Target: s.Target, State: kind}, nil
	case ActionEmail:
		msg := s.Message
		if msg == "" {
			msg = fmt.Sprintf("Rule '%s' triggered", ruleName)
		}
		return EmailAction{Message: msg, Recipients: append([]string(nil), s.Recipients...)}, nil
	case ActionReboot:
		return RebootAction{Reason: fmt.Sprintf("rule '%s'", ruleName)}, nil
	case ActionLog:
		msg := s.Message
		if msg == "" {
			msg = fmt.Sprintf("Alert from rule '%s'", ruleName)
		}
		return LogAction{Message: msg}, nil
	default:
		return nil, fmt.Errorf("unknown action type %q", s.Type)
	}
}
