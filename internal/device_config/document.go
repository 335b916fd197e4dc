// Package device_config loads the device document: relays, rules, schedules,
// the daily reboot and notification defaults.
package device_config

import (
	"bytes"
	"fmt"
	"io"

	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/okieraised/relay-controller/internal/config"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/okieraised/relay-controller/internal/relay"
	"github.com/okieraised/relay-controller/internal/rules"
	"github.com/okieraised/relay-controller/internal/utilities"
	"github.com/okieraised/relay-controller/internal/validation"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Document struct {
	General General      `yaml:"general"`
	Email   Email        `yaml:"email"`
	Relays  []RelaySpec  `yaml:"relays"`
	Rules   []rules.Spec `yaml:"rules"`
}

type General struct {
	SystemName    string               `yaml:"system_name"`
	RebootTime    *utilities.ClockTime `yaml:"reboot_time,omitempty"`
	RebootEnabled *bool                `yaml:"reboot_enabled,omitempty"`
}

type Email struct {
	Recipients    []string `yaml:"recipients" validate:"omitempty,dive,email"`
	SubjectPrefix string   `yaml:"subject_prefix"`
}

type RelaySpec struct {
	ID             string              `yaml:"id" validate:"required"`
	Name           string              `yaml:"name"`
	Enabled        *bool               `yaml:"enabled,omitempty"`
	PulseTime      *utilities.Duration `yaml:"pulse_time,omitempty"`
	BootState      string              `yaml:"boot_state,omitempty"`
	NormallyClosed bool                `yaml:"normally_closed"`
	Schedule       *ScheduleSpec       `yaml:"schedule,omitempty"`
}

type ScheduleSpec struct {
	Enabled  bool                `yaml:"enabled"`
	OnTime   utilities.ClockTime `yaml:"on_time"`
	OffTime  utilities.ClockTime `yaml:"off_time"`
	DaysMask uint8               `yaml:"days_mask"`
}

// Parse decodes one YAML document. Unknown keys are rejected.
func Parse(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &doc, nil
		}
		verr := &cerrors.ConfigValidationError{}
		verr.Add("document", "%s", err)
		return nil, verr
	}
	return &doc, nil
}

// SystemName falls back to controller.system_name, then to the default name.
func (d *Document) SystemName() string {
	if d.General.SystemName == "" {
		return config.String(config.ControllerSystemName, constants.DefaultSystemName)
	}
	return d.General.SystemName
}

// DailyReboot is enabled unless reboot_enabled is false, at 04:00 unless set.
func (d *Document) DailyReboot() (bool, utilities.ClockTime) {
	at := utilities.MustParseClock(constants.DefaultRebootTime)
	if d.General.RebootTime != nil {
		at = *d.General.RebootTime
	}
	return d.General.RebootEnabled == nil || *d.General.RebootEnabled, at
}

// SubjectPrefix defaults to "[<system name>]".
func (d *Document) SubjectPrefix() string {
	if d.Email.SubjectPrefix != "" {
		return d.Email.SubjectPrefix
	}
	return fmt.Sprintf("[%s]", d.SystemName())
}

// RelayIDs returns ids in declared order.
func (d *Document) RelayIDs() []string {
	out := make([]string, 0, len(d.Relays))
	for _, r := range d.Relays {
		out = append(out, r.ID)
	}
	return out
}

// Validate checks relays and rules together and reports every problem.
func (d *Document) Validate() error {
	verr := &cerrors.ConfigValidationError{}
	validation.Struct(verr, "email", d.Email)

	known := make(map[string]struct{}, len(d.Relays))
	for i, r := range d.Relays {
		prefix := fmt.Sprintf("relays[%d]", i)
		validation.Struct(verr, prefix, r)
		if r.ID != "" {
			if _, dup := known[r.ID]; dup {
				verr.Add(prefix+".id", "duplicate relay id %q", r.ID)
			}
			known[r.ID] = struct{}{}
		}
		if r.PulseTime != nil && r.PulseTime.Duration <= 0 {
			verr.Add(prefix+".pulse_time", "must be greater than zero")
		}
		if r.BootState != "" {
			if st, err := relay.ParseState(r.BootState); err != nil || st == relay.StatePulsing {
				verr.Add(prefix+".boot_state", "must be on or off, got %q", r.BootState)
			}
		}
		if s := r.Schedule; s != nil && s.Enabled {
			if s.DaysMask&relay.EveryDay == 0 {
				verr.Add(prefix+".schedule.days_mask", "selects no day")
			}
			if s.OnTime == s.OffTime {
				verr.Add(prefix+".schedule", "on_time and off_time must differ")
			}
		}
	}

	_, err := rules.Build(d.Rules, func(id string) bool {
		_, ok := known[id]
		return ok
	})
	var ruleErr *cerrors.ConfigValidationError
	if errors.As(err, &ruleErr) {
		verr.Details = append(verr.Details, ruleErr.Details...)
	} else if err != nil {
		verr.Add("rules", "%s", err)
	}
	return verr.OrNil()
}

// RelayConfigs converts relay specs, applying defaults.
func (d *Document) RelayConfigs() []relay.Config {
	out := make([]relay.Config, 0, len(d.Relays))
	for _, r := range d.Relays {
		cfg := relay.Config{
			ID:             r.ID,
			Name:           r.Name,
			Enabled:        r.Enabled == nil || *r.Enabled,
			PulseTime:      constants.DefaultPulseDuration,
			BootState:      relay.StateOff,
			NormallyClosed: r.NormallyClosed,
		}
		if cfg.Name == "" {
			cfg.Name = r.ID
		}
		if r.PulseTime != nil && r.PulseTime.Duration > 0 {
			cfg.PulseTime = r.PulseTime.Duration
		}
		if st, err := relay.ParseState(r.BootState); err == nil {
			cfg.BootState = st
		}
		if r.Schedule != nil {
			cfg.Schedule = &relay.Schedule{
				Enabled:  r.Schedule.Enabled,
				OnTime:   r.Schedule.OnTime,
				OffTime:  r.Schedule.OffTime,
				DaysMask: r.Schedule.DaysMask,
			}
		}
		out = append(out, cfg)
	}
	return out
}
