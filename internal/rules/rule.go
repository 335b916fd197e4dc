package rules

import (
	"fmt"
	"time"

	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/okieraised/relay-controller/internal/telemetry"
	"github.com/okieraised/relay-controller/internal/utilities"
	"github.com/okieraised/relay-controller/internal/validation"
)

// Spec is the configuration form of a rule.
type Spec struct {
	ID       string              `yaml:"id" json:"id" validate:"required"`
	Name     string              `yaml:"name" json:"name"`
	Source   string              `yaml:"source" json:"source" validate:"required"`
	Field    string              `yaml:"field" json:"field" validate:"required"`
	Operator string              `yaml:"operator" json:"operator" validate:"required"`
	Value    telemetry.Value     `yaml:"value" json:"value"`
	Cooldown *utilities.Duration `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`
	Enabled  *bool               `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Actions  []ActionSpec        `yaml:"actions" json:"actions" validate:"required,min=1,dive"`
}

// Rule is a validated, immutable rule.
type Rule struct {
	ID        string
	Name      string
	Source    string
	Field     string
	Operator  Operator
	Threshold telemetry.Value
	// Cooldown overrides the evaluator default when set, including to zero.
	Cooldown *time.Duration
	Actions  []Action
}

func (r Rule) Key() telemetry.Key { return telemetry.Key{Source: r.Source, Field: r.Field} }

// CooldownOr returns the rule's own cooldown, or def when it has none.
func (r Rule) CooldownOr(def time.Duration) time.Duration {
	if r.Cooldown != nil {
		return *r.Cooldown
	}
	return def
}

func (r Rule) String() string {
	return fmt.Sprintf("%s: %s.%s %s %s", r.ID, r.Source, r.Field, r.Operator, r.Threshold)
}

// TargetCatalog reports whether an io action target exists.
type TargetCatalog func(relayID string) bool

// Build validates specs and returns rules in declared order. Every problem is
// collected into a single ConfigValidationError. Disabled rules are dropped.
func Build(specs []Spec, targets TargetCatalog) ([]Rule, error) {
	verr := &cerrors.ConfigValidationError{}
	out := make([]Rule, 0, len(specs))
	seen := make(map[string]int, len(specs))

	for i, spec := range specs {
		prefix := fmt.Sprintf("rules[%d]", i)
		if spec.ID != "" {
			prefix = fmt.Sprintf("rules[%s]", spec.ID)
		}
		before := len(verr.Details)

		validation.Struct(verr, prefix, spec)
		if j, dup := seen[spec.ID]; dup && spec.ID != "" {
			verr.Add(prefix+".id", "duplicate rule id (first declared at rules[%d])", j)
		}
		seen[spec.ID] = i

		op, err := ParseOperator(spec.Operator)
		if spec.Operator != "" && err != nil {
			verr.Add(prefix+".operator", "unknown operator %q", spec.Operator)
		}
		if !spec.Value.IsValid() {
			verr.Add(prefix+".value", "is required")
		} else if spec.Value.Kind() == telemetry.KindBool && op.ordering() {
			verr.Add(prefix+".operator", "operator %s is not defined for bool", op)
		}
		if spec.Cooldown != nil && spec.Cooldown.Duration < 0 {
			verr.Add(prefix+".cooldown", "must not be negative")
		}

		name := spec.Name
		if name == "" {
			name = spec.ID
		}
		actions := make([]Action, 0, len(spec.Actions))
		for j, as := range spec.Actions {
			field := fmt.Sprintf("%s.actions[%d]", prefix, j)
			a, err := as.build(name)
			if err != nil {
				verr.Add(field, "%s", err)
				continue
			}
			if io, ok := a.(IoAction); ok && targets != nil && !targets(io.Target) {
				verr.Add(field+".target", "unknown relay %q", io.Target)
				continue
			}
			actions = append(actions, a)
		}

		if len(verr.Details) > before {
			continue
		}
		if spec.Enabled != nil && !*spec.Enabled {
			continue
		}
		r := Rule{
			ID:        spec.ID,
			Name:      name,
			Source:    spec.Source,
			Field:     spec.Field,
			Operator:  op,
			Threshold: spec.Value,
			Actions:   actions,
		}
		if spec.Cooldown != nil {
			d := spec.Cooldown.Duration
			r.Cooldown = &d
		}
		out = append(out, r)
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}
