package validation

import (
	"testing"

	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAction struct {
	Type   string `yaml:"type" validate:"required,oneof=io email log reboot"`
	Target string `yaml:"target" validate:"required_if=Type io"`
}

type testRule struct {
	ID       string       `yaml:"id" validate:"required"`
	Cooldown int          `yaml:"cooldown" validate:"gt=0"`
	Email    string       `yaml:"email,omitempty" validate:"omitempty,email"`
	Actions  []testAction `yaml:"actions" validate:"min=1,dive"`
	Internal string       `yaml:"-" validate:"required"`
}

func TestStructReportsYAMLFieldNames(t *testing.T) {
	verr := &cerrors.ConfigValidationError{}
	Struct(verr, "rules[2]", testRule{
		Cooldown: 0,
		Email:    "nope",
		Actions:  []testAction{{Type: "io"}, {Type: "siren", Target: "x"}},
		Internal: "set",
	})

	got := map[string]string{}
	for _, d := range verr.Details {
		got[d.Field] = d.Problem
	}
	assert.Equal(t, "is required", got["rules[2].id"])
	assert.Equal(t, "must be greater than 0", got["rules[2].cooldown"])
	assert.Equal(t, "nope is not a valid email address", got["rules[2].email"])
	assert.Equal(t, "is required", got["rules[2].actions[0].target"])
	assert.Equal(t, "must be one of [io email log reboot]", got["rules[2].actions[1].type"])
	require.Len(t, verr.Details, 5)
}

func TestStructValid(t *testing.T) {
	verr := &cerrors.ConfigValidationError{}
	Struct(verr, "", testRule{ID: "r", Cooldown: 1, Actions: []testAction{{Type: "log"}}, Internal: "x"})
	assert.NoError(t, verr.OrNil())
}
