// Package validation wraps validator/v10 for configuration documents. Field
// names in reported problems follow the yaml tags.
package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/pkg/errors"
)

var validate = New()

func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Struct validates s and adds every problem to verr under prefix.
func Struct(verr *cerrors.ConfigValidationError, prefix string, s any) {
	if err := validate.Struct(s); err != nil {
		Collect(verr, prefix, err)
	}
}

// Collect turns a validator error into details of verr.
func Collect(verr *cerrors.ConfigValidationError, prefix string, err error) {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add(prefix, "%s", err)
		return
	}
	for _, fe := range fieldErrs {
		// Namespace is "Spec.actions[0].target"; drop the struct name.
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		field := ns
		if prefix != "" {
			field = prefix + "." + ns
		}
		verr.Add(field, "%s", describe(fe))
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s item(s)", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "email":
		return fmt.Sprintf("%v is not a valid email address", fe.Value())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
