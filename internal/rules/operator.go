package rules

import (
	"math"
	"strings"

	"github.com/okieraised/relay-controller/internal/telemetry"
	"github.com/pkg/errors"
)

type Operator string

const (
	OpLT  Operator = "<"
	OpLTE Operator = "<="
	OpGT  Operator = ">"
	OpGTE Operator = ">="
	OpEQ  Operator = "=="
	OpNEQ Operator = "!="
)

var (
	ErrUnknownOperator = errors.New("unknown operator")
	ErrTypeMismatch    = errors.New("type mismatch")
)

func ParseOperator(s string) (Operator, error) {
	switch op := Operator(strings.TrimSpace(s)); op {
	case OpLT, OpLTE, OpGT, OpGTE, OpEQ, OpNEQ:
		return op, nil
	default:
		return "", errors.Wrapf(ErrUnknownOperator, "%q", s)
	}
}

func (o Operator) Valid() bool {
	_, err := ParseOperator(string(o))
	return err == nil
}

func (o Operator) ordering() bool {
	return o == OpLT || o == OpLTE || o == OpGT || o == OpGTE
}

// Compare evaluates `sample op threshold`. Numbers compare numerically and strings
// lexicographically; booleans support only == and !=. Values of different kinds
// never compare and return ErrTypeMismatch, and neither does NaN.
func Compare(sample telemetry.Value, op Operator, threshold telemetry.Value) (bool, error) {
	if !op.Valid() {
		return false, errors.Wrapf(ErrUnknownOperator, "%q", op)
	}
	if !sample.IsValid() || !threshold.IsValid() || sample.Kind() != threshold.Kind() {
		return false, errors.Wrapf(ErrTypeMismatch, "cannot compare %s with %s", sample.Kind(), threshold.Kind())
	}

	var c int
	switch sample.Kind() {
	case telemetry.KindNumber:
		a, b := sample.Float(), threshold.Float()
		if math.IsNaN(a) || math.IsNaN(b) {
			return false, errors.Wrap(ErrTypeMismatch, "NaN is not comparable")
		}
		switch {
		case a < b:
			c = -1
		case a > b:
			c = 1
		}
	case telemetry.KindString:
		c = strings.Compare(sample.Str(), threshold.Str())
	case telemetry.KindBool:
		if op.ordering() {
			return false, errors.Wrapf(ErrTypeMismatch, "operator %s is not defined for bool", op)
		}
		if sample.BoolValue() != threshold.BoolValue() {
			c = 1
		}
	}

	switch op {
	case OpLT:
		return c < 0, nil
	case OpLTE:
		return c <= 0, nil
	case OpGT:
		return c > 0, nil
	case OpGTE:
		return c >= 0, nil
	case OpEQ:
		return c == 0, nil
	default:
		return c != 0, nil
	}
}
