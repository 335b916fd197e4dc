package cerrors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorDetail is one problem found while validating device configuration.
type ErrorDetail struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
}

// ConfigValidationError rejects a load or reload as a whole.
type ConfigValidationError struct {
	Details []ErrorDetail
}

func (e *ConfigValidationError) Error() string {
	if len(e.Details) == 0 {
		return "invalid configuration"
	}
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, fmt.Sprintf("%s: %s", d.Field, d.Problem))
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Add appends a detail.
func (e *ConfigValidationError) Add(field, problem string, a ...any) {
	if len(a) > 0 {
		problem = fmt.Sprintf(problem, a...)
	}
	e.Details = append(e.Details, ErrorDetail{Field: field, Problem: problem})
}

// OrNil returns nil when no detail was collected.
func (e *ConfigValidationError) OrNil() error {
	if e == nil || len(e.Details) == 0 {
		return nil
	}
	return e
}

// EvaluationSkip means one rule was not evaluated for one pass.
type EvaluationSkip struct {
	RuleID string
	Reason string
}

func (e *EvaluationSkip) Error() string {
	return fmt.Sprintf("rule %s skipped: %s", e.RuleID, e.Reason)
}

// ActionDispatchFailure is the terminal result of an action that did not succeed.
type ActionDispatchFailure struct {
	DispatchID string
	ActionType string
	Attempts   int
	Retryable  bool
	Abandoned  bool
	Err        error
}

func (e *ActionDispatchFailure) Error() string {
	state := "failed"
	if e.Abandoned {
		state = "abandoned"
	}
	return fmt.Sprintf("%s action %s %s after %d attempt(s): %v", e.ActionType, e.DispatchID, state, e.Attempts, e.Err)
}

func (e *ActionDispatchFailure) Unwrap() error { return e.Err }

// RelayFault is raised when a hardware write failed twice in a row.
type RelayFault struct {
	RelayID string
	Err     error
}

func (e *RelayFault) Error() string {
	return fmt.Sprintf("relay %s fault: %v", e.RelayID, e.Err)
}

func (e *RelayFault) Unwrap() error { return e.Err }

// SchedulerMissedTick reports an evaluation pass that ran past its period.
type SchedulerMissedTick struct {
	Overrun     time.Duration
	Consecutive int
}

func (e *SchedulerMissedTick) Error() string {
	return fmt.Sprintf("evaluation pass overran its period by %s (%d consecutive)", e.Overrun, e.Consecutive)
}

// ToAppError maps any error onto the API error sentinels.
func ToAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var cfgErr *ConfigValidationError
	if errors.As(err, &cfgErr) {
		return ErrConfigValidation.WithMessage("%s", cfgErr).WithCause(err)
	}
	var fault *RelayFault
	if errors.As(err, &fault) {
		return ErrRelayFault.WithMessage("%s", fault).WithCause(err)
	}
	var dispatchErr *ActionDispatchFailure
	if errors.As(err, &dispatchErr) {
		return ErrActionFailed.WithMessage("%s", dispatchErr).WithCause(err)
	}
	return ErrGenericInternalServer.WithCause(err)
}

// DetailsOf returns the validation details carried by err, if any.
func DetailsOf(err error) []ErrorDetail {
	var cfgErr *ConfigValidationError
	if errors.As(err, &cfgErr) {
		return cfgErr.Details
	}
	return nil
}
