package cerrors

import (
	"errors"
	"fmt"
	"net/http"
)

type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e == nil {
		return "OK"
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches another *AppError by code, so copies made by WithCause still match their sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a shallow copy of e with Cause.
func (e *AppError) WithCause(err error) *AppError {
	if e == nil {
		return nil
	}
	c := *e
	c.Cause = err
	return &c
}

// WithMessage returns a shallow copy with an overridden message.
func (e *AppError) WithMessage(msg string, a ...any) *AppError {
	if e == nil {
		return nil
	}
	c := *e
	if len(a) > 0 {
		c.Message = fmt.Sprintf(msg, a...)
	} else {
		c.Message = msg
	}
	return &c
}

// CodeOf returns the code of the first *AppError in err's chain, "OK" for nil
// and "UNKNOWN" when there is none.
func CodeOf(err error) string {
	if err == nil {
		return OK.Code
	}
	var e *AppError
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return "UNKNOWN"
}

// HTTPStatusOf returns the status of the first *AppError in err's chain, 200
// for nil and 500 otherwise.
func HTTPStatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var e *AppError
	if errors.As(err, &e) && e != nil && e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}

// def is a small constructor for sentinels.
func def(code, msg string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: msg, HTTPStatus: httpStatus}
}

var (
	OK = def("OK", "OK", http.StatusOK)
)

var (
	ErrGenericBadRequest      = def("400000", "bad request error", http.StatusBadRequest)
	ErrGenericUnknownAPIPath  = def("400004", "unknown api path", http.StatusNotFound)
	ErrGenericInternalServer  = def("500000", "internal server error", http.StatusInternalServerError)
	ErrGenericRequestTimedOut = def("500004", "request timeout error", http.StatusGatewayTimeout)
)

var (
	ErrConfigValidation  = def("410000", "configuration validation error", http.StatusUnprocessableEntity)
	ErrConfigUnavailable = def("410001", "device configuration unavailable", http.StatusServiceUnavailable)
)

var (
	ErrRelayNotFound   = def("420000", "relay not found", http.StatusNotFound)
	ErrRelayDisabled   = def("420001", "relay is disabled", http.StatusConflict)
	ErrRelayFault      = def("420002", "relay hardware write failed", http.StatusBadGateway)
	ErrInvalidDuration = def("420003", "invalid pulse duration", http.StatusBadRequest)
	ErrInvalidCommand  = def("420004", "invalid relay command", http.StatusBadRequest)
)

var (
	ErrRuleNotFound = def("440000", "rule not found", http.StatusNotFound)
)

var (
	ErrDispatchQueueFull = def("430000", "dispatch queue is full", http.StatusServiceUnavailable)
	ErrDispatcherClosed  = def("430001", "dispatcher is shutting down", http.StatusServiceUnavailable)
	ErrActionFailed      = def("430002", "action dispatch failed", http.StatusBadGateway)
)
