package api

import (
	"errors"
	"fmt"
)

// API error codes returned in the body of non-2xx responses.
const (
	CodeWrongCredentials     = 8002
	CodeInvalidSecondFactor  = 8012
	CodeSecondFactorRequired = 9001
	CodeSessionExpired       = 10013
)

// Error is an application-level error returned by the REST API.
type Error struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"error"`
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches API errors by code, so sentinel comparisons with errors.Is work
// on errors decoded from response bodies.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// Sentinel API errors. ErrWrongCredentials carries the exact user-visible
// message shown on a failed password check.
var (
	ErrWrongCredentials     = &Error{Status: 401, Code: CodeWrongCredentials, Message: "Wrong credentials."}
	ErrInvalidSecondFactor  = &Error{Status: 422, Code: CodeInvalidSecondFactor, Message: "Invalid authentication code."}
	ErrSecondFactorRequired = &Error{Status: 401, Code: CodeSecondFactorRequired, Message: "Two-factor authentication required."}
	ErrSessionExpired       = &Error{Status: 401, Code: CodeSessionExpired, Message: "Session expired."}
)

// Transport-level failures. ErrNotReachable means the request never got an
// HTTP response; ErrUnavailable means the API answered with a 5xx.
var (
	ErrNotReachable = errors.New("api not reachable")
	ErrUnavailable  = errors.New("api temporarily unavailable")
)

// IsTransient reports whether the error is worth retrying later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNotReachable) || errors.Is(err, ErrUnavailable)
}

func unreachable(err error) error {
	return fmt.Errorf("%w: %v", ErrNotReachable, err)
}
