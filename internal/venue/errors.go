package venue

import (
	"errors"
	"fmt"
)

// AuthError means the session or credentials are invalid. Callers
// re-authenticate once and then surface it.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("venue auth: %s: %v", e.Reason, e.Err)
	}
	return "venue auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError is a transient transport failure. For submissions it is
// ambiguous: the order may or may not have reached the venue.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("venue network: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RejectedError is a business-rule rejection (insufficient margin, bad
// instrument, risk limit). Terminal — never retried.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "venue rejected: " + e.Reason }

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsNetwork reports whether err is a transient transport failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsRejected reports whether err is a terminal business rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
