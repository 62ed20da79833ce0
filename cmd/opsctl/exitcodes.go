// File: cmd/opsctl/exitcodes.go
// Brief: Exit code mapping, including the distinct "declined" code.

package main

import "errors"

const (
	exitOK       = 0
	exitFailure  = 1
	exitDeclined = 2
)

// exitCodeError carries a specific process exit code up to main.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }

func (e *exitCodeError) Unwrap() error { return e.err }

func declinedError(err error) error {
	return &exitCodeError{code: exitDeclined, err: err}
}

func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	var ec *exitCodeError
	if errors.As(err, &ec) {
		return ec.code
	}
	return exitFailure
}
