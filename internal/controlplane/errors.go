// File: internal/controlplane/errors.go
// Brief: Sentinel and typed errors shared by control-plane bindings.

package controlplane

import (
	"errors"
	"fmt"
)

var (
	// ErrStackNotFound means the named stack does not exist on the provider.
	ErrStackNotFound = errors.New("stack not found")
	// ErrNoChanges means an update would be a no-op.
	ErrNoChanges = errors.New("no changes to apply")
)

// PermissionError is a fatal precondition failure from the provider's
// authorization layer. It is checked before any stack is touched.
type PermissionError struct {
	Op  string
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied during %s: %v", e.Op, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// IsPermissionDenied reports whether err is a PermissionError.
func IsPermissionDenied(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}
