// File: internal/rollback/errors.go
// Brief: Rollback precondition errors.

package rollback

import (
	"errors"
	"fmt"

	"github.com/userhub/opsctl/internal/registry"
)

// ErrNoPriorVersion means the current version is the oldest history entry,
// so there is nothing to roll back to.
var ErrNoPriorVersion = errors.New("no prior version")

// VersionNotFoundError means an explicitly requested version does not exist
// in history. Fatal: no partial action is taken.
type VersionNotFoundError struct {
	Kind    registry.ResourceKind
	Version string
}

func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("%s version %s not found in history", e.Kind, e.Version)
}
