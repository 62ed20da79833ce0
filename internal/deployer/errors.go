// File: internal/deployer/errors.go
// Brief: Deploy failure error carrying raw provider events.

package deployer

import (
	"fmt"
	"strings"

	"github.com/userhub/opsctl/internal/controlplane"
)

// DeployError reports a stack that reached a failed terminal state. The raw
// failure events from the control plane are attached, not swallowed.
type DeployError struct {
	Stack  string
	Reason string
	Events []controlplane.StackEvent
}

func (e *DeployError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stack %s failed", e.Stack)
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	for _, ev := range e.Events {
		fmt.Fprintf(&b, "\n  %s %s %s: %s", ev.Timestamp.Format("15:04:05"), ev.LogicalID, ev.Status, ev.Reason)
	}
	return b.String()
}
