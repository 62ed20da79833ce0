// File: cmd/opsctl/approval.go
// Brief: Shared approval decision plumbing for prompting commands.

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type approvalDecision struct {
	Approved       bool
	InteractiveTTY bool
	NonInteractive bool
}

func approvedFromEnv() bool {
	v := strings.TrimSpace(os.Getenv("OPSCTL_YES"))
	if v == "" {
		return false
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func approvalMode(cmd *cobra.Command, approved bool, nonInteractive bool) (approvalDecision, error) {
	if !approved && approvedFromEnv() {
		approved = true
	}
	interactive := isTerminalReader(cmd.InOrStdin()) && isTerminalWriter(cmd.ErrOrStderr())
	if nonInteractive && !approved {
		return approvalDecision{}, fmt.Errorf("--non-interactive requires --yes")
	}
	return approvalDecision{
		Approved:       approved,
		InteractiveTTY: interactive,
		NonInteractive: nonInteractive,
	}, nil
}

func isTerminalReader(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func isTerminalWriter(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
