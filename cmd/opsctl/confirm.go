// File: cmd/opsctl/confirm.go
// Brief: Confirmation policy selection for deploy and rollback.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/userhub/opsctl/internal/config"
	"github.com/userhub/opsctl/internal/gate"
	"go.uber.org/zap"
)

// confirmerFor picks the change-gate policy for an environment: automatic
// pass-through for unprotected environments, interactive (or explicitly
// bypassed) for protected ones. One code path either way.
func confirmerFor(cmd *cobra.Command, env *config.Environment, dec approvalDecision, log *zap.Logger) (gate.Confirmer, error) {
	if !env.Protected {
		return gate.AutoConfirmer{Approve: true}, nil
	}
	if dec.Approved {
		log.Warn("confirmation bypassed via --yes", zap.String("environment", env.Name))
		return gate.AutoConfirmer{Approve: true}, nil
	}
	if dec.NonInteractive || !dec.InteractiveTTY {
		return nil, fmt.Errorf("environment %s is protected and requires confirmation; rerun with --yes from automation or from an interactive terminal", env.Name)
	}
	return gate.InteractiveConfirmer{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()}, nil
}

// confirmOperation asks a single yes/no question before a destructive
// operation. A --yes bypass is honored but always logged.
func confirmOperation(ctx context.Context, cmd *cobra.Command, dec approvalDecision, log *zap.Logger, prompt string) error {
	if dec.Approved {
		log.Warn("confirmation bypassed via --yes")
		return nil
	}
	if dec.NonInteractive || !dec.InteractiveTTY {
		return fmt.Errorf("refusing to proceed without confirmation; rerun with --yes")
	}
	confirmer := gate.InteractiveConfirmer{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()}
	ok, err := confirmer.Confirm(ctx, prompt)
	if err != nil {
		return err
	}
	if !ok {
		return declinedError(fmt.Errorf("aborted at confirmation"))
	}
	return nil
}
