// File: cmd/opsctl/deploy.go
// Brief: Ordered multi-stack deployment with change preview and gate.

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/userhub/opsctl/internal/audit"
	"github.com/userhub/opsctl/internal/controlplane/awscp"
	"github.com/userhub/opsctl/internal/deployer"
	"github.com/userhub/opsctl/internal/envlock"
	"github.com/userhub/opsctl/internal/gate"
	"github.com/userhub/opsctl/internal/logging"
	"github.com/userhub/opsctl/internal/registry"
	"go.uber.org/zap"
)

func newDeployCommand(logLevel *string, configPath *string) *cobra.Command {
	var (
		yes            bool
		nonInteractive bool
	)
	cmd := &cobra.Command{
		Use:   "deploy <environment>",
		Short: "Deploy every stack of an environment in plan order",
		Long: `Deploy walks the environment's stack plan in declared order. For each
stack it previews the pending change, asks for confirmation on protected
environments, and waits for a terminal state before moving on. A failing
stack halts the walk; later stacks are not attempted.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log, err := logging.New(*logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			env, err := loadEnvironment(args[0], *configPath)
			if err != nil {
				return err
			}
			dec, err := approvalMode(cmd, yes, nonInteractive)
			if err != nil {
				return err
			}
			confirmer, err := confirmerFor(cmd, env, dec, log)
			if err != nil {
				return err
			}

			lock, err := envlock.Acquire(filepath.Join(".opsctl", "locks"), env.Name)
			if err != nil {
				return err
			}
			defer lock.Release()

			clients, err := awscp.Load(ctx, env.Region)
			if err != nil {
				return err
			}
			if err := clients.Preflight(ctx); err != nil {
				return err
			}

			store, err := audit.Open(audit.DefaultPath("."))
			if err != nil {
				return err
			}
			defer store.Close()

			stacks := awscp.NewStacks(clients.CFN)
			g := gate.New(stacks, confirmer, cmd.OutOrStdout(), log)
			d := deployer.New(stacks, registry.New(), g, log)

			started := time.Now()
			log.Info("starting deployment",
				zap.String("environment", env.Name),
				zap.Int("stacks", len(env.Plan)))
			res, err := d.Deploy(ctx, env)
			recordDeployRun(cmd, store, env.Name, res, started, err)
			if err != nil {
				return err
			}
			if res.Declined {
				return declinedError(fmt.Errorf("deployment declined at stack %s", res.HaltedAt))
			}
			printDeploySummary(cmd, res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Approve all change previews without prompting (logged)")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Fail instead of prompting; requires --yes for protected environments")
	return cmd
}

func recordDeployRun(cmd *cobra.Command, store *audit.Store, env string, res deployer.Result, started time.Time, runErr error) {
	outcome := "succeeded"
	detail := ""
	switch {
	case runErr != nil:
		outcome = "failed"
		detail = runErr.Error()
		if res.HaltedAt != "" {
			detail = fmt.Sprintf("halted at %s: %s", res.HaltedAt, runErr)
		}
	case res.Declined:
		outcome = "declined"
		detail = fmt.Sprintf("declined at %s", res.HaltedAt)
	}
	// The row must land even when the run context was cancelled.
	if _, err := store.RecordRun(context.WithoutCancel(cmd.Context()), audit.RunRecord{
		Environment: env,
		Command:     "deploy",
		Outcome:     outcome,
		Detail:      detail,
		StartedAt:   started,
	}); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: audit record failed: %v\n", err)
	}
}

func printDeploySummary(cmd *cobra.Command, res deployer.Result) {
	out := cmd.OutOrStdout()
	bold := color.New(color.Bold)
	bold.Fprintln(out, "\nDeployment complete")
	for _, o := range res.Outcomes {
		mark := color.GreenString("✓")
		if o.Action == deployer.ActionNoop {
			mark = color.HiBlackString("-")
		}
		fmt.Fprintf(out, "  %s %-30s %-8s %s\n", mark, o.Name, o.Action, o.Status)
	}
	if len(res.Outputs) > 0 {
		bold.Fprintln(out, "\nOutputs")
		for _, k := range sortedKeys(res.Outputs) {
			fmt.Fprintf(out, "  %-30s %s\n", k, res.Outputs[k])
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
