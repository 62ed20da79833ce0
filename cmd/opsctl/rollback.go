// File: cmd/opsctl/rollback.go
// Brief: Version rollback with pre-switch snapshots and health verification.

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/userhub/opsctl/internal/audit"
	"github.com/userhub/opsctl/internal/controlplane/awscp"
	"github.com/userhub/opsctl/internal/envlock"
	"github.com/userhub/opsctl/internal/logging"
	"github.com/userhub/opsctl/internal/probe"
	"github.com/userhub/opsctl/internal/registry"
	"github.com/userhub/opsctl/internal/rollback"
	"go.uber.org/zap"
)

func newRollbackCommand(logLevel *string, configPath *string) *cobra.Command {
	var (
		targetFlag     string
		toVersion      string
		yes            bool
		nonInteractive bool
	)
	cmd := &cobra.Command{
		Use:   "rollback <environment>",
		Short: "Roll the function alias and/or frontend assets back to a prior version",
		Long: `Rollback switches a resource to an earlier version from its own history.
Before any switch it records a snapshot of the current state so the rollback
can itself be undone, then verifies health afterwards. An applied but
unverified rollback is reported, never silently reverted.`,
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

			target, err := rollback.ParseTarget(targetFlag)
			if err != nil {
				return err
			}
			if target == rollback.TargetBoth && toVersion != "" {
				return fmt.Errorf("--to-version requires --target function or --target frontend; version ids are not shared between them")
			}
			env, err := loadEnvironment(args[0], *configPath)
			if err != nil {
				return err
			}
			dec, err := approvalMode(cmd, yes, nonInteractive)
			if err != nil {
				return err
			}
			prompt := fmt.Sprintf("Roll back %s target %q", env.Name, target)
			if toVersion != "" {
				prompt = fmt.Sprintf("%s to version %s", prompt, toVersion)
			}
			if err := confirmOperation(ctx, cmd, dec, log, prompt+"?"); err != nil {
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

			functions := awscp.NewFunctions(clients.Lambda)
			assets := awscp.NewAssets(clients.S3, clients.CloudFront, env.Assets.Bucket, env.Assets.Distribution)
			reg := registry.New()
			coord := rollback.New(functions, assets, probe.NewHTTPProber(), reg, store, log)

			started := time.Now()
			log.Info("starting rollback",
				zap.String("environment", env.Name),
				zap.String("target", string(target)),
				zap.String("toVersion", toVersion))
			res, err := coord.Rollback(ctx, env, target, toVersion)
			recordRollbackRun(cmd, store, env.Name, res, started, err)
			printRollbackSummary(cmd, res)
			printFinalVersions(cmd, reg)
			return err
		},
	}
	cmd.Flags().StringVar(&targetFlag, "target", string(rollback.TargetBoth), "What to roll back: function, frontend, or both")
	cmd.Flags().StringVar(&toVersion, "to-version", "", "Explicit version to roll back to (default: immediate predecessor)")
	cmd.Flags().BoolVar(&yes, "yes", false, "Skip the rollback confirmation prompt (logged)")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Fail instead of prompting; requires --yes")
	return cmd
}

func recordRollbackRun(cmd *cobra.Command, store *audit.Store, env string, res rollback.Result, started time.Time, runErr error) {
	outcome := "succeeded"
	detail := ""
	if runErr != nil {
		outcome = "failed"
		detail = runErr.Error()
	} else {
		for _, t := range res.Targets {
			if t.Applied && !t.Verified {
				outcome = "unverified"
				detail = fmt.Sprintf("%s rolled back %s -> %s but health checks did not pass", t.Kind, t.From, t.To)
			}
		}
	}
	if _, err := store.RecordRun(context.WithoutCancel(cmd.Context()), audit.RunRecord{
		Environment: env,
		Command:     "rollback",
		Outcome:     outcome,
		Detail:      detail,
		StartedAt:   started,
	}); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: audit record failed: %v\n", err)
	}
}

func printRollbackSummary(cmd *cobra.Command, res rollback.Result) {
	out := cmd.OutOrStdout()
	for _, t := range res.Targets {
		switch {
		case t.Err != nil:
			fmt.Fprintf(out, "  %s %s: %v\n", color.RedString("✗"), t.Kind, t.Err)
		case t.Applied && t.Verified:
			fmt.Fprintf(out, "  %s %s: %s -> %s (snapshot %s)\n", color.GreenString("✓"), t.Kind, t.From, t.To, t.SnapshotID)
		case t.Applied:
			fmt.Fprintf(out, "  %s %s: switched %s -> %s but health checks failed; inspect with 'opsctl monitor' and either fix forward or run 'opsctl rollback --target %s --to-version %s'\n",
				color.YellowString("!"), t.Kind, t.From, t.To, t.Kind, t.From)
		}
		if t.InvalidationID != "" {
			fmt.Fprintf(out, "    cache invalidation %s submitted\n", t.InvalidationID)
		}
	}
}

// printFinalVersions reports where each touched resource kind ended up,
// straight from the run's version records.
func printFinalVersions(cmd *cobra.Command, reg *registry.Registry) {
	out := cmd.OutOrStdout()
	for _, kind := range []registry.ResourceKind{registry.Function, registry.StaticAssetSet} {
		if rec, ok := reg.VersionRecordFor(kind); ok {
			fmt.Fprintf(out, "  %s now at %s\n", kind, rec.Current)
		}
	}
}
