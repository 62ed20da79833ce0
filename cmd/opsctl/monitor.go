// File: cmd/opsctl/monitor.go
// Brief: Health monitoring loop plus one-shot status and version listing.

package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/userhub/opsctl/internal/audit"
	"github.com/userhub/opsctl/internal/config"
	"github.com/userhub/opsctl/internal/controlplane"
	"github.com/userhub/opsctl/internal/controlplane/awscp"
	"github.com/userhub/opsctl/internal/logging"
	"github.com/userhub/opsctl/internal/monitor"
	"github.com/userhub/opsctl/internal/probe"
	"github.com/userhub/opsctl/internal/registry"
	"go.uber.org/zap"
)

func newMonitorCommand(logLevel *string, configPath *string) *cobra.Command {
	var (
		durationMin  int
		intervalSec  int
		threshold    int
		continuous   bool
		statusOnly   bool
		listVersions bool
	)
	cmd := &cobra.Command{
		Use:   "monitor <environment>",
		Short: "Probe environment health on an interval and alert on failure streaks",
		Long: `Monitor probes the API and frontend endpoints once per interval, raising
one alert per unbroken failure streak once the threshold is reached, and
prints a summary report when the session ends. Interrupting the session
stops it at the next tick boundary; the report still covers the ticks that
ran.`,
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
			clients, err := awscp.Load(ctx, env.Region)
			if err != nil {
				return err
			}

			if listVersions {
				return printVersionHistory(cmd, env, clients)
			}
			if statusOnly {
				return printStatus(cmd, env, clients)
			}

			var metrics controlplane.MetricsReader
			if env.Function.Name != "" {
				metrics = awscp.NewMetrics(clients.CloudWatch, env.Function.Name)
			}
			loop := monitor.New(probe.NewHTTPProber(), metrics, nil, nil, log)
			opts := monitor.Options{
				Duration:       time.Duration(durationMin) * time.Minute,
				Interval:       time.Duration(intervalSec) * time.Second,
				AlertThreshold: threshold,
				Continuous:     continuous,
			}
			log.Info("starting monitoring session",
				zap.String("environment", env.Name),
				zap.Duration("interval", opts.Interval),
				zap.Bool("continuous", opts.Continuous))
			report, err := loop.Monitor(ctx, env, opts)
			if report != nil {
				report.Render(cmd.OutOrStdout())
			}
			return err
		},
	}
	cmd.Flags().IntVar(&durationMin, "duration", 60, "Session length in minutes (ignored with --continuous)")
	cmd.Flags().IntVar(&intervalSec, "interval", 30, "Seconds between probe rounds")
	cmd.Flags().IntVar(&threshold, "alert-threshold", 3, "Consecutive failed rounds before an alert is raised")
	cmd.Flags().BoolVar(&continuous, "continuous", false, "Run until interrupted instead of for a fixed duration")
	cmd.Flags().BoolVar(&statusOnly, "status", false, "Print current stack, version, and endpoint status once and exit")
	cmd.Flags().BoolVar(&listVersions, "list-versions", false, "Print version history for the function and frontend and exit")
	return cmd
}

// printStatus is the one-shot overview: every plan stack's status, the live
// function and asset versions, and a single probe of each endpoint.
func printStatus(cmd *cobra.Command, env *config.Environment, clients *awscp.Clients) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	bold := color.New(color.Bold)

	stacks := awscp.NewStacks(clients.CFN)
	reg := registry.New()
	plan := env.EffectivePlan()
	if err := reg.Hydrate(ctx, stacks, plan); err != nil {
		return err
	}
	bold.Fprintf(out, "Environment %s\n\nStacks\n", env.Name)
	for _, spec := range plan {
		st, ok := reg.Stack(spec.Name)
		if !ok {
			continue
		}
		fmt.Fprintf(out, "  %-30s %s\n", st.Name, colorStatus(st.Status))
	}

	bold.Fprintln(out, "\nVersions")
	functions := awscp.NewFunctions(clients.Lambda)
	if current, err := functions.AliasTarget(ctx, env.Function.Name, env.Function.Alias); err != nil {
		fmt.Fprintf(out, "  function: %v\n", err)
	} else {
		fmt.Fprintf(out, "  function %s@%s -> %s\n", env.Function.Name, env.Function.Alias, current)
	}
	assets := awscp.NewAssets(clients.S3, clients.CloudFront, env.Assets.Bucket, env.Assets.Distribution)
	if current, err := assets.Current(ctx); err != nil {
		fmt.Fprintf(out, "  frontend: %v\n", err)
	} else {
		fmt.Fprintf(out, "  frontend -> %s\n", current)
	}

	bold.Fprintln(out, "\nEndpoints")
	prober := probe.NewHTTPProber()
	for _, pair := range []struct {
		kind probe.EndpointKind
		url  string
	}{{probe.API, env.APIEndpoint}, {probe.Frontend, env.FrontendEndpoint}} {
		res := prober.Probe(ctx, pair.kind, pair.url, 10*time.Second)
		mark := color.GreenString("✓")
		detail := fmt.Sprintf("%d in %s", res.StatusCode, res.Latency.Round(time.Millisecond))
		if !res.Success {
			mark = color.RedString("✗")
			detail = res.Detail
		}
		fmt.Fprintf(out, "  %s %-10s %s (%s)\n", mark, pair.kind, pair.url, detail)
	}

	printRecentRuns(cmd, env.Name)
	return nil
}

// printRecentRuns appends the local audit tail. Absence of an audit store is
// not an error; this host may simply never have deployed the environment.
func printRecentRuns(cmd *cobra.Command, envName string) {
	out := cmd.OutOrStdout()
	store, err := audit.Open(audit.DefaultPath("."))
	if err != nil {
		return
	}
	defer store.Close()
	runs, err := store.RecentRuns(cmd.Context(), envName, 5)
	if err != nil || len(runs) == 0 {
		return
	}
	color.New(color.Bold).Fprintln(out, "\nRecent runs (this host)")
	for _, r := range runs {
		line := fmt.Sprintf("  %s %-8s %-10s", r.FinishedAt.Format(time.RFC3339), r.Command, r.Outcome)
		if r.Detail != "" {
			line += " " + r.Detail
		}
		fmt.Fprintln(out, line)
	}
}

func printVersionHistory(cmd *cobra.Command, env *config.Environment, clients *awscp.Clients) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	bold := color.New(color.Bold)

	functions := awscp.NewFunctions(clients.Lambda)
	versions, err := functions.Versions(ctx, env.Function.Name)
	if err != nil {
		return err
	}
	current, err := functions.AliasTarget(ctx, env.Function.Name, env.Function.Alias)
	if err != nil {
		return err
	}
	bold.Fprintf(out, "Function %s (alias %s)\n", env.Function.Name, env.Function.Alias)
	for _, v := range versions {
		marker := " "
		if v.ID == current {
			marker = color.GreenString("*")
		}
		fmt.Fprintf(out, "  %s %-8s %s  %s\n", marker, v.ID, v.Modified.Format(time.RFC3339), v.Description)
	}

	assets := awscp.NewAssets(clients.S3, clients.CloudFront, env.Assets.Bucket, env.Assets.Distribution)
	assetVersions, err := assets.Versions(ctx)
	if err != nil {
		return err
	}
	liveAssets, err := assets.Current(ctx)
	if err != nil {
		return err
	}
	bold.Fprintf(out, "\nFrontend assets (%s)\n", env.Assets.Bucket)
	for _, v := range assetVersions {
		marker := " "
		if v.ID == liveAssets {
			marker = color.GreenString("*")
		}
		fmt.Fprintf(out, "  %s %s\n", marker, v.ID)
	}

	printRecentSnapshots(cmd)
	return nil
}

func printRecentSnapshots(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	store, err := audit.Open(audit.DefaultPath("."))
	if err != nil {
		return
	}
	defer store.Close()
	var all []audit.SnapshotRecord
	for _, kind := range []string{string(registry.Function), string(registry.StaticAssetSet)} {
		snaps, err := store.Snapshots(cmd.Context(), kind, 5)
		if err != nil {
			return
		}
		all = append(all, snaps...)
	}
	if len(all) == 0 {
		return
	}
	color.New(color.Bold).Fprintln(out, "\nRollback snapshots (this host)")
	for _, s := range all {
		fmt.Fprintf(out, "  %s %-10s %-10s %s\n", s.TakenAt.Format(time.RFC3339), s.Kind, s.Version, s.Location)
	}
}

func colorStatus(s controlplane.StackStatus) string {
	switch s {
	case controlplane.StackAvailable:
		return color.GreenString(string(s))
	case controlplane.StackFailed, controlplane.StackRollingBack:
		return color.RedString(string(s))
	case controlplane.StackAbsent:
		return color.HiBlackString(string(s))
	default:
		return color.YellowString(string(s))
	}
}
