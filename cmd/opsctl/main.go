// File: cmd/opsctl/main.go
// Brief: Entry point, root command, viper binding, and error rendering.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/userhub/opsctl/internal/config"
	"github.com/userhub/opsctl/internal/controlplane"
	"github.com/userhub/opsctl/internal/deployer"
	"github.com/userhub/opsctl/internal/rollback"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)
	os.Exit(exitCodeFor(err))
}

func newRootCommand() *cobra.Command {
	logLevel := "info"
	var configPath string
	cmd := &cobra.Command{
		Use:           "opsctl",
		Short:         "Deployment, rollback, and health monitoring for the userhub platform",
		Long:          "opsctl orchestrates ordered stack deployments, version rollbacks, and health monitoring for one environment at a time.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", logLevel, "Log level for opsctl output (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the environment configuration document (default deploy/environments/<environment>.yaml)")

	deployCmd := newDeployCommand(&logLevel, &configPath)
	rollbackCmd := newRollbackCommand(&logLevel, &configPath)
	monitorCmd := newMonitorCommand(&logLevel, &configPath)
	cmd.AddCommand(deployCmd, rollbackCmd, monitorCmd, newVersionCommand())

	cmd.Example = `  # Deploy the staging environment in plan order
  opsctl deploy staging

  # Roll the production function back one version, no prompt
  opsctl rollback production --target function --yes

  # Watch production for 30 minutes, alerting after 3 consecutive failures
  opsctl monitor production --duration 30 --interval 15 --alert-threshold 3`

	bindViper(cmd, deployCmd, rollbackCmd, monitorCmd)
	return cmd
}

func bindViper(commands ...*cobra.Command) {
	if len(commands) == 0 {
		return
	}
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("OPSCTL")
	v.AutomaticEnv()
	configFile := os.Getenv("OPSCTL_CONFIG")
	configureConfigFile(v, configFile)

	cobra.OnInitialize(func() {
		for _, cmd := range commands {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				cobra.CheckErr(err)
			}
			if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
				cobra.CheckErr(err)
			}
		}
		if err := readConfigFile(v, configFile != ""); err != nil {
			cobra.CheckErr(err)
		}
		for _, cmd := range commands {
			for _, fs := range []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()} {
				fs.VisitAll(func(f *pflag.Flag) {
					if f.Changed {
						return
					}
					if !v.IsSet(f.Name) {
						return
					}
					val := fmt.Sprintf("%v", v.Get(f.Name))
					if val != "" {
						_ = f.Value.Set(val)
					}
				})
			}
		}
	})
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("config")
	for _, dir := range configSearchDirs() {
		v.AddConfigPath(dir)
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func configSearchDirs() []string {
	added := make(map[string]struct{})
	var dirs []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := added[path]; ok {
			return
		}
		added[path] = struct{}{}
		dirs = append(dirs, path)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		add(filepath.Join(xdg, "opsctl"))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		add(filepath.Join(home, ".config", "opsctl"))
		add(filepath.Join(home, ".opsctl"))
	}
	return dirs
}

func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	message := err.Error()
	var deployErr *deployer.DeployError
	switch {
	case controlplane.IsPermissionDenied(err):
		message = fmt.Sprintf("%s\nHint: control-plane credentials were rejected. Check the AWS credential environment variables and region for this environment.", err)
	case errors.As(err, &deployErr):
		message = fmt.Sprintf("%s\nHint: later stacks were not attempted. Fix the failure and rerun 'opsctl deploy', or run 'opsctl rollback <environment> --target both' if the environment is degraded.", err)
	case errors.Is(err, rollback.ErrNoPriorVersion):
		message = fmt.Sprintf("%s\nHint: there is no older version in history. Use 'opsctl monitor <environment> --list-versions' to inspect what is available.", err)
	case errors.Is(err, context.Canceled):
		message = fmt.Sprintf("%s\nHint: the run was interrupted; in-flight stack operations continue on the provider side. Rerun 'opsctl deploy' to resume.", err)
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}

// loadEnvironment resolves and loads the environment document named on the
// command line, defaulting to the conventional per-environment path.
func loadEnvironment(envName, configPath string) (*config.Environment, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath(envName)
	}
	env, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if env.Name != envName {
		return nil, fmt.Errorf("environment document %s is for %q, not %q", path, env.Name, envName)
	}
	return env, nil
}
