package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gridkit/grid/internal/logger"
	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every verb.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

// buildRoot assembles the CLI: one verb per lifecycle operation plus the
// resident daemon.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	targetFlags := &TargetFlags{}
	bootstrapFlags := &BootstrapFlags{}

	gridCommand := command{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createInstallCommand(gridCommand, globalFlags, targetFlags),
		createStartCommand(gridCommand, globalFlags, targetFlags),
		createStopCommand(gridCommand, globalFlags, targetFlags),
		createStatusCommand(gridCommand, globalFlags, targetFlags),
		createBootstrapCommand(gridCommand, globalFlags, bootstrapFlags),
		createServeCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "grid",
		Short: "Declarative supervisor for service grids",
		Long: `Grid installs, starts, stops and tracks a fixed roster of services
declared in a TOML file, keeping their state in a durable registry.

Examples:
  grid install all --config=grid.toml
  grid start zookeeper --config=grid.toml
  grid status --config=grid.toml
  grid serve grid.toml                              # Start daemon
  grid status --api-url=http://host:9670/api        # Remote status`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Setup(flags.LogLevel)
		},
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")

	return root
}

// createInstallCommand creates the install subcommand
func createInstallCommand(gridCommand command, globalFlags *GlobalFlags, targetFlags *TargetFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install <service|all>",
		Short: "Fetch and unpack service artifacts into the deploy area",
		Long: `Download, verify and extract the artifact of one service, or of every
service in the roster. Services without an install block are skipped.

Examples:
  grid install all --config=grid.toml
  grid install zookeeper --config=grid.toml
  grid install broker --api-url=http://host:9670/api`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetFlags.ConfigPath = globalFlags.ConfigPath
			targetFlags.Target = args[0]
			return gridCommand.Install(*targetFlags)
		},
	}

	addRemoteFlags(cmd, targetFlags)

	return cmd
}

// createStartCommand creates the start subcommand
func createStartCommand(gridCommand command, globalFlags *GlobalFlags, targetFlags *TargetFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <service|all>",
		Short: "Start one service or the whole roster",
		Long: `Start a service and wait until its readiness probe reports ready, or
start every installed service in priority order. A service that is
already running counts as success.

Examples:
  grid start all --config=grid.toml
  grid start zookeeper --config=grid.toml
  grid start broker --api-url=http://host:9670/api`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetFlags.ConfigPath = globalFlags.ConfigPath
			targetFlags.Target = args[0]
			return gridCommand.Start(*targetFlags)
		},
	}

	addRemoteFlags(cmd, targetFlags)

	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand(gridCommand command, globalFlags *GlobalFlags, targetFlags *TargetFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <service|all>",
		Short: "Stop one service or the whole roster",
		Long: `Stop a running service, escalating from TERM to KILL after its stop
timeout, or stop every service in reverse priority order. Stopping a
service that is not running reports not_running and succeeds.

Examples:
  grid stop all --config=grid.toml
  grid stop broker --config=grid.toml
  grid stop broker --api-url=http://host:9670/api`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetFlags.ConfigPath = globalFlags.ConfigPath
			targetFlags.Target = args[0]
			return gridCommand.Stop(*targetFlags)
		},
	}

	addRemoteFlags(cmd, targetFlags)

	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(gridCommand command, globalFlags *GlobalFlags, targetFlags *TargetFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [service]",
		Short: "Show the current state of services",
		Long: `Print the recorded state of one service or of the whole roster as
JSON. Liveness is re-checked against the OS first, so a process that
died out of band never shows as running.

Examples:
  grid status --config=grid.toml
  grid status zookeeper --config=grid.toml
  grid status --api-url=http://host:9670/api`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetFlags.ConfigPath = globalFlags.ConfigPath
			targetFlags.Target = targetAll
			if len(args) > 0 {
				targetFlags.Target = args[0]
			}
			return gridCommand.Status(*targetFlags)
		},
	}

	addRemoteFlags(cmd, targetFlags)

	return cmd
}

// createBootstrapCommand creates the bootstrap subcommand
func createBootstrapCommand(gridCommand command, globalFlags *GlobalFlags, bootstrapFlags *BootstrapFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Rebuild the whole grid from scratch",
		Long: `Stop every service, wipe the deploy area, then reinstall and restart
the full roster in priority order.

Examples:
  grid bootstrap --config=grid.toml
  grid bootstrap --api-url=http://host:9670/api`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bootstrapFlags.ConfigPath = globalFlags.ConfigPath
			return gridCommand.Bootstrap(*bootstrapFlags)
		},
	}

	// Remote daemon connection
	cmd.Flags().StringVar(&bootstrapFlags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:9670/api)")
	cmd.Flags().DurationVar(&bootstrapFlags.APITimeout, "api-timeout", 5*time.Minute, "request timeout")

	return cmd
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [grid.toml]",
		Short: "Run the grid daemon",
		Long: `Run the resident daemon: serve the control-plane API, reconcile the
registry against live processes on a timer and export Prometheus
metrics.

Examples:
  grid serve grid.toml
  grid serve --config=grid.toml --reconcile-interval=10s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServeCommand(serveFlags, args)
		},
	}

	cmd.Flags().DurationVar(&serveFlags.ReconcileInterval, "reconcile-interval", 30*time.Second, "how often to re-check recorded state against live processes")

	return cmd
}

// addRemoteFlags registers the remote daemon connection flags shared by
// the target verbs.
func addRemoteFlags(cmd *cobra.Command, targetFlags *TargetFlags) {
	cmd.Flags().StringVar(&targetFlags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:9670/api)")
	cmd.Flags().DurationVar(&targetFlags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
}
