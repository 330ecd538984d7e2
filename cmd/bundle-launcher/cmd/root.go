package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/bundle-launcher/internal/config"
	"github.com/oshokin/bundle-launcher/internal/domain/bootstrap"
	"github.com/oshokin/bundle-launcher/internal/logger"
	"github.com/oshokin/bundle-launcher/internal/service/launcher"
	"github.com/oshokin/bundle-launcher/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// overridePath to the operator override file.
	overridePath string
	// cacheRoot overrides the staging directory.
	cacheRoot string
	// logLevel overrides BUNDLE_LAUNCHER_LOG_LEVEL.
	logLevel string

	// rootCmd represents the base command for bootstrapping and supervising the bundle.
	rootCmd = &cobra.Command{
		Use:   "bundle-launcher",
		Short: "Download, configure and supervise an application bundle.",
		Long: `Resolves the repository of the application bundle, downloads its branch archive
into a fresh cache root, overlays the operator override file onto the bundle
configuration, installs dependencies and runs the entry point, restarting it
after crashes.

SIGINT and SIGTERM are forwarded to the running application; the launcher
then exits with status 0. Download, extraction and entry point failures exit
with a nonzero status.

Settings are read from ` + config.DefaultConfigFilename + ` when present; built-in defaults apply otherwise.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return logger.Configure(logLevel)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Signals are registered once for the whole process; the launcher
			// hands the channel from the bootstrap stages to the supervisor.
			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)

			defer signal.Stop(signals)

			options := &launcher.Options{
				ConfigPath:   configPath,
				OverridePath: overridePath,
				CacheRoot:    cacheRoot,
				Signals:      signals,
				Progress:     cmd.ErrOrStderr(),
			}

			return launcher.Run(context.Background(), options)
		},
	}
)

// Execute runs the bundle-launcher CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	err := rootCmd.Execute()

	logger.Sync()

	if err != nil {
		logger.ErrorKV(context.Background(), failureMessage(err), "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

// failureMessage describes which part of the run an error ended.
func failureMessage(err error) string {
	switch {
	case bootstrap.IsHardFailure(err):
		return "Bootstrap failed, application was not started"
	case errors.Is(err, bootstrap.ErrProcess):
		return "Application supervision failed"
	case errors.Is(err, bootstrap.ErrConfig):
		return "Launcher settings are invalid"
	default:
		return "Launcher failed"
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", "", "path to configuration file (default "+config.DefaultConfigFilename+")")
	rootCmd.PersistentFlags().
		StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default $"+logger.LevelEnvVariable+" or info)")
	rootCmd.Flags().StringVar(&overridePath, "override", "", "path to the operator override file")
	rootCmd.Flags().StringVar(&cacheRoot, "cache-root", "", "staging directory wiped on every run")

	rootCmd.AddCommand(statusCmd, haltCmd, packCmd)
}
