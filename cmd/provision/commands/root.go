package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/provisioner/pkg/config"
	"github.com/openfroyo/provisioner/pkg/telemetry"
)

var (
	// Global flags
	settingsPath string
	jsonOutput   bool

	// settings are loaded before any subcommand runs.
	settings *config.Settings
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "provision",
		Short: "Declarative provisioning of a ChRIS backend",
		Long: `provision brings a ChRIS control plane and its plugin registry to the
state described by a YAML spec.

It creates missing users and compute resources, then registers every
requested plugin on its compute resources. A plugin is taken from the
control plane if it is already known, otherwise from a public registry,
otherwise it is described by running its container image and uploaded to
the local registry. Running it again changes nothing.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			s, err := config.LoadSettings(settingsPath, cmd.Flags())
			if err != nil {
				return err
			}
			settings = s
			setupLogging(s.Log)
			return nil
		},
	}

	// Persistent flags available to all commands
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&settingsPath, "settings", "", "settings file path (yaml)")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.String("container", "docker", "container command line client")
	flags.String("trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	flags.BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

// setupLogging reconfigures the global logger from the loaded settings.
func setupLogging(s config.LogSettings) {
	zerolog.SetGlobalLevel(telemetry.ParseLevel(s.Level))
	if s.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:     os.Stderr,
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
	})
}
