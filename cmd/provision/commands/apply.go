package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/provisioner/pkg/agenda"
	"github.com/openfroyo/provisioner/pkg/backend/container"
	"github.com/openfroyo/provisioner/pkg/backend/rest"
	"github.com/openfroyo/provisioner/pkg/config"
	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/openfroyo/provisioner/pkg/reconcile"
	"github.com/openfroyo/provisioner/pkg/telemetry"
)

func newApplyCommand() *cobra.Command {
	var (
		specFile string
		watch    bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Bring the backend to the state of a spec",
		Long: `Apply a spec to the control plane and registry it names.

This command:
  - Waits for the control plane and registry to be up
  - Logs in as the administrator
  - Creates missing compute resources and users
  - Registers every plugin on its compute resources, searching public
    registries and falling back to describing the plugin's image

Every task ends with one of "no change", "changed" or "failed". The exit
status is non-zero if any task failed.`,
		Example: `  # Apply a spec
  provision apply -f provision.yml

  # Read the spec from standard input
  cat provision.yml | provision apply -f -

  # Reapply whenever the spec changes, exposing metrics
  provision apply -f provision.yml --watch --metrics-listen :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if watch && specFile == "-" {
				return errors.New("--watch needs a spec file, not standard input")
			}

			tel, err := telemetry.NewTelemetry(telemetryConfig(settings, cmd.Root().Version))
			if err != nil {
				return fmt.Errorf("failed to set up telemetry: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tel.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Failed to flush traces")
				}
			}()

			ctx := tel.WithContext(cmd.Context())
			logger := tel.Logger.Zerolog()

			if server := tel.Metrics.StartMetricsServer(logger); server != nil {
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()
			}

			a := newApplier(ctx, tel, cmd.OutOrStdout())
			defer a.client.Close()

			err = a.apply(ctx, specFile)
			if !watch {
				return err
			}
			if err != nil {
				log.Error().Err(err).Msg("Apply failed")
			}
			return a.watch(ctx, specFile, logger)
		},
	}

	cmd.Flags().StringVarP(&specFile, "file", "f", "provision.yml", `spec file, or "-" for standard input`)
	cmd.Flags().BoolVar(&watch, "watch", false, "reapply whenever the spec file changes")
	cmd.Flags().String("metrics-listen", "", "serve Prometheus metrics on this address")

	return cmd
}

// applier holds what is shared between the runs of one apply command.
type applier struct {
	tel      *telemetry.Telemetry
	observer *telemetry.Observer
	client   *rest.Client
	runtime  *container.CLI
	out      io.Writer
	retried  func(op string)
}

func newApplier(ctx context.Context, tel *telemetry.Telemetry, out io.Writer) *applier {
	logger := tel.Logger.Zerolog()
	obs := tel.Observer()

	a := &applier{
		tel:      tel,
		observer: obs,
		client: rest.New(rest.Options{
			Timeout:   settings.HTTP.Timeout,
			RateLimit: settings.HTTP.RateLimit,
			Burst:     settings.HTTP.Burst,
			Logger:    logger,
		}),
		out:     out,
		retried: obs.Retried(ctx),
	}

	runtime := container.New(settings.Container.Binary, logger)
	if runtime.Available() {
		a.runtime = runtime
	} else {
		logger.Warn().
			Str("binary", settings.Container.Binary).
			Msg("Container runtime not found, plugins cannot be described from their images")
	}
	return a
}

// apply runs the agenda once. It fails if the spec is invalid, the agenda
// was aborted or any task failed.
func (a *applier) apply(ctx context.Context, specFile string) error {
	spec, err := readSpec(specFile)
	if err != nil {
		return err
	}
	expanded, err := spec.Expand()
	if err != nil {
		return err
	}

	ag := &agenda.Agenda{
		Spec:     expanded,
		Accounts: a.client,
		Retry: reconcile.RetrySettings{
			WaitMin:     settings.Retry.WaitMin,
			WaitMax:     settings.Retry.WaitMax,
			MaxAttempts: settings.Retry.MaxAttempts,
			OnRetry:     a.retried,
		},
		WaitTimeout:  settings.WaitUp.Timeout,
		WaitInterval: settings.WaitUp.Interval,
		Table:        engine.TableConfig{PollInterval: settings.Runner.PollInterval},
		Out:          a.out,
		Observer:     a.observer,
		Tracer:       a.tel.Tracer,
		Logger:       a.tel.Logger.Zerolog(),
	}
	// a nil *container.CLI must not become a non-nil interface
	if a.runtime != nil {
		ag.Runtime = a.runtime
	}

	summary, runErr := ag.Run(ctx)
	if err := printSummary(a.out, summary); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if summary.Failed() > 0 {
		return fmt.Errorf("%d of %d tasks failed", summary.Failed(), summary.Total())
	}
	return nil
}

// watch reapplies the spec on every change until ctx is done.
func (a *applier) watch(ctx context.Context, specFile string, logger zerolog.Logger) error {
	trigger := make(chan struct{}, 1)
	w := config.NewWatcher(specFile, logger)
	if err := w.Watch(ctx, func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}); err != nil {
		return err
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopped watching")
			return nil
		case <-trigger:
			log.Info().Str("file", specFile).Msg("Spec changed, reapplying")
			if err := a.apply(ctx, specFile); err != nil {
				log.Error().Err(err).Msg("Apply failed")
			}
		}
	}
}

func readSpec(path string) (*config.Spec, error) {
	if path != "-" {
		return config.Load(path)
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec from standard input: %w", err)
	}
	return config.Parse(data)
}

func printSummary(w io.Writer, summary *agenda.Summary) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	_, err := fmt.Fprintf(w, "Summary: %s\n", summary)
	return err
}

func telemetryConfig(s *config.Settings, version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = s.Log.Level
	cfg.Logging.Format = s.Log.Format
	cfg.Tracing.Exporter = s.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Tracing.SamplingRate = s.Tracing.SampleRate
	cfg.Metrics.ListenAddress = s.Metrics.Listen
	return cfg
}
