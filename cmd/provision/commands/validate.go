package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/provisioner/pkg/config"
)

func newValidateCommand() *cobra.Command {
	var specFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a spec without contacting any server",
		Long: `Validate a spec and show what apply would try to reconcile.

This command checks:
  - YAML syntax and unknown keys
  - Required fields and URL formats
  - Cross references between plugins, compute resources and users

Each plugin is printed with the search key, compute resources and owner
it expands to.`,
		Example: `  # Validate the default spec
  provision validate

  # Validate a spec from standard input, as JSON
  provision validate -f - --json < provision.yml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, err := readSpec(specFile)
			if err != nil {
				return err
			}
			expanded, err := spec.Expand()
			if err != nil {
				return err
			}

			log.Info().
				Str("file", specFile).
				Int("plugins", len(expanded.Plugins)).
				Int("compute_resources", len(expanded.ComputeResources)).
				Msg("Spec is valid")

			return printPlan(cmd.OutOrStdout(), expanded)
		},
	}

	cmd.Flags().StringVarP(&specFile, "file", "f", "provision.yml", `spec file, or "-" for standard input`)

	return cmd
}

// plannedPlugin is the printable form of an expanded plugin entry.
type plannedPlugin struct {
	Plugin           string   `json:"plugin"`
	ComputeResources []string `json:"compute_resources"`
	Owner            string   `json:"owner,omitempty"`
}

func printPlan(w io.Writer, e *config.Expanded) error {
	plugins := make([]plannedPlugin, len(e.Plugins))
	for i, p := range e.Plugins {
		plugins[i] = plannedPlugin{Plugin: p.Key.String(), ComputeResources: p.ComputeResources, Owner: p.Owner}
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(plugins)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLUGIN\tCOMPUTE RESOURCES\tOWNER")
	for _, p := range plugins {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Plugin, strings.Join(p.ComputeResources, ","), p.Owner)
	}
	return tw.Flush()
}
