package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/shortload/internal/loadtest/config"
	"github.com/wesleyorama2/shortload/internal/loadtest/engine"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a run configuration without sending traffic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return startupError("%v", err)
			}

			out := cmd.OutOrStdout()
			if v.GetBool("schema") {
				fmt.Fprintln(out, config.Schema())
				return nil
			}

			cfg, err := loadRunConfig(v)
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				printValidationErrors(cmd.ErrOrStderr(), err)
				return &ExitError{Code: engine.ExitError}
			}

			printConfigSummary(out, cfg)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringP("config", "c", "", "Configuration file (YAML or JSON)")
	f.String("base-url", "", "Base URL of the service under test")
	f.String("stages", "", "Stages in format 'duration:target,duration:target,...'")
	f.Float64("gate", 0, "Probability that an iteration creates instead of resolves")
	f.String("pacing", "", "Constant pause between iterations")
	f.Uint64("seed", 0, "Seed for reproducible inputs")
	f.Int("min-samples", 0, "Outcomes required for a PASS or FAIL verdict")
	f.String("graceful-stop", "", "Time in-flight iterations get to finish")
	f.Bool("schema", false, "Print the configuration JSON schema and exit")
	return cmd
}

func printValidationErrors(w io.Writer, err error) {
	var verrs *config.ValidationErrors
	if !errors.As(err, &verrs) {
		fmt.Fprintln(w, "Error:", err)
		return
	}
	fmt.Fprintf(w, "Configuration has %d error(s):\n", len(verrs.Errors))
	for _, e := range verrs.Errors {
		fmt.Fprintf(w, "  - %s: %s\n", e.Field, e.Message)
	}
}

func printConfigSummary(w io.Writer, cfg *config.TestConfig) {
	fmt.Fprintf(w, "Configuration is valid: %s\n", cfg.Name)
	fmt.Fprintf(w, "  Target:    %s\n", cfg.Settings.BaseURL)
	fmt.Fprintf(w, "  Duration:  %s (%d stages, up to %d VUs)\n", cfg.TotalDuration(), len(cfg.Stages), maxTarget(cfg.Stages))
	if g := cfg.Mix.Gate; g != nil {
		fmt.Fprintf(w, "  Mix:       %s with probability %g, else %s\n", g.Primary, g.Probability, g.Fallback)
	} else {
		for _, wc := range cfg.Mix.Weights {
			fmt.Fprintf(w, "  Mix:       %s weight %g\n", wc.Action, wc.Weight)
		}
	}

	metrics := make([]string, 0, len(cfg.Thresholds))
	for m := range cfg.Thresholds {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)
	for _, m := range metrics {
		for _, expr := range cfg.Thresholds[m] {
			fmt.Fprintf(w, "  Threshold: %s: %s\n", m, expr)
		}
	}
}
