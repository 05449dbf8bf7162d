// Package cli implements the shortload command tree.
package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wesleyorama2/shortload/internal/loadtest/engine"
	"github.com/wesleyorama2/shortload/internal/logging"
)

var version = "0.1.0"

// EnvPrefix prefixes environment overrides, e.g. SHORTLOAD_BASE_URL.
const EnvPrefix = "SHORTLOAD"

// ExitError carries a process exit code out of a command. A nil Err means
// the command already reported to the user.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func startupError(format string, args ...any) error {
	return &ExitError{Code: engine.ExitError, Err: fmt.Errorf(format, args...)}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "shortload",
		Short:   "Load generator for URL-shortening services",
		Version: version,
		Long: `shortload drives a scripted ramp of virtual users against a URL shortener.
Each iteration either creates a short link or resolves a random key, and the
run ends with a PASS, FAIL or INCONCLUSIVE verdict against latency and error
thresholds.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "console", "Log format: console or json")

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newStubCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the command tree with args and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return engine.ExitPass
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(stderr, "Error:", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return engine.ExitError
}

// newViper binds a command's flags and SHORTLOAD_* environment variables.
// A key is set when its flag was given or its variable is present.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	var bindErr error
	bind := func(fs *pflag.FlagSet) {
		fs.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
	}
	bind(cmd.Flags())
	bind(cmd.InheritedFlags())
	if bindErr != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
	}
	return v, nil
}

func newLogger(v *viper.Viper, w io.Writer) (*zap.Logger, error) {
	logger, err := logging.New(logging.Options{
		Level:  v.GetString("log-level"),
		Format: logging.Format(v.GetString("log-format")),
		Output: w,
	})
	if err != nil {
		return nil, startupError("%v", err)
	}
	return logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "shortload version %s\n", version)
		},
	}
}
