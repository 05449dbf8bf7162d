package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/shortload/internal/stub"
)

func newStubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Serve an in-memory URL shortener for local runs",
		Long: `Serve an in-memory URL shortener that answers POST /create and GET /{key}.
Latency and server errors can be injected to exercise thresholds.

  shortload stub --addr :8080 --latency 5ms --error-rate 0.01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return startupError("%v", err)
			}

			logger, err := newLogger(v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			rate := v.GetFloat64("error-rate")
			if rate < 0 || rate > 1 {
				return startupError("--error-rate must be between 0 and 1, got %g", rate)
			}

			srv := stub.New(stub.Config{
				BaseURL:   v.GetString("base-url"),
				Latency:   v.GetDuration("latency"),
				ErrorRate: rate,
				Redirect:  v.GetBool("redirect"),
				Seed:      v.GetUint64("seed"),
			}, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := srv.ListenAndServe(ctx, v.GetString("addr")); err != nil {
				return startupError("stub server failed: %v", err)
			}
			logger.Info("stub stopped", zap.Int("keys", srv.Len()))
			return nil
		},
	}

	f := cmd.Flags()
	f.String("addr", ":8080", "Listen address")
	f.String("base-url", "", "Prefix for returned short URLs (default: request host)")
	f.Duration("latency", 0, "Latency added to every request")
	f.Float64("error-rate", 0, "Fraction of requests answered with 500")
	f.Bool("redirect", false, "Answer known keys with 301 instead of 200")
	f.Uint64("seed", 0, "Seed for error injection")
	return cmd
}
