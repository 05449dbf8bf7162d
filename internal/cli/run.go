package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wesleyorama2/shortload/internal/loadtest/config"
	"github.com/wesleyorama2/shortload/internal/loadtest/engine"
	"github.com/wesleyorama2/shortload/internal/loadtest/metrics"
	"github.com/wesleyorama2/shortload/internal/loadtest/output"
	"github.com/wesleyorama2/shortload/internal/tracing"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test",
		Long: `Run a load test from a configuration file, or the reference run when no
file is given. Flags and SHORTLOAD_* environment variables override file values.

Reference run:
  shortload run --base-url http://localhost:8080

Config file mode:
  shortload run --config run.yaml --out report.json

Quick ramp:
  shortload run --stages "30s:10,2m:10,30s:0" --gate 0.01 --pacing 50ms

Exit status is 0 for PASS, 1 for FAIL, 2 for INCONCLUSIVE and 3 when the run
could not start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return startupError("%v", err)
			}
			return runLoad(cmd, v)
		},
	}

	f := cmd.Flags()
	f.StringP("config", "c", "", "Configuration file (YAML or JSON)")
	f.String("base-url", "", "Base URL of the service under test")
	f.String("stages", "", "Stages in format 'duration:target,duration:target,...'")
	f.Float64("gate", 0, "Probability that an iteration creates instead of resolves")
	f.String("pacing", "", "Constant pause between iterations (e.g. 100ms)")
	f.Uint64("seed", 0, "Seed for reproducible inputs (0 picks a random seed)")
	f.Int("min-samples", 0, "Outcomes required for a PASS or FAIL verdict")
	f.String("graceful-stop", "", "Time in-flight iterations get to finish at the end of the run")
	f.StringP("out", "o", "", "Write the JSON report to this file ('-' for stdout)")
	f.String("html", "", "Write an HTML report to this file")
	f.BoolP("quiet", "q", false, "Disable live progress output, print only the verdict")
	f.Bool("no-color", false, "Disable colored output")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	f.String("otlp-endpoint", "", "OTLP gRPC endpoint for request traces (host:port)")
	f.Bool("otlp-insecure", false, "Disable TLS for the OTLP exporter")
	f.Bool("propagate", false, "Send traceparent headers even without an exporter")
	return cmd
}

func runLoad(cmd *cobra.Command, v *viper.Viper) error {
	stdout := cmd.OutOrStdout()
	stderr := cmd.ErrOrStderr()

	logger, err := newLogger(v, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadRunConfig(v)
	if err != nil {
		return startupError("%v", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, tracing.Config{
		Endpoint:  v.GetString("otlp-endpoint"),
		Insecure:  v.GetBool("otlp-insecure"),
		Propagate: v.GetBool("propagate"),
	})
	if err != nil {
		return startupError("failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	console := output.NewConsole(output.ConsoleConfig{
		Writer:  stdout,
		Quiet:   v.GetBool("quiet"),
		NoColor: v.GetBool("no-color"),
	})

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithTracing(tp),
		engine.WithProgress(console.Update, engine.DefaultProgressInterval),
	}

	if addr := v.GetString("metrics-addr"); addr != "" {
		collector := metrics.NewPromCollector()
		_, stopMetrics, err := serveMetrics(addr, collector.Handler(), logger)
		if err != nil {
			return startupError("failed to serve metrics: %v", err)
		}
		defer stopMetrics()
		opts = append(opts, engine.WithObserver(collector))
	}

	eng, err := engine.New(cfg, opts...)
	if err != nil {
		return &ExitError{Code: engine.ExitError, Err: err}
	}

	console.PrintHeader(cfg.Name, cfg.Settings.BaseURL, cfg.TotalDuration(), maxTarget(cfg.Stages))

	report, err := eng.Run(ctx)
	if report == nil {
		return startupError("%v", err)
	}
	if err != nil {
		logger.Error("run ended with an error", zap.Error(err))
	}

	console.PrintSummary(report)

	if out := v.GetString("out"); out != "" {
		if out == "-" {
			err = output.EncodeJSON(stdout, report)
		} else {
			err = output.WriteJSON(report, out)
		}
		if err != nil {
			return startupError("failed to write report: %v", err)
		}
	}

	if path := v.GetString("html"); path != "" {
		if err := output.WriteHTML(report, path); err != nil {
			return startupError("failed to write report: %v", err)
		}
	}

	if code := report.ExitCode(); code != engine.ExitPass {
		return &ExitError{Code: code}
	}
	return nil
}

// loadRunConfig reads the config file, or the reference run when none is
// given, and applies flag and environment overrides.
func loadRunConfig(v *viper.Viper) (*config.TestConfig, error) {
	var cfg *config.TestConfig
	if path := v.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if err := applyOverrides(cfg, v); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverrides copies set flags and environment variables over cfg.
func applyOverrides(cfg *config.TestConfig, v *viper.Viper) error {
	if v.IsSet("base-url") {
		cfg.Settings.BaseURL = v.GetString("base-url")
	}
	if v.IsSet("stages") {
		stages, err := config.ParseStages(v.GetString("stages"))
		if err != nil {
			return fmt.Errorf("invalid --stages: %w", err)
		}
		cfg.Stages = stages
	}
	if v.IsSet("gate") {
		// A gate replaces any weighted mix from the file.
		gate := cfg.Mix.Gate
		if gate == nil {
			gate = &config.GateConfig{}
		}
		gate.Probability = v.GetFloat64("gate")
		cfg.Mix = config.MixConfig{Gate: gate}
		config.ApplyDefaults(cfg)
	}
	if v.IsSet("pacing") {
		cfg.Pacing = &config.PacingConfig{Type: "constant", Duration: config.DurationString(v.GetString("pacing"))}
	}
	if v.IsSet("seed") {
		cfg.Settings.Seed = v.GetUint64("seed")
	}
	if v.IsSet("min-samples") {
		cfg.MinSamples = v.GetInt("min-samples")
	}
	if v.IsSet("graceful-stop") {
		cfg.GracefulStop = config.DurationString(v.GetString("graceful-stop"))
	}
	return nil
}

func maxTarget(stages []config.StageConfig) int {
	n := 0
	for _, s := range stages {
		n = max(n, s.Target)
	}
	return n
}

// serveMetrics exposes /metrics on addr until the returned func is called.
// It returns the bound address.
func serveMetrics(addr string, h http.Handler, logger *zap.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}

	r := chi.NewRouter()
	r.Handle("/metrics", h)
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return ln.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
