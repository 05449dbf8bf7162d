package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wesleyorama2/shortload/internal/loadtest/config"
	"github.com/wesleyorama2/shortload/internal/loadtest/engine"
	"github.com/wesleyorama2/shortload/internal/loadtest/metrics"
	"github.com/wesleyorama2/shortload/internal/stub"
)

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func stubURL(t *testing.T, cfg stub.Config) string {
	t.Helper()
	ts := httptest.NewServer(stub.New(cfg, nil).Routes())
	t.Cleanup(ts.Close)
	return ts.URL
}

func quickRun(baseURL string, extra ...string) []string {
	args := []string{
		"run", "--quiet", "--log-level", "error",
		"--base-url", baseURL,
		"--stages", "300ms:2,300ms:2",
		"--gate", "0.3",
		"--pacing", "5ms",
		"--graceful-stop", "1s",
		"--seed", "11",
	}
	return append(args, extra...)
}

func TestVersion(t *testing.T) {
	code, out, _ := execute(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "shortload version "+version)
}

func TestRun_PassExitsZero(t *testing.T) {
	code, out, stderr := execute(t, quickRun(stubURL(t, stub.Config{}))...)
	assert.Equal(t, engine.ExitPass, code, stderr)
	assert.Equal(t, "PASS\n", out)
}

func TestRun_FailExitsOne(t *testing.T) {
	code, out, _ := execute(t, quickRun(stubURL(t, stub.Config{ErrorRate: 1, Seed: 3}))...)
	assert.Equal(t, engine.ExitFail, code)
	assert.Contains(t, out, "FAIL: breached errors: rate < 0.1")
}

func TestRun_InconclusiveExitsTwo(t *testing.T) {
	code, out, _ := execute(t, quickRun(stubURL(t, stub.Config{}), "--min-samples", "1000000")...)
	assert.Equal(t, engine.ExitInconclusive, code)
	assert.Contains(t, out, "INCONCLUSIVE")
}

func TestRun_WritesJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	code, _, stderr := execute(t, quickRun(stubURL(t, stub.Config{}), "--out", path)...)
	require.Equal(t, engine.ExitPass, code, stderr)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var report engine.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "PASS", string(report.Verdict))
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, uint64(11), report.Seed)
	assert.Positive(t, report.Iterations)
}

func TestRun_ConfigErrorsExitThree(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad stages", []string{"run", "--stages", "1m-50"}, "invalid --stages"},
		{"gate out of range", []string{"run", "--gate", "1.5"}, "mix.gate.probability"},
		{"gate not a number", []string{"run", "--gate", "NaN"}, "mix.gate.probability"},
		{"relative base url", []string{"run", "--base-url", "localhost"}, "settings.baseUrl"},
		{"missing file", []string{"run", "--config", "does-not-exist.yaml"}, "error loading config"},
		{"bad log level", []string{"run", "--log-level", "loud"}, "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := execute(t, tt.args...)
			assert.Equal(t, engine.ExitError, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestRun_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SHORTLOAD_BASE_URL", stubURL(t, stub.Config{}))
	t.Setenv("SHORTLOAD_STAGES", "300ms:2,300ms:2")
	t.Setenv("SHORTLOAD_PACING", "5ms")
	t.Setenv("SHORTLOAD_GRACEFUL_STOP", "1s")

	code, out, stderr := execute(t, "run", "--quiet", "--log-level", "error")
	assert.Equal(t, engine.ExitPass, code, stderr)
	assert.Equal(t, "PASS\n", out)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidate(t *testing.T) {
	valid := writeFile(t, "run.yaml", `
name: smoke
settings:
  baseUrl: http://localhost:9000
stages:
  - duration: 30s
    target: 5
`)
	invalid := writeFile(t, "bad.yaml", `
stages:
  - duration: 30s
    target: 5
mix:
  gate:
    probability: 0.5
    primary: delete
`)
	unknownKey := writeFile(t, "typo.yaml", `
stages:
  - duration: 30s
    target: 5
stagez: []
`)

	t.Run("valid file", func(t *testing.T) {
		code, out, _ := execute(t, "validate", "--config", valid)
		assert.Equal(t, 0, code)
		assert.Contains(t, out, "Configuration is valid: smoke")
		assert.Contains(t, out, "http://localhost:9000")
		assert.Contains(t, out, "Threshold: errors: rate < 0.1")
		assert.Contains(t, out, "Threshold: http_req_duration: p95 < 500ms")
	})

	t.Run("reference run", func(t *testing.T) {
		code, out, _ := execute(t, "validate")
		assert.Equal(t, 0, code)
		assert.Contains(t, out, "5m0s (3 stages, up to 50 VUs)")
		assert.Contains(t, out, "create with probability 0.005, else resolve")
	})

	t.Run("semantic errors", func(t *testing.T) {
		code, _, stderr := execute(t, "validate", "--config", invalid)
		assert.Equal(t, engine.ExitError, code)
		assert.Contains(t, stderr, "mix.gate.primary")
	})

	t.Run("schema errors", func(t *testing.T) {
		code, _, stderr := execute(t, "validate", "--config", unknownKey)
		assert.Equal(t, engine.ExitError, code)
		assert.Contains(t, stderr, "stagez")
	})

	t.Run("print schema", func(t *testing.T) {
		code, out, _ := execute(t, "validate", "--schema")
		assert.Equal(t, 0, code)
		assert.True(t, json.Valid([]byte(out)))
	})
}

func overrideViper(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestApplyOverrides(t *testing.T) {
	t.Run("unset flags keep file values", func(t *testing.T) {
		cfg := config.Default()
		v, err := newViper(overrideViper(t))
		require.NoError(t, err)

		require.NoError(t, applyOverrides(cfg, v))
		assert.Equal(t, config.Default(), cfg)
	})

	t.Run("gate replaces weighted mix", func(t *testing.T) {
		cfg := config.Default()
		cfg.Mix = config.MixConfig{Weights: []config.WeightConfig{{Action: "create", Weight: 1}, {Action: "resolve", Weight: 9}}}
		v, err := newViper(overrideViper(t, "--gate", "0.25"))
		require.NoError(t, err)

		require.NoError(t, applyOverrides(cfg, v))
		require.NotNil(t, cfg.Mix.Gate)
		assert.Empty(t, cfg.Mix.Weights)
		assert.Equal(t, 0.25, cfg.Mix.Gate.Probability)
		assert.Equal(t, "create", cfg.Mix.Gate.Primary)
		assert.Equal(t, "resolve", cfg.Mix.Gate.Fallback)
	})

	t.Run("explicit zero gate is honoured", func(t *testing.T) {
		cfg := config.Default()
		v, err := newViper(overrideViper(t, "--gate", "0"))
		require.NoError(t, err)

		require.NoError(t, applyOverrides(cfg, v))
		assert.Zero(t, cfg.Mix.Gate.Probability)
	})

	t.Run("stages pacing seed", func(t *testing.T) {
		cfg := config.Default()
		v, err := newViper(overrideViper(t, "--stages", "10s:5,20s:0", "--pacing", "50ms", "--seed", "42", "--min-samples", "3"))
		require.NoError(t, err)

		require.NoError(t, applyOverrides(cfg, v))
		assert.Equal(t, []config.StageConfig{{Duration: "10s", Target: 5}, {Duration: "20s", Target: 0}}, cfg.Stages)
		assert.Equal(t, &config.PacingConfig{Type: "constant", Duration: "50ms"}, cfg.Pacing)
		assert.Equal(t, uint64(42), cfg.Settings.Seed)
		assert.Equal(t, 3, cfg.MinSamples)
	})
}

func TestServeMetrics(t *testing.T) {
	collector := metrics.NewPromCollector()
	collector.SetActiveVUs(4)

	addr, stop, err := serveMetrics("127.0.0.1:0", collector.Handler(), zap.NewNop())
	require.NoError(t, err)
	defer stop()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "shortload_active_vus 4")
}
