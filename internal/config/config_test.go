package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/sourcelens/internal/patterns"
	"github.com/dusk-indust/sourcelens/internal/telemetry"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	return dir
}

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("overrides merge onto defaults", func(t *testing.T) {
		dir := writeConfig(t, "sourcelens.yml", `
parse:
  maxConcurrency: 4
recovery:
  enabled: true
optimizations:
  function:
    matchLimit: 10
    maxStartDepth: 2
languages: [python, go]
excludeDirs: [vendor, node_modules]
log:
  level: debug
telemetry:
  traces: stdout
`)
		cfg, err := Load(dir)
		require.NoError(t, err)

		assert.Equal(t, uint64(5_000_000), cfg.Parse.TimeoutMicros)
		assert.Equal(t, 4, cfg.Parse.MaxConcurrency)
		assert.True(t, cfg.Recovery.Enabled)
		assert.Equal(t, 3, cfg.Recovery.MaxAttempts)
		assert.Equal(t, []string{"python", "go"}, cfg.Languages)
		assert.Equal(t, []string{"vendor", "node_modules"}, cfg.ExcludeDirs)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "text", cfg.Log.Format)
		assert.Equal(t, telemetry.ExporterStdout, cfg.Telemetry.TraceExporter)
		assert.Equal(t, "sourcelens", cfg.Telemetry.ServiceName)

		opts := cfg.CategoryOptimizations()
		assert.Equal(t, patterns.Optimization{MatchLimit: 10, MaxStartDepth: 2}, opts[patterns.Function])
	})

	t.Run("yaml extension", func(t *testing.T) {
		dir := writeConfig(t, "sourcelens.yaml", "log:\n  format: json\n")
		cfg, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "json", cfg.Log.Format)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		dir := writeConfig(t, "sourcelens.yml", "parse: [\n")
		_, err := Load(dir)
		assert.ErrorContains(t, err, "decode config")
	})
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		yaml  string
		field string
	}{
		"zero timeout":         {"parse:\n  timeoutMicros: 0\n", "TimeoutMicros"},
		"too many attempts":    {"recovery:\n  maxAttempts: 11\n", "MaxAttempts"},
		"negative concurrency": {"parse:\n  maxConcurrency: -1\n", "MaxConcurrency"},
		"unknown level":        {"log:\n  level: verbose\n", "Level"},
		"unknown format":       {"log:\n  format: xml\n", "Format"},
		"unknown exporter":     {"telemetry:\n  metrics: statsd\n", "MetricExporter"},
		"unknown category":     {"optimizations:\n  lambda:\n    matchLimit: 1\n", "Optimizations[lambda]"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			var verrs validator.ValidationErrors
			require.ErrorAs(t, err, &verrs)
			require.Len(t, verrs, 1)
			assert.Equal(t, tc.field, verrs[0].Field())
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.Log = LogConfig{Level: "warn", Format: "json"}
	logger := cfg.Logger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"k":"v"`)

	assert.Equal(t, slog.LevelDebug, LogConfig{Level: "debug"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogConfig{Level: "bogus"}.SlogLevel())
}
