package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dusk-indust/sourcelens/internal/patterns"
	"github.com/dusk-indust/sourcelens/internal/telemetry"
)

// FileNames are the config files Load looks for, in order.
var FileNames = []string{"sourcelens.yml", "sourcelens.yaml"}

// Config holds settings loaded from sourcelens.yml.
type Config struct {
	Parse         ParseConfig                      `yaml:"parse"`
	Recovery      RecoveryConfig                   `yaml:"recovery"`
	Optimizations map[string]patterns.Optimization `yaml:"optimizations,omitempty" validate:"dive,keys,category,endkeys"`
	Languages     []string                         `yaml:"languages,omitempty" validate:"dive,required"`
	ExcludeDirs   []string                         `yaml:"excludeDirs,omitempty"`
	Log           LogConfig                        `yaml:"log"`
	Telemetry     telemetry.Config                 `yaml:"telemetry"`
}

// ParseConfig bounds individual parses.
type ParseConfig struct {
	TimeoutMicros  uint64 `yaml:"timeoutMicros" validate:"gt=0"`
	MaxConcurrency int    `yaml:"maxConcurrency" validate:"gte=0,lte=256"`
}

// RecoveryConfig controls heuristic recovery on parse.
type RecoveryConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxAttempts int  `yaml:"maxAttempts" validate:"gte=0,lte=10"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Parse:     ParseConfig{TimeoutMicros: 5_000_000},
		Recovery:  RecoveryConfig{MaxAttempts: 3},
		Log:       LogConfig{Level: "info", Format: "text"},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads sourcelens.yml or sourcelens.yaml from dir on top of the
// defaults and validates the result. A missing file yields the defaults.
func Load(dir string) (*Config, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		cfg, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return cfg, nil
	}
	return Default(), nil
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		_, ok := patterns.ParseCategory(fl.Field().String())
		return ok
	})
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// CategoryOptimizations returns the optimization overrides keyed by
// category.
func (c *Config) CategoryOptimizations() map[patterns.Category]patterns.Optimization {
	if len(c.Optimizations) == 0 {
		return nil
	}
	out := make(map[patterns.Category]patterns.Optimization, len(c.Optimizations))
	for name, o := range c.Optimizations {
		if cat, ok := patterns.ParseCategory(name); ok {
			out[cat] = o
		}
	}
	return out
}

// Logger builds a logger writing to w with the configured level and
// format.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Log.SlogLevel()}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SlogLevel converts the configured level name.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
