package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/sourcelens/internal/config"
	"github.com/dusk-indust/sourcelens/internal/engine"
	"github.com/dusk-indust/sourcelens/internal/lang"
	"github.com/dusk-indust/sourcelens/internal/query"
	"github.com/dusk-indust/sourcelens/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	flagConfigDir string
	flagLogLevel  string
	flagFormat    string
)

// app is the state shared by every command. It is built in
// PersistentPreRunE and torn down by execute.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *lang.Registry
	compiler *query.Compiler
	shutdown func(context.Context) error
	stdout   io.Writer
	stderr   io.Writer
}

var current *app

func main() {
	if err := execute(newRootCmd()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// execute runs cmd and releases the shared state whether or not the
// command succeeded.
func execute(cmd *cobra.Command) error {
	err := cmd.Execute()
	if current != nil {
		if cerr := current.close(); err == nil {
			err = cerr
		}
		current = nil
	}
	return err
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sourcelens",
		Short:         "Multi-language source analysis with tree-sitter",
		Long:          "sourcelens parses source files with tree-sitter, runs structural queries, applies incremental edits, and reports and repairs syntax errors.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(flagFormat); err != nil {
				return err
			}
			a, err := setup(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			current = a
			return nil
		},
		// No Run; prints help by default.
	}

	root.PersistentFlags().StringVar(&flagConfigDir, "config-dir", ".", "directory holding sourcelens.yml")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override the configured log level: debug|info|warn|error")
	root.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format: json|text")

	root.AddCommand(
		newParseCmd(),
		newQueryCmd(),
		newEditCmd(),
		newErrorsCmd(),
		newLanguagesCmd(),
		newServeCmd(),
		newVersionCmd(),
	)
	return root
}

func validateFormat(f string) error {
	switch f {
	case "json", "text":
		return nil
	default:
		return fmt.Errorf("invalid --format %q: must be json or text", f)
	}
}

// setup loads the configuration and builds the logger, telemetry and
// language registry.
func setup(ctx context.Context, stdout, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(flagConfigDir)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger := cfg.Logger(stderr)
	slog.SetDefault(logger)

	cfg.Telemetry.ServiceVersion = version
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		registry: lang.NewRegistry(
			lang.WithTimeout(cfg.Parse.TimeoutMicros),
			lang.WithLogger(logger),
		),
		compiler: query.NewCompiler(),
		shutdown: shutdown,
		stdout:   stdout,
		stderr:   stderr,
	}, nil
}

// engine builds an Engine from the configuration. Recovery is only
// enabled when withRecovery is set.
func (a *app) engine(withRecovery bool, opts ...engine.Option) *engine.Engine {
	base := []engine.Option{
		engine.WithCompiler(a.compiler),
		engine.WithLogger(a.logger),
		engine.WithOptimizations(a.cfg.CategoryOptimizations()),
	}
	if n := a.cfg.Parse.MaxConcurrency; n > 0 {
		base = append(base, engine.WithConcurrency(n))
	}
	if withRecovery {
		base = append(base, engine.WithRecovery(a.cfg.Recovery.MaxAttempts))
	}
	return engine.New(a.registry, append(base, opts...)...)
}

func (a *app) close() error {
	a.compiler.Close()
	regErr := a.registry.Close()
	if err := a.shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutdown telemetry: %w", err)
	}
	return regErr
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
