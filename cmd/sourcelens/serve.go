package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/sourcelens/internal/mcptools"
	"github.com/dusk-indust/sourcelens/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-mcp",
		Short: "Serve the analysis tools over the Model Context Protocol",
		Long:  "Serves parse_source, run_query, apply_edits, diff_sources, classify_errors and list_languages over stdio, or over streamable HTTP with --http. With the prometheus metric exporter the HTTP server also serves /metrics.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := current
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// parse_source recovers on request.
			e := a.engine(false)
			defer e.Close()
			svc := mcptools.NewSourceService(e)

			if addr == "" {
				a.logger.Info("serving MCP over stdio")
				return mcptools.RunStdioServer(ctx, svc)
			}
			a.logger.Info("serving MCP over HTTP", "addr", addr)
			return mcptools.RunMCPServer(ctx, svc, addr, telemetry.MetricsHandler())
		},
	}
	cmd.Flags().StringVar(&addr, "http", "", "listen address for streamable HTTP, e.g. :8080 (default: stdio)")
	return cmd
}
