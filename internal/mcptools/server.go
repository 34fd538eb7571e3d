package mcptools

import (
	"context"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewSourceMCPServer creates an MCP server with the source analysis tools
// registered.
func NewSourceMCPServer(svc *SourceService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "sourcelens",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "parse_source",
		Description: "Parse source text with tree-sitter. Reports validity, node and line counts, and structured syntax errors. Optionally repairs small syntax errors and renders the tree as an outline or Mermaid diagram.",
	}, svc.ParseSource)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_query",
		Description: "Run a builtin pattern category (function, class, import, ...) or an ad hoc tree-sitter query over source text and return the captured nodes.",
	}, svc.RunQuery)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "apply_edits",
		Description: "Apply a unified diff or byte-range edits to source text, reparse incrementally, and return the new text with the changed ranges.",
	}, svc.ApplyEdits)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "diff_sources",
		Description: "Parse two versions of a source and return the ranges of the new version that differ.",
	}, svc.DiffSources)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "classify_errors",
		Description: "Classify the syntax errors of source text with their position, context, and the tokens the grammar expected.",
	}, svc.ClassifyErrors)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_languages",
		Description: "List the supported languages and the pattern categories each one provides.",
	}, svc.ListLanguages)

	return server
}

// RunMCPServer serves the source analysis tools over streamable HTTP at
// addr. When metrics is non-nil it is mounted at /metrics.
func RunMCPServer(ctx context.Context, svc *SourceService, addr string, metrics http.Handler) error {
	server := NewSourceMCPServer(svc)

	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	mux := http.NewServeMux()
	mux.Handle("/", handler)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Shutdown gracefully when context is cancelled.
	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RunStdioServer serves the source analysis tools over stdin and stdout
// until the client disconnects or ctx is cancelled.
func RunStdioServer(ctx context.Context, svc *SourceService) error {
	return NewSourceMCPServer(svc).Run(ctx, &mcp.StdioTransport{})
}
