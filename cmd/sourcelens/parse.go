package main

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/sourcelens/internal/engine"
	"github.com/dusk-indust/sourcelens/internal/export"
	"github.com/dusk-indust/sourcelens/internal/lang"
	"github.com/dusk-indust/sourcelens/internal/syntax"
)

type parseFlags struct {
	lang     string
	tree     bool
	depth    int
	recover  bool
	mermaid  bool
	progress bool
}

func newParseCmd() *cobra.Command {
	var f parseFlags
	cmd := &cobra.Command{
		Use:   "parse <path>...",
		Short: "Parse files and report their structure and syntax errors",
		Long:  "Parses every named file, and every recognised source file below named directories, and prints a summary per file.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd, args, f)
		},
	}
	cmd.Flags().StringVar(&f.lang, "lang", "", "parse every file as this language instead of detecting it from the extension")
	cmd.Flags().BoolVar(&f.tree, "tree", false, "print the named syntax tree")
	cmd.Flags().IntVar(&f.depth, "depth", 0, "maximum tree depth for --tree and --mermaid (0: unlimited)")
	cmd.Flags().BoolVar(&f.recover, "recover", false, "try to repair syntax errors")
	cmd.Flags().BoolVar(&f.mermaid, "mermaid", false, "print a Mermaid diagram of each tree")
	cmd.Flags().BoolVar(&f.progress, "progress", false, "print per-file progress to stderr")
	return cmd
}

func runParse(cmd *cobra.Command, args []string, f parseFlags) error {
	a := current
	sources, err := collectSources(a.registry, args, walkOptions{
		Language:    lang.ID(f.lang),
		Languages:   a.cfg.Languages,
		ExcludeDirs: a.cfg.ExcludeDirs,
	})
	if err != nil {
		return err
	}

	var opts []engine.Option
	if f.progress {
		var mu sync.Mutex
		opts = append(opts, engine.WithProgress(func(ev engine.ProgressEvent) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintln(a.stderr, engine.FormatProgress(ev))
		}))
	}
	e := a.engine(f.recover || a.cfg.Recovery.Enabled, opts...)
	defer e.Close()

	results, err := e.ParseAll(cmd.Context(), sources)
	defer func() {
		for _, r := range results {
			r.Result.Close()
		}
	}()
	if err != nil {
		return err
	}

	failed := 0
	if flagFormat == "json" {
		exports := make([]*export.ResultExport, 0, len(results))
		for _, r := range results {
			if r.Err != nil {
				failed++
				a.logger.Error("parse failed", "file", r.Name, "error", r.Err)
				continue
			}
			exports = append(exports, export.ExportResult(r.Result, export.Options{
				Name:        r.Name,
				IncludeTree: f.tree,
				TreeDepth:   f.depth,
			}))
		}
		if err := export.WriteJSON(a.stdout, exports); err != nil {
			return err
		}
		return failedErr(failed, len(results))
	}

	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(a.stdout, "%s: %v\n", r.Name, r.Err)
			continue
		}
		formatParseText(a.stdout, r.Name, r.Result)
		root := r.Result.Tree.Root()
		if f.tree {
			fmt.Fprint(a.stdout, syntax.Render(root, syntax.RenderOptions{NamedOnly: true, ShowText: true, MaxDepth: f.depth}))
		}
		if f.mermaid {
			diagram, err := export.GenerateMermaid(root, export.MermaidOptions{MaxDepth: f.depth, ShowText: true})
			if err != nil {
				return err
			}
			fmt.Fprint(a.stdout, diagram)
		}
	}
	return failedErr(failed, len(results))
}

func failedErr(failed, total int) error {
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d files failed to parse", failed, total)
}
