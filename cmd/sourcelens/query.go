package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/sourcelens/internal/export"
	"github.com/dusk-indust/sourcelens/internal/lang"
	"github.com/dusk-indust/sourcelens/internal/patterns"
	"github.com/dusk-indust/sourcelens/internal/query"
)

type queryFlags struct {
	lang          string
	category      string
	pattern       string
	patternFile   string
	matchLimit    uint32
	maxStartDepth uint32
}

// fileQuery is the JSON form of one file's query result.
type fileQuery struct {
	Name string `json:"name"`
	*export.QueryExport
}

func newQueryCmd() *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "query <path>...",
		Short: "Run a pattern category or a tree-sitter query over files",
		Long:  "Runs a builtin pattern category (--category) or an ad hoc tree-sitter query (--pattern, --pattern-file) over every file and prints the captures.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args, f)
		},
	}
	cmd.Flags().StringVar(&f.lang, "lang", "", "treat every file as this language")
	cmd.Flags().StringVar(&f.category, "category", "", "builtin pattern category, e.g. function, class, import")
	cmd.Flags().StringVar(&f.pattern, "pattern", "", "tree-sitter query source")
	cmd.Flags().StringVar(&f.patternFile, "pattern-file", "", "read the tree-sitter query from a file")
	cmd.Flags().Uint32Var(&f.matchLimit, "match-limit", 0, "cap on in-progress matches (0: default)")
	cmd.Flags().Uint32Var(&f.maxStartDepth, "max-start-depth", 0, "deepest level where a match may start (0: unbounded)")
	cmd.MarkFlagsMutuallyExclusive("category", "pattern", "pattern-file")
	cmd.MarkFlagsOneRequired("category", "pattern", "pattern-file")
	return cmd
}

func runQuery(cmd *cobra.Command, args []string, f queryFlags) error {
	a := current

	var cat patterns.Category
	if f.category != "" {
		c, ok := patterns.ParseCategory(f.category)
		if !ok {
			return fmt.Errorf("unknown category %q", f.category)
		}
		cat = c
	}
	source := f.pattern
	if f.patternFile != "" {
		data, err := os.ReadFile(f.patternFile)
		if err != nil {
			return fmt.Errorf("read pattern: %w", err)
		}
		source = string(data)
	}
	over := patterns.Optimization{MatchLimit: f.matchLimit, MaxStartDepth: f.maxStartDepth}

	sources, err := collectSources(a.registry, args, walkOptions{
		Language:    lang.ID(f.lang),
		Languages:   a.cfg.Languages,
		ExcludeDirs: a.cfg.ExcludeDirs,
	})
	if err != nil {
		return err
	}

	e := a.engine(false)
	defer e.Close()

	ctx := cmd.Context()
	var out []fileQuery
	for _, src := range sources {
		res, err := e.Parse(ctx, src.Content, src.Language)
		if err != nil {
			return fmt.Errorf("%s: %w", src.Name, err)
		}

		var qr *query.Result
		id := res.Metadata.Language
		if cat != "" {
			sess, serr := e.Session(id, cat)
			if serr != nil {
				res.Close()
				return fmt.Errorf("%s: %w", src.Name, serr)
			}
			sess.SetSettings(sess.Settings().Merge(over))
			qr, err = e.Execute(ctx, sess, res.Tree.Root())
		} else {
			qr, err = e.RunQuery(ctx, id, source, res.Tree.Root(), over)
		}
		if err != nil {
			res.Close()
			return fmt.Errorf("%s: %w", src.Name, err)
		}

		qe := export.ExportQuery(qr)
		res.Close()
		if flagFormat == "json" {
			out = append(out, fileQuery{Name: src.Name, QueryExport: qe})
			continue
		}
		formatCapturesText(a.stdout, src.Name, qe)
	}

	if flagFormat == "json" {
		return export.WriteJSON(a.stdout, out)
	}
	return nil
}
