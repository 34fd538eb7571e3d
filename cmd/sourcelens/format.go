package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dusk-indust/sourcelens/internal/engine"
	"github.com/dusk-indust/sourcelens/internal/export"
)

// formatParseText prints a one-line summary of res followed by its errors
// and any repairs.
func formatParseText(w io.Writer, name string, res *engine.ParseResult) {
	status := "ok"
	if !res.IsValid {
		status = fmt.Sprintf("%d syntax errors", len(res.Errors))
	}
	fmt.Fprintf(w, "%s: %s (%s, %d nodes, %d lines, %s)\n",
		name, status, res.Metadata.Language, res.NodeCount, res.LineCount, res.Metadata.Duration.Round(time.Microsecond))
	if res.Metadata.Recovered {
		fmt.Fprintf(w, "  recovered after %d attempts\n", res.Metadata.RecoveryAttempts)
		for _, op := range res.Metadata.Repairs {
			fmt.Fprintf(w, "  repair: %s\n", op)
		}
	}
	formatErrorsText(w, name, export.ExportErrors(res.Errors))
}

// formatErrorsText prints errors as "file:line:col: message" lines.
func formatErrorsText(w io.Writer, name string, errs []export.ErrorExport) {
	for _, e := range errs {
		fmt.Fprintf(w, "%s:%d:%d: %s", name, e.Range.Start.Line, e.Range.Start.Column, e.Message)
		if len(e.Expected) > 0 {
			fmt.Fprintf(w, " (expected %s)", strings.Join(e.Expected, ", "))
		}
		fmt.Fprintln(w)
	}
}

// formatCapturesText prints captures as aligned columns.
func formatCapturesText(w io.Writer, name string, q *export.QueryExport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCATION\tCAPTURE\tKIND\tTEXT")
	for _, c := range q.Captures {
		fmt.Fprintf(tw, "%s:%d:%d\t%s\t%s\t%s\n",
			name, c.Range.Start.Line, c.Range.Start.Column, c.Name, c.Kind, firstLine(c.Text))
	}
	tw.Flush()
	if q.Stats.ExceededMatchLimit || q.Stats.TimedOut {
		fmt.Fprintf(w, "partial result: match limit exceeded=%t, timed out=%t\n",
			q.Stats.ExceededMatchLimit, q.Stats.TimedOut)
	}
}

// formatRangesText prints changed ranges, one per line.
func formatRangesText(w io.Writer, name string, ranges []export.RangeExport) {
	for _, r := range ranges {
		fmt.Fprintf(w, "%s:%d:%d-%d:%d changed\n", name, r.Start.Line, r.Start.Column, r.End.Line, r.End.Column)
	}
}

// languageRow is one line of the languages listing.
type languageRow struct {
	Name       string   `json:"name"`
	Base       string   `json:"base,omitempty"`
	Categories []string `json:"categories"`
}

// formatLanguagesText prints languages as aligned columns.
func formatLanguagesText(w io.Writer, rows []languageRow) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LANGUAGE\tBASE\tCATEGORIES")
	for _, r := range rows {
		base := r.Base
		if base == "" {
			base = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, base, strings.Join(r.Categories, ","))
	}
	tw.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + "..."
	}
	return s
}
