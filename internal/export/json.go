// Package export converts parse, query and diff results into JSON
// documents and diagrams for downstream consumers.
package export

import (
	"encoding/json"
	"io"
	"time"

	"github.com/dusk-indust/sourcelens/internal/edit"
	"github.com/dusk-indust/sourcelens/internal/engine"
	"github.com/dusk-indust/sourcelens/internal/lang"
	"github.com/dusk-indust/sourcelens/internal/query"
	"github.com/dusk-indust/sourcelens/internal/recovery"
	"github.com/dusk-indust/sourcelens/internal/syntax"
)

// ResultExport is the JSON form of a ParseResult.
type ResultExport struct {
	Name       string         `json:"name,omitempty"`
	TreeID     string         `json:"treeId,omitempty"`
	ExportedAt string         `json:"exportedAt"`
	Language   lang.ID        `json:"language"`
	IsValid    bool           `json:"isValid"`
	NodeCount  int            `json:"nodeCount"`
	LineCount  int            `json:"lineCount"`
	Metadata   MetadataExport `json:"metadata"`
	Errors     []ErrorExport  `json:"errors,omitempty"`
	Changed    []RangeExport  `json:"changedRanges,omitempty"`
	Tree       *NodeExport    `json:"tree,omitempty"`
	Repairs    []EditExport   `json:"repairs,omitempty"`
}

// MetadataExport describes how the result was produced.
type MetadataExport struct {
	RootKind         string  `json:"rootKind"`
	ByteLength       int     `json:"byteLength"`
	DurationMillis   float64 `json:"durationMs"`
	RecoveryAttempts int     `json:"recoveryAttempts"`
	Recovered        bool    `json:"recovered"`
}

// ErrorExport is one structured syntax problem.
type ErrorExport struct {
	Kind     string      `json:"kind"`
	Message  string      `json:"message"`
	Range    RangeExport `json:"range"`
	NodeKind string      `json:"nodeKind"`
	Expected []string    `json:"expected,omitempty"`
	Context  string      `json:"context,omitempty"`
	Previous string      `json:"previous,omitempty"`
}

// PositionExport is a 1-based line and column.
type PositionExport struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// RangeExport is a byte span with 1-based positions.
type RangeExport struct {
	StartByte uint           `json:"startByte"`
	EndByte   uint           `json:"endByte"`
	Start     PositionExport `json:"start"`
	End       PositionExport `json:"end"`
}

// EditExport is one applied edit.
type EditExport struct {
	StartByte  uint   `json:"startByte"`
	OldEndByte uint   `json:"oldEndByte"`
	Text       string `json:"text"`
}

// CaptureExport is one captured node.
type CaptureExport struct {
	Name    string      `json:"name"`
	Pattern int         `json:"pattern"`
	Kind    string      `json:"kind"`
	Text    string      `json:"text"`
	Range   RangeExport `json:"range"`
}

// QueryExport is the JSON form of a query result.
type QueryExport struct {
	Captures []CaptureExport `json:"captures"`
	Stats    StatsExport     `json:"stats"`
}

// StatsExport mirrors query.Stats.
type StatsExport struct {
	Matches            int     `json:"matches"`
	Captures           int     `json:"captures"`
	ExceededMatchLimit bool    `json:"exceededMatchLimit"`
	TimedOut           bool    `json:"timedOut"`
	DurationMillis     float64 `json:"durationMs"`
}

// NodeExport is a syntax node with its named children.
type NodeExport struct {
	Kind     string        `json:"kind"`
	Field    string        `json:"field,omitempty"`
	Range    RangeExport   `json:"range"`
	Text     string        `json:"text,omitempty"`
	Error    bool          `json:"error,omitempty"`
	Missing  bool          `json:"missing,omitempty"`
	Children []*NodeExport `json:"children,omitempty"`
}

// Options selects the optional parts of a ResultExport.
type Options struct {
	Name string
	// IncludeTree adds the named-node tree, down to TreeDepth levels when
	// TreeDepth is positive.
	IncludeTree bool
	TreeDepth   int
}

// ExportResult builds a ResultExport from a ParseResult.
func ExportResult(res *engine.ParseResult, opts Options) *ResultExport {
	out := &ResultExport{
		Name:       opts.Name,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Language:   res.Metadata.Language,
		IsValid:    res.IsValid,
		NodeCount:  res.NodeCount,
		LineCount:  res.LineCount,
		Metadata: MetadataExport{
			RootKind:         res.Metadata.RootKind,
			ByteLength:       res.Metadata.ByteLength,
			DurationMillis:   millis(res.Metadata.Duration),
			RecoveryAttempts: res.Metadata.RecoveryAttempts,
			Recovered:        res.Metadata.Recovered,
		},
		Errors:  ExportErrors(res.Errors),
		Repairs: ExportEdits(res.Metadata.Repairs),
	}
	if res.Tree != nil {
		out.TreeID = res.Tree.ID().String()
		if opts.IncludeTree {
			out.Tree = ExportNode(res.Tree.Root(), opts.TreeDepth)
		}
	}
	return out
}

// ExportErrors converts structured errors.
func ExportErrors(errs []recovery.StructuredError) []ErrorExport {
	if len(errs) == 0 {
		return nil
	}
	out := make([]ErrorExport, len(errs))
	for i, e := range errs {
		out[i] = ErrorExport{
			Kind:     string(e.Kind),
			Message:  e.Message,
			Range:    nodeRange(e.Node),
			NodeKind: e.NodeKind,
			Expected: e.Expected,
			Context:  e.Context,
			Previous: e.Previous,
		}
	}
	return out
}

// ExportEdits converts edit operations.
func ExportEdits(ops []edit.Operation) []EditExport {
	if len(ops) == 0 {
		return nil
	}
	out := make([]EditExport, len(ops))
	for i, op := range ops {
		out[i] = EditExport{StartByte: op.StartByte, OldEndByte: op.OldEndByte, Text: op.Text}
	}
	return out
}

// ExportQuery converts a query result. Captures are listed per match, in
// match order.
func ExportQuery(res *query.Result) *QueryExport {
	out := &QueryExport{
		Captures: []CaptureExport{},
		Stats: StatsExport{
			Matches:            res.Stats.MatchCount,
			Captures:           res.Stats.CaptureCount,
			ExceededMatchLimit: res.Stats.ExceededMatchLimit,
			TimedOut:           res.Stats.TimedOut,
			DurationMillis:     millis(res.Stats.Duration),
		},
	}
	for _, m := range res.Matches {
		for _, c := range m.Captures {
			out.Captures = append(out.Captures, CaptureExport{
				Name:    c.Name,
				Pattern: m.Pattern,
				Kind:    c.Node.Kind(),
				Text:    c.Node.Text(),
				Range:   nodeRange(c.Node),
			})
		}
	}
	return out
}

// ExportRanges converts ranges.
func ExportRanges(ranges []syntax.Range) []RangeExport {
	out := make([]RangeExport, len(ranges))
	for i, r := range ranges {
		out[i] = rangeExport(r.StartByte, r.EndByte, r.StartPoint, r.EndPoint)
	}
	return out
}

// ExportNode converts the named subtree at n. Leaves carry their text.
// maxDepth of zero or less means unlimited.
func ExportNode(n syntax.Node, maxDepth int) *NodeExport {
	if !n.Valid() {
		return nil
	}
	return exportNode(n, "", 0, maxDepth)
}

func exportNode(n syntax.Node, field string, depth, maxDepth int) *NodeExport {
	out := &NodeExport{
		Kind:    n.Kind(),
		Field:   field,
		Range:   nodeRange(n),
		Error:   n.IsError(),
		Missing: n.IsMissing(),
	}
	if maxDepth > 0 && depth+1 >= maxDepth {
		return out
	}
	raw, err := n.Raw()
	if err != nil {
		return out
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		c, ok := n.Child(i)
		if !ok || !(c.IsNamed() || c.IsMissing()) {
			continue
		}
		out.Children = append(out.Children, exportNode(c, raw.FieldNameForChild(uint32(i)), depth+1, maxDepth))
	}
	if n.ChildCount() == 0 {
		out.Text = n.Text()
	}
	return out
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func nodeRange(n syntax.Node) RangeExport {
	return rangeExport(n.StartByte(), n.EndByte(), n.StartPoint(), n.EndPoint())
}

func rangeExport(start, end uint, sp, ep syntax.Point) RangeExport {
	return RangeExport{
		StartByte: start,
		EndByte:   end,
		Start:     PositionExport{Line: int(sp.Row) + 1, Column: int(sp.Column) + 1},
		End:       PositionExport{Line: int(ep.Row) + 1, Column: int(ep.Column) + 1},
	}
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
