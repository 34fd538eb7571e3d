package mcptools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/sourcelens/internal/edit"
	"github.com/dusk-indust/sourcelens/internal/engine"
	"github.com/dusk-indust/sourcelens/internal/export"
	"github.com/dusk-indust/sourcelens/internal/lang"
	"github.com/dusk-indust/sourcelens/internal/patterns"
	"github.com/dusk-indust/sourcelens/internal/query"
	"github.com/dusk-indust/sourcelens/internal/syntax"
)

// SourceService holds the engine used by MCP tool handlers. Every call
// parses its own input, so handlers share no tree state.
type SourceService struct {
	engine *engine.Engine
}

// NewSourceService creates a SourceService over e. Edits are applied to
// the parsed input, so e should not have recovery enabled; parse_source
// recovers on request.
func NewSourceService(e *engine.Engine) *SourceService {
	return &SourceService{engine: e}
}

func (s *SourceService) parse(ctx context.Context, content, language string) (*engine.ParseResult, error) {
	if language == "" {
		return nil, fmt.Errorf("language is required")
	}
	return s.engine.Parse(ctx, []byte(content), lang.ID(language))
}

// ParseSource parses the input and reports its structure and problems.
func (s *SourceService) ParseSource(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ParseSourceInput,
) (*mcp.CallToolResult, ParseSourceOutput, error) {
	res, err := s.parse(ctx, input.Content, input.Language)
	if err != nil {
		return nil, ParseSourceOutput{}, err
	}
	defer res.Close()

	if input.Recover && !res.IsValid && !s.engine.RecoveryEnabled() {
		rec, err := s.engine.Recover(ctx, res.Tree)
		if err != nil {
			return nil, ParseSourceOutput{}, fmt.Errorf("recover: %w", err)
		}
		defer rec.Close()
		res = rec
	}

	out := ParseSourceOutput{
		Language:  string(res.Metadata.Language),
		IsValid:   res.IsValid,
		NodeCount: res.NodeCount,
		LineCount: res.LineCount,
		Metadata:  export.ExportResult(res, export.Options{}).Metadata,
		Errors:    export.ExportErrors(res.Errors),
		Repairs:   export.ExportEdits(res.Metadata.Repairs),
	}
	if res.Metadata.Recovered {
		out.Content = string(res.Tree.Source())
	}
	root := res.Tree.Root()
	if input.Outline {
		out.Outline = syntax.Render(root, syntax.RenderOptions{NamedOnly: true, ShowText: true, MaxDepth: input.TreeDepth})
	}
	if input.Mermaid {
		out.Mermaid, err = export.GenerateMermaid(root, export.MermaidOptions{MaxDepth: input.TreeDepth, ShowText: true})
		if err != nil {
			return nil, ParseSourceOutput{}, fmt.Errorf("mermaid: %w", err)
		}
	}
	return nil, out, nil
}

// RunQuery runs a builtin category pattern or an ad hoc pattern over the
// parsed input.
func (s *SourceService) RunQuery(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input RunQueryInput,
) (*mcp.CallToolResult, RunQueryOutput, error) {
	if input.Category == "" && input.Pattern == "" {
		return nil, RunQueryOutput{}, fmt.Errorf("category or pattern is required")
	}

	res, err := s.parse(ctx, input.Content, input.Language)
	if err != nil {
		return nil, RunQueryOutput{}, err
	}
	defer res.Close()

	over := patterns.Optimization{MatchLimit: input.MatchLimit, MaxStartDepth: input.MaxStartDepth}
	id := res.Metadata.Language
	root := res.Tree.Root()

	var qr *query.Result
	if input.Category != "" {
		cat, ok := patterns.ParseCategory(input.Category)
		if !ok {
			return nil, RunQueryOutput{}, fmt.Errorf("unknown category %q", input.Category)
		}
		sess, err := s.engine.Session(id, cat)
		if err != nil {
			return nil, RunQueryOutput{}, err
		}
		sess.SetSettings(sess.Settings().Merge(over))
		qr, err = s.engine.Execute(ctx, sess, root)
		if err != nil {
			return nil, RunQueryOutput{}, fmt.Errorf("run %s query: %w", cat, err)
		}
	} else {
		qr, err = s.engine.RunQuery(ctx, id, input.Pattern, root, over)
		if err != nil {
			return nil, RunQueryOutput{}, fmt.Errorf("run query: %w", err)
		}
	}

	qe := export.ExportQuery(qr)
	return nil, RunQueryOutput{Captures: qe.Captures, Stats: qe.Stats}, nil
}

// ApplyEdits applies a patch or a batch of byte edits to the input and
// reparses it incrementally.
func (s *SourceService) ApplyEdits(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ApplyEditsInput,
) (*mcp.CallToolResult, ApplyEditsOutput, error) {
	var batch edit.Batch
	switch {
	case input.Patch != "":
		b, err := edit.BatchFromPatch([]byte(input.Content), []byte(input.Patch))
		if err != nil {
			return nil, ApplyEditsOutput{}, fmt.Errorf("read patch: %w", err)
		}
		batch = b
	case len(input.Edits) > 0:
		for _, e := range input.Edits {
			batch = append(batch, edit.NewOperation(e.StartByte, e.OldEndByte, e.Text))
		}
	default:
		return nil, ApplyEditsOutput{}, fmt.Errorf("patch or edits is required")
	}

	res, err := s.parse(ctx, input.Content, input.Language)
	if err != nil {
		return nil, ApplyEditsOutput{}, err
	}
	defer res.Close()

	next, err := s.engine.ApplyEdits(ctx, res.Tree, batch)
	if err != nil {
		return nil, ApplyEditsOutput{}, fmt.Errorf("apply edits: %w", err)
	}
	defer next.Close()

	changed, err := s.engine.Diff(res.Tree, next.Tree)
	if err != nil {
		return nil, ApplyEditsOutput{}, fmt.Errorf("diff: %w", err)
	}

	return nil, ApplyEditsOutput{
		Content: string(next.Tree.Source()),
		IsValid: next.IsValid,
		Edits:   export.ExportEdits(batch),
		Changed: export.ExportRanges(changed),
		Errors:  export.ExportErrors(next.Errors),
	}, nil
}

// DiffSources parses two versions of a source and returns the ranges of
// the new version that differ.
func (s *SourceService) DiffSources(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input DiffSourcesInput,
) (*mcp.CallToolResult, DiffSourcesOutput, error) {
	a, err := s.parse(ctx, input.Old, input.Language)
	if err != nil {
		return nil, DiffSourcesOutput{}, err
	}
	defer a.Close()

	b, err := s.parse(ctx, input.New, input.Language)
	if err != nil {
		return nil, DiffSourcesOutput{}, err
	}
	defer b.Close()

	changed, err := s.engine.Diff(a.Tree, b.Tree)
	if err != nil {
		return nil, DiffSourcesOutput{}, fmt.Errorf("diff: %w", err)
	}
	return nil, DiffSourcesOutput{Changed: export.ExportRanges(changed)}, nil
}

// ClassifyErrors reports the structured syntax problems of the input.
func (s *SourceService) ClassifyErrors(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ClassifyErrorsInput,
) (*mcp.CallToolResult, ClassifyErrorsOutput, error) {
	res, err := s.parse(ctx, input.Content, input.Language)
	if err != nil {
		return nil, ClassifyErrorsOutput{}, err
	}
	defer res.Close()

	errs := export.ExportErrors(s.engine.ClassifyErrors(res.Tree))
	if errs == nil {
		errs = []export.ErrorExport{}
	}
	return nil, ClassifyErrorsOutput{IsValid: res.IsValid, Errors: errs}, nil
}

// ListLanguages returns the registered languages and the pattern
// categories each one supports.
func (s *SourceService) ListLanguages(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ ListLanguagesInput,
) (*mcp.CallToolResult, ListLanguagesOutput, error) {
	reg := s.engine.Registry()
	var out ListLanguagesOutput
	for _, id := range reg.Known() {
		info := LanguageInfo{Name: string(id), Categories: []string{}}
		if base := reg.Base(id); base != "" && base != id {
			info.Base = string(base)
		}
		for _, c := range patterns.CategoriesIn(reg, id) {
			info.Categories = append(info.Categories, string(c))
		}
		out.Languages = append(out.Languages, info)
	}
	return nil, out, nil
}
