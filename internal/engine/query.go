package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dusk-indust/sourcelens/internal/edit"
	"github.com/dusk-indust/sourcelens/internal/lang"
	"github.com/dusk-indust/sourcelens/internal/patterns"
	"github.com/dusk-indust/sourcelens/internal/query"
	"github.com/dusk-indust/sourcelens/internal/syntax"
	"github.com/dusk-indust/sourcelens/internal/telemetry"
)

// customLabel tags ad-hoc queries in telemetry.
const customLabel = "custom"

// Settings returns the optimization settings for a category: the builtin
// defaults for the language with the engine's overrides applied.
func (e *Engine) Settings(cat patterns.Category, language lang.ID) patterns.Optimization {
	o := patterns.DefaultOptimization(cat, language)
	if over, ok := e.overrides[cat]; ok {
		o = o.Merge(over)
	}
	return o
}

// Session compiles the builtin pattern for a category and returns a
// session over it configured with Settings. Callers use it to disable
// patterns or captures before executing.
func (e *Engine) Session(language lang.ID, cat patterns.Category) (*query.Session, error) {
	h, err := e.registry.Resolve(language)
	if err != nil {
		return nil, err
	}
	p, err := patterns.LookupIn(e.registry, h.ID(), cat)
	if err != nil {
		return nil, err
	}
	c, err := e.compiler.Compile(h, p.Source)
	if err != nil {
		return nil, fmt.Errorf("compile %s/%s: %w", h.ID(), cat, err)
	}
	return query.NewSession(c, e.Settings(cat, h.ID())), nil
}

// CompileAndRun runs the builtin pattern for a category over the subtree
// rooted at node.
func (e *Engine) CompileAndRun(ctx context.Context, language lang.ID, cat patterns.Category, node syntax.Node) (*query.Result, error) {
	h, err := e.registry.Resolve(language)
	if err != nil {
		return nil, err
	}
	p, err := patterns.LookupIn(e.registry, h.ID(), cat)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, h, p.Source, string(cat), node, e.Settings(cat, h.ID()))
}

// RunQuery compiles an arbitrary pattern source and runs it over node with
// the given settings.
func (e *Engine) RunQuery(ctx context.Context, language lang.ID, source string, node syntax.Node, settings patterns.Optimization) (*query.Result, error) {
	h, err := e.registry.Resolve(language)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, h, source, customLabel, node, settings)
}

// Execute runs a prepared session over node.
func (e *Engine) Execute(ctx context.Context, s *query.Session, node syntax.Node) (res *query.Result, err error) {
	id := s.Compiled().Language()
	if err := checkNode(id, node); err != nil {
		return nil, err
	}
	ctx, span := e.inst.Start(ctx, "engine.Query", string(id))
	defer func() { telemetry.End(span, err) }()

	res, err = s.Execute(ctx, node)
	if err != nil {
		return nil, err
	}
	e.recordQuery(ctx, id, customLabel, res)
	return res, nil
}

func (e *Engine) run(ctx context.Context, h *lang.Handle, src, label string, node syntax.Node, settings patterns.Optimization) (res *query.Result, err error) {
	if err := checkNode(h.ID(), node); err != nil {
		return nil, err
	}

	ctx, span := e.inst.Start(ctx, "engine.Query", string(h.ID()), attribute.String("category", label))
	defer func() { telemetry.End(span, err) }()

	c, err := e.compiler.Compile(h, src)
	if err != nil {
		return nil, err
	}
	res, err = query.NewSession(c, settings).Execute(ctx, node)
	if err != nil {
		return nil, err
	}
	e.recordQuery(ctx, h.ID(), label, res)
	return res, nil
}

func (e *Engine) recordQuery(ctx context.Context, id lang.ID, label string, res *query.Result) {
	st := res.Stats
	e.inst.RecordQuery(ctx, string(id), label, st.Duration, st.MatchCount, st.ExceededMatchLimit, st.TimedOut)
	if st.ExceededMatchLimit || st.TimedOut {
		e.logger.Debug("partial query result",
			slog.String("language", string(id)),
			slog.String("category", label),
			slog.Int("matches", st.MatchCount),
			slog.Bool("match_limit_exceeded", st.ExceededMatchLimit),
			slog.Bool("timed_out", st.TimedOut))
	}
}

func checkNode(id lang.ID, node syntax.Node) error {
	if !node.Valid() {
		return syntax.ErrStaleNode
	}
	if got := node.Tree().Language(); got != id {
		return fmt.Errorf("%w: query for %s, tree is %s", edit.ErrLanguageMismatch, id, got)
	}
	return nil
}
