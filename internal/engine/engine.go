// Package engine is the entry point for parsing, querying, editing and
// error reporting across all registered languages.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dusk-indust/sourcelens/internal/edit"
	"github.com/dusk-indust/sourcelens/internal/lang"
	"github.com/dusk-indust/sourcelens/internal/patterns"
	"github.com/dusk-indust/sourcelens/internal/query"
	"github.com/dusk-indust/sourcelens/internal/recovery"
	"github.com/dusk-indust/sourcelens/internal/syntax"
	"github.com/dusk-indust/sourcelens/internal/telemetry"
)

// DefaultLargeInput is the source size above which Parse logs a warning.
const DefaultLargeInput = 4 << 20

// Metadata describes how a ParseResult was produced.
type Metadata struct {
	Language         lang.ID          `json:"language"`
	RootKind         string           `json:"rootKind"`
	ByteLength       int              `json:"byteLength"`
	Duration         time.Duration    `json:"duration"`
	RecoveryAttempts int              `json:"recoveryAttempts"`
	Recovered        bool             `json:"recovered"`
	Repairs          []edit.Operation `json:"repairs,omitempty"`
}

// ParseResult is the outcome of a parse or an edit. A tree with syntax
// errors is still returned; its problems are listed in Errors.
type ParseResult struct {
	Tree      *syntax.Tree
	IsValid   bool
	NodeCount int
	LineCount int
	Errors    []recovery.StructuredError
	Metadata  Metadata
}

// Close releases the result's tree.
func (r *ParseResult) Close() {
	if r != nil && r.Tree != nil {
		r.Tree.Close()
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithCompiler shares a query compiler, and its cache, between engines.
func WithCompiler(c *query.Compiler) Option {
	return func(e *Engine) { e.compiler = c }
}

// WithRecovery enables recovery on Parse with at most maxAttempts trial
// reparses per parse. Zero or less selects recovery.DefaultMaxAttempts.
func WithRecovery(maxAttempts int) Option {
	return func(e *Engine) {
		e.recoveryOn = true
		e.maxAttempts = maxAttempts
	}
}

// WithOptimizations overrides the default optimization settings per
// category. Non-zero fields replace the defaults.
func WithOptimizations(over map[patterns.Category]patterns.Optimization) Option {
	return func(e *Engine) { e.overrides = maps.Clone(over) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithInstruments sets the telemetry instruments.
func WithInstruments(i *telemetry.Instruments) Option {
	return func(e *Engine) { e.inst = i }
}

// WithConcurrency bounds the number of parses ParseAll runs at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) { e.concurrency = n }
}

// WithProgress registers a callback for ParseAll progress events. It is
// called from worker goroutines.
func WithProgress(fn func(ProgressEvent)) Option {
	return func(e *Engine) { e.onProgress = fn }
}

// Engine parses and queries source text. It is safe for concurrent use.
type Engine struct {
	registry     *lang.Registry
	compiler     *query.Compiler
	ownsCompiler bool
	recoveryOn   bool
	maxAttempts  int
	recoverer    *recovery.Recoverer
	overrides    map[patterns.Category]patterns.Optimization
	logger       *slog.Logger
	inst         *telemetry.Instruments
	concurrency  int
	largeInput   int
	onProgress   func(ProgressEvent)
}

// New creates an Engine over reg.
func New(reg *lang.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:   reg,
		logger:     slog.Default(),
		largeInput: DefaultLargeInput,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.compiler == nil {
		e.compiler = query.NewCompiler()
		e.ownsCompiler = true
	}
	if e.inst == nil {
		e.inst = telemetry.Global()
	}
	if e.concurrency <= 0 {
		e.concurrency = DefaultConcurrency
	}
	if e.recoveryOn {
		e.recoverer = recovery.NewRecoverer(e.maxAttempts, e.logger)
	}
	return e
}

// Registry returns the language registry.
func (e *Engine) Registry() *lang.Registry { return e.registry }

// RecoveryEnabled reports whether Parse attempts recovery.
func (e *Engine) RecoveryEnabled() bool { return e.recoverer != nil }

// Parse parses content as language. Syntax errors are reported in the
// result; only an unknown language or a cancelled parse return an error.
func (e *Engine) Parse(ctx context.Context, content []byte, language lang.ID) (res *ParseResult, err error) {
	h, err := e.registry.Resolve(language)
	if err != nil {
		return nil, err
	}

	ctx, span := e.inst.Start(ctx, "engine.Parse", string(h.ID()), attribute.Int("bytes", len(content)))
	defer func() { telemetry.End(span, err) }()

	if len(content) > e.largeInput {
		e.logger.Warn("parsing large input",
			slog.String("language", string(h.ID())),
			slog.Int("bytes", len(content)))
	}

	start := time.Now()
	inner, err := h.Parse(ctx, content, nil)
	if err != nil {
		e.inst.RecordParse(ctx, string(h.ID()), time.Since(start), 0, 0, err)
		return nil, fmt.Errorf("parse %s: %w", h.ID(), err)
	}
	tree := syntax.NewTree(h.ID(), h.Grammar(), inner, content)

	var meta Metadata
	if tree.HasError() && e.recoverer != nil {
		out, rerr := e.recoverer.Attempt(ctx, h, tree)
		switch {
		case rerr != nil && ctx.Err() != nil:
			tree.Close()
			return nil, rerr
		case rerr != nil:
			e.logger.Debug("recovery failed",
				slog.String("language", string(h.ID())),
				slog.String("error", rerr.Error()))
		default:
			if out.Recovered {
				tree.Close()
				tree = out.Tree
			}
			meta.RecoveryAttempts = out.Attempts
			meta.Recovered = out.Recovered
			meta.Repairs = out.Applied
			e.inst.RecordRecovery(ctx, string(h.ID()), out.Attempts, out.Recovered)
		}
	}

	res = e.result(tree, meta, time.Since(start))
	e.inst.RecordParse(ctx, string(h.ID()), res.Metadata.Duration, res.NodeCount, len(res.Errors), nil)
	return res, nil
}

// Recover runs the recoverer over tree regardless of WithRecovery. When
// recovery succeeds the result owns a new tree and tree is left as is;
// otherwise the result carries tree itself.
func (e *Engine) Recover(ctx context.Context, tree *syntax.Tree) (*ParseResult, error) {
	h, err := e.registry.Resolve(tree.Language())
	if err != nil {
		return nil, err
	}
	r := e.recoverer
	if r == nil {
		r = recovery.NewRecoverer(recovery.DefaultMaxAttempts, e.logger)
	}

	start := time.Now()
	out, err := r.Attempt(ctx, h, tree)
	if err != nil {
		return nil, err
	}
	e.inst.RecordRecovery(ctx, string(h.ID()), out.Attempts, out.Recovered)
	return e.result(out.Tree, Metadata{
		RecoveryAttempts: out.Attempts,
		Recovered:        out.Recovered,
		Repairs:          out.Applied,
	}, time.Since(start)), nil
}

// ApplyEdits applies batch to tree and reparses incrementally. tree is
// superseded on success; on failure it keeps its source and can be edited
// again.
func (e *Engine) ApplyEdits(ctx context.Context, tree *syntax.Tree, batch edit.Batch) (res *ParseResult, err error) {
	h, err := e.registry.Resolve(tree.Language())
	if err != nil {
		return nil, err
	}

	ctx, span := e.inst.Start(ctx, "engine.ApplyEdits", string(h.ID()), attribute.Int("operations", len(batch)))
	defer func() { telemetry.End(span, err) }()

	start := time.Now()
	next, err := edit.Apply(ctx, h, tree, batch)
	e.inst.RecordEdit(ctx, string(h.ID()), time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return e.result(next, Metadata{}, time.Since(start)), nil
}

// Diff returns the ranges of b that differ from a.
func (e *Engine) Diff(a, b *syntax.Tree) ([]syntax.Range, error) {
	return edit.Diff(a, b)
}

// ClassifyErrors returns the structured problems of tree.
func (e *Engine) ClassifyErrors(tree *syntax.Tree) []recovery.StructuredError {
	return recovery.Classify(tree)
}

// Close releases the compiler cache when the engine created it. The
// registry belongs to the caller.
func (e *Engine) Close() {
	if e.ownsCompiler {
		e.compiler.Close()
	}
}

func (e *Engine) result(tree *syntax.Tree, meta Metadata, d time.Duration) *ParseResult {
	errs := recovery.Classify(tree)
	meta.Language = tree.Language()
	meta.RootKind = tree.Root().Kind()
	meta.ByteLength = tree.Len()
	meta.Duration = d
	return &ParseResult{
		Tree:      tree,
		IsValid:   len(errs) == 0,
		NodeCount: tree.NodeCount(),
		LineCount: tree.LineCount(),
		Errors:    errs,
		Metadata:  meta,
	}
}
