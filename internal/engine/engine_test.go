//go:build cgo

package engine

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dusk-indust/sourcelens/internal/edit"
	"github.com/dusk-indust/sourcelens/internal/lang"
	"github.com/dusk-indust/sourcelens/internal/patterns"
	"github.com/dusk-indust/sourcelens/internal/query"
	"github.com/dusk-indust/sourcelens/internal/recovery"
	"github.com/dusk-indust/sourcelens/internal/syntax"
	"github.com/dusk-indust/sourcelens/internal/telemetry"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	reg := lang.NewRegistry()
	opts = append([]Option{WithInstruments(telemetry.Noop())}, opts...)
	e := New(reg, opts...)
	t.Cleanup(func() {
		e.Close()
		reg.Close()
	})
	return e
}

func mustParse(t *testing.T, e *Engine, src string, id lang.ID) *ParseResult {
	t.Helper()
	res, err := e.Parse(context.Background(), []byte(src), id)
	require.NoError(t, err)
	t.Cleanup(res.Close)
	return res
}

var snippets = map[lang.ID]string{
	lang.Go:               "package main\n\nfunc main() {}\n",
	lang.Python:           "def test(): pass\n",
	lang.Rust:             "fn main() {}\n",
	lang.TypeScript:       "function f(x: number): number { return x; }\n",
	lang.TSX:              "const a = <div>hi</div>;\n",
	lang.JavaScript:       "function f() { return 1; }\n",
	lang.JSX:              "const a = <div>hi</div>;\n",
	lang.Java:             "class A { void f() {} }\n",
	lang.C:                "int main(void) { return 0; }\n",
	lang.Cpp:              "class A { public: int f(); };\n",
	lang.Ruby:             "def f\n  1\nend\n",
	lang.JSON:             "{\"a\": [1, 2]}\n",
	lang.Bash:             "echo hi\n",
	lang.HTML:             "<p>hi</p>\n",
	lang.PHP:              "<?php echo 1;\n",
	lang.EmbeddedTemplate: "<% if x %>y<% end %>\n",
}

// ---------------------------------------------------------------------------
// Parse
// ---------------------------------------------------------------------------

func TestParse_MinimalSnippets(t *testing.T) {
	e := newEngine(t)
	for _, id := range e.Registry().Known() {
		src, ok := snippets[id]
		require.True(t, ok, "no snippet for %s", id)
		t.Run(string(id), func(t *testing.T) {
			res := mustParse(t, e, src, id)
			assert.True(t, res.IsValid, res.Tree.Root().Sexp())
			assert.Empty(t, res.Errors)
			assert.GreaterOrEqual(t, res.NodeCount, 1)
			assert.Equal(t, id, res.Metadata.Language)
			assert.Equal(t, len(src), res.Metadata.ByteLength)
			assert.NotEmpty(t, res.Metadata.RootKind)
		})
	}
}

func TestParse_EmptyFile(t *testing.T) {
	e := newEngine(t)
	res := mustParse(t, e, "", lang.Python)
	assert.True(t, res.IsValid)
	assert.Equal(t, 1, res.NodeCount)
	assert.Equal(t, "module", res.Metadata.RootKind)
	assert.Zero(t, res.Metadata.ByteLength)
}

func TestParse_FunctionQuery(t *testing.T) {
	e := newEngine(t)
	res := mustParse(t, e, "def test(): pass", lang.Python)
	require.True(t, res.IsValid)

	out, err := e.CompileAndRun(context.Background(), lang.Python, patterns.Function, res.Tree.Root())
	require.NoError(t, err)
	assert.Equal(t, []string{"test"}, out.Texts(patterns.Function.NameCapture()))
	assert.Equal(t, 1, out.Stats.MatchCount)
}

func TestParse_SyntaxError(t *testing.T) {
	const src = "def test() return 42"

	t.Run("reported without recovery", func(t *testing.T) {
		e := newEngine(t)
		res := mustParse(t, e, src, lang.Python)
		assert.False(t, res.IsValid)
		require.NotEmpty(t, res.Errors)
		for _, se := range res.Errors {
			assert.Equal(t, 1, se.Line)
		}
		assert.Zero(t, res.Metadata.RecoveryAttempts)
		assert.False(t, e.RecoveryEnabled())
	})

	t.Run("recovered when enabled", func(t *testing.T) {
		e := newEngine(t, WithRecovery(0))
		res := mustParse(t, e, src, lang.Python)
		assert.True(t, res.IsValid)
		assert.Empty(t, res.Errors)
		assert.True(t, res.Metadata.Recovered)
		assert.Positive(t, res.Metadata.RecoveryAttempts)
		require.Len(t, res.Metadata.Repairs, 1)
		assert.Equal(t, ":", res.Metadata.Repairs[0].Text)
		assert.Equal(t, "def test(): return 42", string(res.Tree.Source()))
	})

	t.Run("explicit recover keeps original", func(t *testing.T) {
		e := newEngine(t)
		res := mustParse(t, e, src, lang.Python)
		rec, err := e.Recover(context.Background(), res.Tree)
		require.NoError(t, err)
		require.True(t, rec.Metadata.Recovered)
		t.Cleanup(rec.Close)
		assert.True(t, rec.IsValid)
		assert.Equal(t, src, string(res.Tree.Source()))
		assert.Equal(t, syntax.Clean, res.Tree.State())

		reparsed := mustParse(t, e, string(rec.Tree.Source()), lang.Python)
		assert.True(t, reparsed.IsValid)
	})

	t.Run("classify matches result", func(t *testing.T) {
		e := newEngine(t)
		res := mustParse(t, e, src, lang.Python)
		got := e.ClassifyErrors(res.Tree)
		require.Len(t, got, len(res.Errors))
		for i := range got {
			assert.Equal(t, res.Errors[i].Message, got[i].Message)
		}
	})
}

func TestParse_UnsupportedLanguage(t *testing.T) {
	e := newEngine(t)
	_, err := e.Parse(context.Background(), []byte("x"), "cobol")
	assert.ErrorIs(t, err, lang.ErrUnsupportedLanguage)

	res := mustParse(t, e, "def f(): pass", lang.Python)
	_, err = e.CompileAndRun(context.Background(), "cobol", patterns.Function, res.Tree.Root())
	assert.ErrorIs(t, err, lang.ErrUnsupportedLanguage)
}

func TestParse_Cancelled(t *testing.T) {
	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Parse(ctx, []byte("def f(): pass\n"), lang.Python)
	assert.ErrorIs(t, err, lang.ErrParseCancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParse_Spans(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})
	inst, err := telemetry.NewInstruments(tp, mp)
	require.NoError(t, err)

	e := newEngine(t, WithInstruments(inst))
	res := mustParse(t, e, "def f(): pass", lang.Python)
	_, err = e.CompileAndRun(context.Background(), lang.Python, patterns.Function, res.Tree.Root())
	require.NoError(t, err)

	var names []string
	for _, s := range spans.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"engine.Parse", "engine.Query"}, names)
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func TestCompileAndRun(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	res := mustParse(t, e, "class A:\n    def f(self):\n        pass\n\ndef g():\n    pass\n", lang.Python)
	root := res.Tree.Root()

	t.Run("repeat queries return identical captures", func(t *testing.T) {
		first, err := e.CompileAndRun(ctx, lang.Python, patterns.Function, root)
		require.NoError(t, err)
		second, err := e.CompileAndRun(ctx, lang.Python, patterns.Function, root)
		require.NoError(t, err)
		assert.Equal(t, first.Texts("function.name"), second.Texts("function.name"))
		assert.Equal(t, []string{"f", "g"}, first.Texts("function.name"))
	})

	t.Run("default settings cover large files", func(t *testing.T) {
		const n = 300
		big := mustParse(t, e, strings.Repeat("def f():\n    x = [1, 2, 3]\n    return x\n", n), lang.Python)
		first, err := e.CompileAndRun(ctx, lang.Python, patterns.Function, big.Tree.Root())
		require.NoError(t, err)
		second, err := e.CompileAndRun(ctx, lang.Python, patterns.Function, big.Tree.Root())
		require.NoError(t, err)

		assert.False(t, first.Stats.TimedOut)
		assert.False(t, second.Stats.TimedOut)
		assert.Len(t, first.Texts("function.name"), n)
		assert.Equal(t, first.Texts("function.name"), second.Texts("function.name"))
		assert.Equal(t, first.Stats.MatchCount, second.Stats.MatchCount)
	})

	t.Run("overrides apply", func(t *testing.T) {
		o := newEngine(t, WithOptimizations(map[patterns.Category]patterns.Optimization{
			patterns.Function: {MaxStartDepth: 1},
		}))
		assert.Equal(t, uint32(1), o.Settings(patterns.Function, lang.Python).MaxStartDepth)
		assert.Equal(t, patterns.DefaultOptimization(patterns.Function, lang.Python).MatchLimit,
			o.Settings(patterns.Function, lang.Python).MatchLimit)

		other := mustParse(t, o, string(res.Tree.Source()), lang.Python)
		out, err := o.CompileAndRun(ctx, lang.Python, patterns.Function, other.Tree.Root())
		require.NoError(t, err)
		assert.Equal(t, []string{"g"}, out.Texts("function.name"))
	})

	t.Run("ad hoc pattern", func(t *testing.T) {
		out, err := e.RunQuery(ctx, lang.Python, `(identifier) @id`, root, patterns.Optimization{})
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "f", "self", "g"}, out.Texts("id"))
	})

	t.Run("invalid pattern", func(t *testing.T) {
		_, err := e.RunQuery(ctx, lang.Python, `(no_such_node) @x`, root, patterns.Optimization{})
		assert.ErrorIs(t, err, query.ErrInvalidPattern)
	})

	t.Run("session masks", func(t *testing.T) {
		s, err := e.Session(lang.Python, patterns.Function)
		require.NoError(t, err)
		s.DisableCapture("function.def")
		out, err := e.Execute(ctx, s, root)
		require.NoError(t, err)
		assert.Empty(t, out.Captures["function.def"])
		assert.Len(t, out.Captures["function.name"], 2)
	})

	t.Run("language mismatch", func(t *testing.T) {
		_, err := e.CompileAndRun(ctx, lang.Go, patterns.Function, root)
		assert.ErrorIs(t, err, edit.ErrLanguageMismatch)
	})

	t.Run("no pattern", func(t *testing.T) {
		_, err := e.CompileAndRun(ctx, lang.Python, patterns.Struct, root)
		assert.ErrorIs(t, err, patterns.ErrNoPattern)
	})
}

func TestCompileAndRun_CustomGrammar(t *testing.T) {
	reg := lang.NewRegistry(lang.WithGrammar("starlark", lang.Python, tree_sitter_python.Language(), ".star"))
	e := New(reg, WithInstruments(telemetry.Noop()))
	t.Cleanup(func() {
		e.Close()
		reg.Close()
	})

	res := mustParse(t, e, "def build(ctx):\n    pass\n", "starlark")
	out, err := e.CompileAndRun(context.Background(), "starlark", patterns.Function, res.Tree.Root())
	require.NoError(t, err)
	assert.Equal(t, []string{"build"}, out.Texts("function.name"))

	errs, err := e.CompileAndRun(context.Background(), "starlark", patterns.Error, res.Tree.Root())
	require.NoError(t, err)
	assert.Zero(t, errs.Stats.MatchCount)
}

// ---------------------------------------------------------------------------
// Edits
// ---------------------------------------------------------------------------

func TestApplyEdits(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	const src = "def test():\n    return 1\n"

	t.Run("length follows delta", func(t *testing.T) {
		res := mustParse(t, e, src, lang.Python)
		batch := edit.Batch{edit.NewOperation(4, 8, "check"), edit.Insert(uint(len(src)), "x = 2\n")}
		next, err := e.ApplyEdits(ctx, res.Tree, batch)
		require.NoError(t, err)
		t.Cleanup(next.Close)

		assert.Equal(t, len(src)-4+len("check")+len("x = 2\n"), next.Metadata.ByteLength)
		assert.True(t, next.IsValid)

		ranges, err := e.Diff(res.Tree, next.Tree)
		require.NoError(t, err)
		assert.True(t, edit.Covers(ranges, next.Tree.Edits()))
	})

	t.Run("touching edits rejected", func(t *testing.T) {
		res := mustParse(t, e, src, lang.Python)
		_, err := e.ApplyEdits(ctx, res.Tree, edit.Batch{edit.NewOperation(5, 5, "a"), edit.NewOperation(5, 6, "b")})
		assert.ErrorIs(t, err, edit.ErrOverlappingEdits)
		assert.Equal(t, syntax.Clean, res.Tree.State())
		assert.Equal(t, src, string(res.Tree.Source()))
	})

	t.Run("edit introduces error", func(t *testing.T) {
		res := mustParse(t, e, src, lang.Python)
		next, err := e.ApplyEdits(ctx, res.Tree, edit.Batch{edit.NewOperation(10, 11, "")})
		require.NoError(t, err)
		t.Cleanup(next.Close)
		assert.False(t, next.IsValid)
		assert.NotEmpty(t, next.Errors)
		assert.IsType(t, recovery.StructuredError{}, next.Errors[0])
	})
}

// ---------------------------------------------------------------------------
// ParseAll
// ---------------------------------------------------------------------------

func TestParseAll(t *testing.T) {
	var mu sync.Mutex
	var events []ProgressEvent
	e := newEngine(t, WithConcurrency(2), WithProgress(func(ev ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}))

	sources := []Source{
		{Name: "a.py", Content: []byte("def a(): pass\n"), Language: lang.Python},
		{Name: "b.go", Content: []byte("package b\n"), Language: lang.Go},
		{Name: "c.cob", Content: []byte("x"), Language: "cobol"},
		{Name: "d.py", Content: []byte("def d() return\n"), Language: lang.Python},
	}
	results, err := e.ParseAll(context.Background(), sources)
	require.NoError(t, err)
	require.Len(t, results, len(sources))
	for _, r := range results {
		if r.Result != nil {
			t.Cleanup(r.Result.Close)
		}
	}

	for i, r := range results {
		assert.Equal(t, sources[i].Name, r.Name)
	}
	assert.True(t, results[0].Result.IsValid)
	assert.True(t, results[1].Result.IsValid)
	assert.ErrorIs(t, results[2].Err, lang.ErrUnsupportedLanguage)
	assert.Nil(t, results[2].Result)
	assert.False(t, results[3].Result.IsValid)

	counts := make(map[ProgressStatus]int)
	for _, ev := range events {
		counts[ev.Status]++
	}
	assert.Equal(t, 4, counts[ProgressPending])
	assert.Equal(t, 4, counts[ProgressWorking])
	assert.Equal(t, 3, counts[ProgressComplete])
	assert.Equal(t, 1, counts[ProgressFailed])
}

func TestParseAll_Cancelled(t *testing.T) {
	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := e.ParseAll(ctx, []Source{{Name: "a.py", Content: []byte("x = 1\n"), Language: lang.Python}})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Result)
}

func TestFormatProgress(t *testing.T) {
	assert.Equal(t, "  ○ a.py (pending)", FormatProgress(ProgressEvent{Name: "a.py"}))
	assert.Equal(t, "  ✓ a.py ok", FormatProgress(ProgressEvent{Name: "a.py", Status: ProgressComplete, Message: "ok"}))
	assert.Equal(t, "  ✗ a.py failed: boom", FormatProgress(ProgressEvent{Name: "a.py", Status: ProgressFailed, Message: "boom"}))
}
