//go:build cgo

package query

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/sourcelens/internal/lang"
	"github.com/dusk-indust/sourcelens/internal/patterns"
	"github.com/dusk-indust/sourcelens/internal/syntax"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fixture struct {
	reg *lang.Registry
	h   *lang.Handle
}

func newFixture(t *testing.T, id lang.ID) *fixture {
	t.Helper()
	reg := lang.NewRegistry()
	t.Cleanup(func() { reg.Close() })
	h, err := reg.Resolve(id)
	require.NoError(t, err)
	return &fixture{reg: reg, h: h}
}

func (f *fixture) parse(t *testing.T, src string) *syntax.Tree {
	t.Helper()
	inner, err := f.h.Parse(context.Background(), []byte(src), nil)
	require.NoError(t, err)
	tree := syntax.NewTree(f.h.ID(), f.h.Grammar(), inner, []byte(src))
	t.Cleanup(tree.Close)
	return tree
}

func newCompiler(t *testing.T) *Compiler {
	t.Helper()
	c := NewCompiler()
	t.Cleanup(c.Close)
	return c
}

const twoFuncs = `def a():
    pass

class K:
    pass

def b():
    pass
`

const fnAndClass = "(function_definition name: (identifier) @fn)\n(class_definition name: (identifier) @cls)"

// ---------------------------------------------------------------------------
// Compile
// ---------------------------------------------------------------------------

func TestCompile_BuiltinPatterns(t *testing.T) {
	reg := lang.NewRegistry()
	defer reg.Close()
	c := newCompiler(t)

	for _, id := range reg.Known() {
		h, err := reg.Resolve(id)
		require.NoError(t, err)
		for _, cat := range patterns.Categories(id) {
			t.Run(string(id)+"/"+string(cat), func(t *testing.T) {
				p, err := patterns.Lookup(id, cat)
				require.NoError(t, err)
				q, err := c.Compile(h, p.Source)
				require.NoError(t, err)
				assert.Positive(t, q.PatternCount())
				for _, name := range p.Captures {
					assert.Contains(t, q.CaptureNames(), name)
				}
			})
		}
	}
}

func TestCompile_Cache(t *testing.T) {
	f := newFixture(t, lang.Python)
	c := newCompiler(t)

	first, err := c.Compile(f.h, fnAndClass)
	require.NoError(t, err)
	second, err := c.Compile(f.h, fnAndClass)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, lang.Python, first.Language())
	assert.Equal(t, 2, first.PatternCount())
	assert.Equal(t, []string{"fn", "cls"}, first.CaptureNames())

	t.Run("concurrent compiles share one query", func(t *testing.T) {
		const src = "(identifier) @id"
		var wg sync.WaitGroup
		got := make([]*Compiled, 16)
		for i := range got {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				q, err := c.Compile(f.h, src)
				if err == nil {
					got[i] = q
				}
			}(i)
		}
		wg.Wait()
		for _, q := range got {
			assert.Same(t, got[0], q)
		}
		assert.Equal(t, 2, c.Len())
	})

	t.Run("keyed by language", func(t *testing.T) {
		js, err := f.reg.Resolve(lang.JavaScript)
		require.NoError(t, err)
		q, err := c.Compile(js, "(identifier) @id")
		require.NoError(t, err)
		assert.Equal(t, lang.JavaScript, q.Language())
		assert.Equal(t, 3, c.Len())
	})
}

func TestCompile_InvalidPattern(t *testing.T) {
	f := newFixture(t, lang.Python)

	tests := []struct {
		name  string
		src   string
		index int
		kind  string
	}{
		{"unknown node kind", "(function_definition) @a\n(no_such_node) @b", 1, "node type"},
		{"unknown field", "(function_definition nope: (identifier)) @a", 0, "field"},
		{"unbalanced", "(identifier) @a\n(call (identifier) @b", 1, "syntax"},
		{"not rooted", "(identifier) @a\n((comment) @b (function_definition) @c)", 1, "structure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCompiler(t)
			_, err := c.Compile(f.h, tt.src)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPattern)

			var ipe *InvalidPatternError
			require.True(t, errors.As(err, &ipe))
			assert.Equal(t, tt.index, ipe.Index)
			assert.Equal(t, tt.kind, ipe.Kind)
			assert.Equal(t, lang.Python, ipe.Language)
			assert.Equal(t, 0, c.Len())
		})
	}
}

// ---------------------------------------------------------------------------
// Execute
// ---------------------------------------------------------------------------

func TestExecute_FunctionName(t *testing.T) {
	f := newFixture(t, lang.Python)
	tree := f.parse(t, "def test(): pass")
	require.False(t, tree.HasError())

	p, err := patterns.Lookup(lang.Python, patterns.Function)
	require.NoError(t, err)
	q, err := newCompiler(t).Compile(f.h, p.Source)
	require.NoError(t, err)

	res, err := NewSession(q, patterns.DefaultOptimization(patterns.Function, lang.Python)).
		Execute(context.Background(), tree.Root())
	require.NoError(t, err)

	assert.Equal(t, []string{"test"}, res.Texts(patterns.Function.NameCapture()))
	assert.Len(t, res.Captures[patterns.Function.DefCapture()], 1)
	assert.Equal(t, 1, res.Stats.MatchCount)
	assert.False(t, res.Stats.ExceededMatchLimit)
	assert.False(t, res.Stats.TimedOut)
}

func TestExecute_Masks(t *testing.T) {
	f := newFixture(t, lang.Python)
	tree := f.parse(t, twoFuncs)
	q, err := newCompiler(t).Compile(f.h, fnAndClass)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("unmasked in document order", func(t *testing.T) {
		res, err := NewSession(q, patterns.Optimization{}).Execute(ctx, tree.Root())
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, res.Texts("fn"))
		assert.Equal(t, []string{"K"}, res.Texts("cls"))
		assert.Equal(t, 3, res.Stats.MatchCount)
		assert.Equal(t, 3, res.Stats.CaptureCount)
	})

	t.Run("disabled pattern", func(t *testing.T) {
		s := NewSession(q, patterns.Optimization{})
		require.NoError(t, s.DisablePattern(1))
		res, err := s.Execute(ctx, tree.Root())
		require.NoError(t, err)
		assert.Empty(t, res.Captures["cls"])
		assert.Len(t, res.Captures["fn"], 2)

		s.EnablePattern(1)
		res, err = s.Execute(ctx, tree.Root())
		require.NoError(t, err)
		assert.Len(t, res.Captures["cls"], 1)
	})

	t.Run("disabled capture", func(t *testing.T) {
		s := NewSession(q, patterns.Optimization{})
		s.DisableCapture("fn")
		res, err := s.Execute(ctx, tree.Root())
		require.NoError(t, err)
		assert.Empty(t, res.Captures["fn"])
		assert.Equal(t, []string{"K"}, res.Texts("cls"))
	})

	t.Run("masks are per session", func(t *testing.T) {
		masked := NewSession(q, patterns.Optimization{})
		require.NoError(t, masked.DisablePattern(0))
		res, err := NewSession(q, patterns.Optimization{}).Execute(ctx, tree.Root())
		require.NoError(t, err)
		assert.Len(t, res.Captures["fn"], 2)
	})

	t.Run("pattern index out of range", func(t *testing.T) {
		s := NewSession(q, patterns.Optimization{})
		assert.Error(t, s.DisablePattern(2))
		assert.Error(t, s.DisablePattern(-1))
	})
}

func TestExecute_Settings(t *testing.T) {
	f := newFixture(t, lang.Python)
	ctx := context.Background()
	c := newCompiler(t)

	t.Run("byte range", func(t *testing.T) {
		tree := f.parse(t, twoFuncs)
		q, err := c.Compile(f.h, fnAndClass)
		require.NoError(t, err)
		start := uint(strings.Index(twoFuncs, "def b"))
		s := NewSession(q, patterns.Optimization{
			ByteRange: &patterns.ByteRange{Start: start, End: uint(len(twoFuncs))},
		})
		res, err := s.Execute(ctx, tree.Root())
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, res.Texts("fn"))
		assert.Empty(t, res.Captures["cls"])
	})

	t.Run("point range", func(t *testing.T) {
		tree := f.parse(t, twoFuncs)
		q, err := c.Compile(f.h, fnAndClass)
		require.NoError(t, err)
		s := NewSession(q, patterns.Optimization{
			PointRange: &patterns.PointRange{End: syntax.Point{Row: 2}},
		})
		res, err := s.Execute(ctx, tree.Root())
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, res.Texts("fn"))
	})

	t.Run("max start depth", func(t *testing.T) {
		tree := f.parse(t, "class K:\n    def m(self):\n        pass\n")
		q, err := c.Compile(f.h, "(function_definition name: (identifier) @fn)")
		require.NoError(t, err)

		res, err := NewSession(q, patterns.Optimization{MaxStartDepth: 1}).Execute(ctx, tree.Root())
		require.NoError(t, err)
		assert.Empty(t, res.Captures["fn"])

		res, err = NewSession(q, patterns.Optimization{MaxStartDepth: 3}).Execute(ctx, tree.Root())
		require.NoError(t, err)
		assert.Equal(t, []string{"m"}, res.Texts("fn"))
	})

	t.Run("match limit exceeded is a soft signal", func(t *testing.T) {
		ids := make([]string, 60)
		for i := range ids {
			ids[i] = "x"
		}
		tree := f.parse(t, "["+strings.Join(ids, ", ")+"]\n")
		q, err := c.Compile(f.h, "(list (identifier) @pre (identifier) @post)")
		require.NoError(t, err)

		res, err := NewSession(q, patterns.Optimization{MatchLimit: 4}).Execute(ctx, tree.Root())
		require.NoError(t, err)
		assert.True(t, res.Stats.ExceededMatchLimit)
	})
}

func TestExecute_Interrupts(t *testing.T) {
	f := newFixture(t, lang.Python)
	tree := f.parse(t, strings.Repeat("value = compute(1, 2)\n", 20000))
	q, err := newCompiler(t).Compile(f.h, "(call function: (identifier) @fn)")
	require.NoError(t, err)

	t.Run("timeout yields partial result", func(t *testing.T) {
		res, err := NewSession(q, patterns.Optimization{Timeout: 1}).Execute(context.Background(), tree.Root())
		require.NoError(t, err)
		assert.True(t, res.Stats.TimedOut)
		assert.Less(t, res.Stats.MatchCount, 20000)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewSession(q, patterns.Optimization{}).Execute(ctx, tree.Root())
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestExecute_StaleNode(t *testing.T) {
	f := newFixture(t, lang.Python)
	inner, err := f.h.Parse(context.Background(), []byte("x = 1\n"), nil)
	require.NoError(t, err)
	tree := syntax.NewTree(f.h.ID(), f.h.Grammar(), inner, []byte("x = 1\n"))
	root := tree.Root()
	tree.Close()

	q, err := newCompiler(t).Compile(f.h, "(identifier) @id")
	require.NoError(t, err)
	_, err = NewSession(q, patterns.Optimization{}).Execute(context.Background(), root)
	assert.ErrorIs(t, err, syntax.ErrStaleNode)
}

func TestExecute_ConcurrentReaders(t *testing.T) {
	f := newFixture(t, lang.Python)
	tree := f.parse(t, twoFuncs)
	q, err := newCompiler(t).Compile(f.h, fnAndClass)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	counts := make([]int, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := NewSession(q, patterns.Optimization{}).Execute(context.Background(), tree.Root())
			errs[i] = err
			if err == nil {
				counts[i] = res.Stats.MatchCount
			}
		}(i)
	}
	wg.Wait()
	for i := range errs {
		assert.NoError(t, errs[i])
		assert.Equal(t, 3, counts[i])
	}
}
