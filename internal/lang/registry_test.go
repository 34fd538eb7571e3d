//go:build cgo

package lang

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// TestRegistry_Resolve
// ---------------------------------------------------------------------------

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	t.Run("known language", func(t *testing.T) {
		h, err := r.Resolve(Python)
		require.NoError(t, err)
		assert.Equal(t, Python, h.ID())
		assert.NotNil(t, h.Grammar())
	})

	t.Run("cached handle is reused", func(t *testing.T) {
		a, err := r.Resolve(Go)
		require.NoError(t, err)
		b, err := r.Resolve("GO")
		require.NoError(t, err)
		assert.Same(t, a, b)
	})

	t.Run("alias resolves to canonical id", func(t *testing.T) {
		h, err := r.Resolve("py")
		require.NoError(t, err)
		assert.Equal(t, Python, h.ID())
	})

	t.Run("dialect reports its base", func(t *testing.T) {
		h, err := r.Resolve(TSX)
		require.NoError(t, err)
		assert.Equal(t, TypeScript, h.Base())
	})

	t.Run("unsupported language", func(t *testing.T) {
		_, err := r.Resolve("cobol")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnsupportedLanguage)
	})
}

func TestRegistry_ConcurrentResolveCreatesOneHandle(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	const workers = 32
	handles := make([]*Handle, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := r.Resolve(Rust)
			assert.NoError(t, err)
			handles[i] = h
		}()
	}
	wg.Wait()

	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
	assert.Equal(t, int64(1), r.Created())
}

// ---------------------------------------------------------------------------
// TestRegistry_Release
// ---------------------------------------------------------------------------

func TestRegistry_Release(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	old, err := r.Resolve(Python)
	require.NoError(t, err)

	r.Release(Python)

	_, err = old.Parse(context.Background(), []byte("x = 1\n"), nil)
	assert.ErrorIs(t, err, ErrHandleReleased)

	fresh, err := r.Resolve(Python)
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)
	assert.Equal(t, int64(2), r.Created())

	// Releasing something never resolved is harmless.
	r.Release(JSON)
	r.Release("cobol")
}

// ---------------------------------------------------------------------------
// TestHandle_Parse
// ---------------------------------------------------------------------------

func TestHandle_Parse(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	t.Run("minimal snippets", func(t *testing.T) {
		snippets := map[ID]string{
			Go:         "package main\n",
			Python:     "def test(): pass\n",
			Rust:       "fn main() {}\n",
			TypeScript: "let x: number = 1;\n",
			TSX:        "const a = <div />;\n",
			JavaScript: "function f() {}\n",
			JSX:        "const a = <div />;\n",
			Java:       "class A {}\n",
			C:          "int main(void) { return 0; }\n",
			Cpp:        "namespace n { int x; }\n",
			Ruby:       "def hi; end\n",
			JSON:       "{\"a\": 1}\n",
			Bash:       "echo hi\n",
			HTML:       "<p>hi</p>\n",
			PHP:        "<?php function f() { return 1; }\n",

			EmbeddedTemplate: "<p><%= name %></p>\n",
		}
		for id, src := range snippets {
			t.Run(string(id), func(t *testing.T) {
				h, err := r.Resolve(id)
				require.NoError(t, err)
				tree, err := h.Parse(context.Background(), []byte(src), nil)
				require.NoError(t, err)
				defer tree.Close()
				assert.False(t, tree.RootNode().HasError(), "snippet should parse cleanly: %q", src)
			})
		}
	})

	t.Run("empty input", func(t *testing.T) {
		h, err := r.Resolve(Python)
		require.NoError(t, err)
		tree, err := h.Parse(context.Background(), nil, nil)
		require.NoError(t, err)
		defer tree.Close()
		assert.Equal(t, "module", tree.RootNode().Kind())
	})

	t.Run("cancelled context", func(t *testing.T) {
		h, err := r.Resolve(Python)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		src := []byte(strings.Repeat("value = compute(1, 2, 3)\n", 50000))
		_, err = h.Parse(ctx, src, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrParseCancelled)
		assert.ErrorIs(t, err, context.Canceled)

		// The parser must be usable again after a cancelled run.
		tree, err := h.Parse(context.Background(), []byte("x = 1\n"), nil)
		require.NoError(t, err)
		tree.Close()
	})
}

// ---------------------------------------------------------------------------
// TestRegistry_Lookup
// ---------------------------------------------------------------------------

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		want ID
	}{
		{"main.go", Go},
		{"pkg/mod.py", Python},
		{"lib.rs", Rust},
		{"App.tsx", TSX},
		{"app.jsx", JSX},
		{"index.ts", TypeScript},
		{"header.h", C},
		{"header.hpp", Cpp},
		{"rb", Ruby},
		{".json", JSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.ForExtension(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := r.ForExtension("notes.txt")
	assert.False(t, ok)

	assert.True(t, r.Supported("golang"))
	assert.False(t, r.Supported("cobol"))
	assert.Equal(t, JavaScript, r.Base(JSX))
	assert.Equal(t, ID(""), r.Base(Python))
	assert.Contains(t, r.Known(), HTML)
	assert.Len(t, r.Known(), 16)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, Cpp, Normalize(" C++ "))
	assert.Equal(t, Cpp, Normalize("hpp"))
	assert.Equal(t, Bash, Normalize("sh"))
	assert.Equal(t, ID("cobol"), Normalize("COBOL"))
	assert.True(t, Builtin("ts"))
	assert.False(t, Builtin("cobol"))
	assert.Equal(t, TypeScript, BaseOf(TSX))
}
