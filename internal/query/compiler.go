// Package query compiles tree-sitter query patterns and runs them against
// syntax trees with per-caller masks and limits.
package query

import (
	"errors"
	"fmt"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	"golang.org/x/sync/singleflight"

	"github.com/dusk-indust/sourcelens/internal/lang"
)

// ErrInvalidPattern is the sentinel wrapped by every InvalidPatternError.
var ErrInvalidPattern = errors.New("invalid query pattern")

// InvalidPatternError describes a pattern that tree-sitter rejected or
// that is not rooted. Index is the zero-based top-level pattern in the
// source the error falls in.
type InvalidPatternError struct {
	Language lang.ID
	Index    int
	Offset   uint
	Row      uint
	Column   uint
	Kind     string
	Message  string
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid %s pattern %d at %d:%d (%s): %s",
		e.Language, e.Index, e.Row+1, e.Column+1, e.Kind, e.Message)
}

func (e *InvalidPatternError) Unwrap() error { return ErrInvalidPattern }

// Grammar is what the compiler needs from a language handle.
type Grammar interface {
	ID() lang.ID
	Grammar() *tree_sitter.Language
}

type cacheKey struct {
	language lang.ID
	source   string
}

// Compiled is a compiled query shared by every session created from it.
// It is never modified after compilation.
type Compiled struct {
	language lang.ID
	source   string
	inner    *tree_sitter.Query
	captures []string
}

// Language returns the language the query was compiled for.
func (c *Compiled) Language() lang.ID { return c.language }

// Source returns the query source.
func (c *Compiled) Source() string { return c.source }

// PatternCount returns the number of top-level patterns.
func (c *Compiled) PatternCount() int { return int(c.inner.PatternCount()) }

// CaptureNames returns the capture names indexed by capture id.
func (c *Compiled) CaptureNames() []string { return c.captures }

// Compiler caches compiled queries by language and source. Concurrent
// compiles of the same key share one compilation.
type Compiler struct {
	mu    sync.RWMutex
	cache map[cacheKey]*Compiled
	group singleflight.Group
}

// NewCompiler returns an empty compiler.
func NewCompiler() *Compiler {
	return &Compiler{cache: make(map[cacheKey]*Compiled)}
}

// Compile returns the compiled query for src, compiling it on first use.
// Failures are not cached.
func (c *Compiler) Compile(g Grammar, src string) (*Compiled, error) {
	key := cacheKey{language: g.ID(), source: src}

	c.mu.RLock()
	q, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return q, nil
	}

	v, err, _ := c.group.Do(string(key.language)+"\x00"+src, func() (any, error) {
		c.mu.RLock()
		q, ok := c.cache[key]
		c.mu.RUnlock()
		if ok {
			return q, nil
		}

		q, err := compile(g, src)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[key] = q
		c.mu.Unlock()
		return q, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Compiled), nil
}

// Len returns the number of cached queries.
func (c *Compiler) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Close frees every cached query. Compiled values obtained earlier must not
// be used afterwards.
func (c *Compiler) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, q := range c.cache {
		q.inner.Close()
		delete(c.cache, k)
	}
}

func compile(g Grammar, src string) (*Compiled, error) {
	inner, qerr := tree_sitter.NewQuery(g.Grammar(), src)
	if qerr != nil {
		return nil, &InvalidPatternError{
			Language: g.ID(),
			Index:    patternIndexAt(src, qerr.Offset),
			Offset:   qerr.Offset,
			Row:      qerr.Row,
			Column:   qerr.Column,
			Kind:     errorKind(qerr.Kind),
			Message:  qerr.Message,
		}
	}

	for i := uint(0); i < inner.PatternCount(); i++ {
		if inner.IsPatternRooted(i) {
			continue
		}
		off := inner.StartByteForPattern(i)
		inner.Close()
		p := pointAt(src, off)
		return nil, &InvalidPatternError{
			Language: g.ID(),
			Index:    int(i),
			Offset:   off,
			Row:      p.Row,
			Column:   p.Column,
			Kind:     "structure",
			Message:  "pattern has no single root node",
		}
	}

	return &Compiled{
		language: g.ID(),
		source:   src,
		inner:    inner,
		captures: inner.CaptureNames(),
	}, nil
}

func errorKind(k tree_sitter.QueryErrorKind) string {
	switch k {
	case tree_sitter.QueryErrorSyntax:
		return "syntax"
	case tree_sitter.QueryErrorNodeType:
		return "node type"
	case tree_sitter.QueryErrorField:
		return "field"
	case tree_sitter.QueryErrorCapture:
		return "capture"
	case tree_sitter.QueryErrorPredicate:
		return "predicate"
	case tree_sitter.QueryErrorStructure:
		return "structure"
	case tree_sitter.QueryErrorLanguage:
		return "language"
	}
	return "unknown"
}

func pointAt(src string, off uint) tree_sitter.Point {
	var p tree_sitter.Point
	for i := uint(0); i < off && i < uint(len(src)); i++ {
		if src[i] == '\n' {
			p.Row++
			p.Column = 0
		} else {
			p.Column++
		}
	}
	return p
}
