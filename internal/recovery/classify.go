// Package recovery reports syntax problems in parsed trees and attempts
// bounded single-token repairs.
package recovery

import (
	"fmt"
	"slices"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dusk-indust/sourcelens/internal/syntax"
)

// Kind distinguishes unexpected input from tokens the parser had to invent.
type Kind string

const (
	SyntaxError  Kind = "syntax_error"
	MissingToken Kind = "missing_token"
)

const (
	maxExpected   = 16
	maxSnippetLen = 40
)

// StructuredError is one problem found in a tree. Line and Column are
// 1-based; Column counts bytes.
type StructuredError struct {
	Kind      Kind     `json:"kind"`
	Message   string   `json:"message"`
	Line      int      `json:"line"`
	Column    int      `json:"column"`
	StartByte uint     `json:"startByte"`
	EndByte   uint     `json:"endByte"`
	NodeKind  string   `json:"nodeKind"`
	Expected  []string `json:"expected,omitempty"`
	// Context is the first line of the offending text.
	Context string `json:"context,omitempty"`
	// Previous is the kind of the closest preceding sibling that parsed
	// cleanly.
	Previous string `json:"previous,omitempty"`

	Node syntax.Node `json:"-"`
}

func (e StructuredError) Error() string { return e.Message }

// Classify returns the error and missing nodes of tree in document order.
func Classify(tree *syntax.Tree) []StructuredError {
	root := tree.Root()
	if !root.HasError() {
		return nil
	}
	var out []StructuredError
	for _, n := range syntax.FindProblems(root) {
		out = append(out, describe(tree, n))
	}
	return out
}

func describe(tree *syntax.Tree, n syntax.Node) StructuredError {
	p := n.StartPoint()
	e := StructuredError{
		Line:      int(p.Row) + 1,
		Column:    int(p.Column) + 1,
		StartByte: n.StartByte(),
		EndByte:   n.EndByte(),
		NodeKind:  n.Kind(),
		Previous:  previousValid(n),
		Node:      n,
	}
	if n.IsMissing() {
		e.Kind = MissingToken
		e.Expected = []string{n.Kind()}
		e.Message = fmt.Sprintf("missing %q at line %d, column %d", n.Kind(), e.Line, e.Column)
		return e
	}

	e.Kind = SyntaxError
	e.Context = snippet(n.Text())
	e.Expected = expectedBefore(tree.Grammar(), n)
	e.Message = fmt.Sprintf("syntax error at line %d, column %d: unexpected %q", e.Line, e.Column, e.Context)
	return e
}

// expectedBefore lists the symbols the parser would have accepted where
// the error starts, taken from the state after the last leaf before it.
func expectedBefore(grammar *tree_sitter.Language, n syntax.Node) []string {
	state := n.ParseState()
	if leaf, ok := leafBefore(n); ok && leaf.NextParseState() != 0 {
		state = leaf.NextParseState()
	}
	return visibleLookahead(grammar, state, maxExpected)
}

// Lookahead returns the names of the symbols valid in a parse state.
func Lookahead(grammar *tree_sitter.Language, state uint16) []string {
	return visibleLookahead(grammar, state, 0)
}

func visibleLookahead(grammar *tree_sitter.Language, state uint16, limit int) []string {
	it := grammar.LookaheadIterator(state)
	if it == nil {
		return nil
	}
	defer it.Close()

	var out []string
	for _, name := range it.IterNames() {
		if name == "" || strings.HasPrefix(name, "_") || name == "ERROR" || name == "end" {
			continue
		}
		if slices.Contains(out, name) {
			continue
		}
		out = append(out, name)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// leafBefore returns the last leaf that ends at or before n starts.
func leafBefore(n syntax.Node) (syntax.Node, bool) {
	for cur := n; ; {
		prev, ok := cur.PrevSibling()
		if ok {
			return lastLeaf(prev), true
		}
		parent, ok := cur.Parent()
		if !ok {
			return syntax.Node{}, false
		}
		cur = parent
	}
}

func lastLeaf(n syntax.Node) syntax.Node {
	for n.ChildCount() > 0 {
		last, ok := n.Child(n.ChildCount() - 1)
		if !ok {
			break
		}
		n = last
	}
	return n
}

func previousValid(n syntax.Node) string {
	for prev, ok := n.PrevSibling(); ok; prev, ok = prev.PrevSibling() {
		if !prev.IsError() && !prev.IsMissing() {
			return prev.Kind()
		}
	}
	return ""
}

func snippet(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	if len(text) > maxSnippetLen {
		text = text[:maxSnippetLen] + "..."
	}
	return text
}
