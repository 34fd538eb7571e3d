package syntax

import (
	"fmt"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// RenderOptions control Render output.
type RenderOptions struct {
	NamedOnly bool
	// ShowText appends the source text of leaves.
	ShowText bool
	// MaxDepth stops descending below this depth. Zero means unlimited.
	MaxDepth int
	Indent   string
}

// Render draws the subtree under n as an indented outline, one node per
// line with its 1-based start and end positions:
//
//	module [1:1-2:1]
//	  function_definition [1:1-1:17]
//	    name: identifier [1:5-1:9] "test"
func Render(n Node, opts RenderOptions) string {
	raw, err := n.Raw()
	if err != nil {
		return ""
	}
	if opts.Indent == "" {
		opts.Indent = "  "
	}

	var b strings.Builder
	c := raw.Walk()
	defer c.Close()

	for {
		cur := c.Node()
		depth := int(c.Depth())
		if !opts.NamedOnly || cur.IsNamed() {
			writeLine(&b, n, cur, c.FieldName(), depth, opts)
		}
		descend := opts.MaxDepth == 0 || depth < opts.MaxDepth
		if descend && c.GotoFirstChild() {
			continue
		}
		done := false
		for !c.GotoNextSibling() {
			if !c.GotoParent() {
				done = true
				break
			}
		}
		if done {
			break
		}
	}
	return b.String()
}

func writeLine(b *strings.Builder, owner Node, cur *tree_sitter.Node, field string, depth int, opts RenderOptions) {
	b.WriteString(strings.Repeat(opts.Indent, depth))
	if field != "" {
		b.WriteString(field)
		b.WriteString(": ")
	}
	kind := cur.Kind()
	switch {
	case cur.IsMissing():
		kind = "MISSING " + kind
	case !cur.IsNamed():
		kind = fmt.Sprintf("%q", kind)
	}
	s, e := cur.StartPosition(), cur.EndPosition()
	fmt.Fprintf(b, "%s [%d:%d-%d:%d]", kind, s.Row+1, s.Column+1, e.Row+1, e.Column+1)
	if opts.ShowText && cur.ChildCount() == 0 && cur.IsNamed() {
		fmt.Fprintf(b, " %q", cur.Utf8Text(owner.tree.source))
	}
	b.WriteByte('\n')
}
