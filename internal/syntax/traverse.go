package syntax

import (
	"iter"
	"slices"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// visit walks the subtree under n in pre-order with a tree cursor: first
// child, then next sibling, then back up to the parent and retry. fn
// decides per node whether to descend and whether to stop.
func visit(n Node, fn func(raw *tree_sitter.Node) (descend, stop bool)) {
	raw, err := n.Raw()
	if err != nil {
		return
	}
	c := raw.Walk()
	defer c.Close()

	for {
		descend, stop := fn(c.Node())
		if stop {
			return
		}
		if descend && c.GotoFirstChild() {
			continue
		}
		for !c.GotoNextSibling() {
			if !c.GotoParent() {
				return
			}
		}
	}
}

// Walk yields n and its descendants in pre-order. Each call starts a fresh
// cursor, so the sequence is restartable; breaking out early releases it.
func Walk(n Node) iter.Seq[Node] {
	return func(yield func(Node) bool) {
		visit(n, func(raw *tree_sitter.Node) (bool, bool) {
			return true, !yield(n.Wrap(*raw))
		})
	}
}

// FindByType returns the nodes under root whose kind is one of kinds.
func FindByType(root Node, kinds ...string) []Node {
	var out []Node
	for n := range Walk(root) {
		if slices.Contains(kinds, n.Kind()) {
			out = append(out, n)
		}
	}
	return out
}

// FindByText returns the nodes under root whose source text equals text,
// outermost first.
func FindByText(root Node, text string) []Node {
	var out []Node
	want := uint(len(text))
	for n := range Walk(root) {
		if n.EndByte()-n.StartByte() == want && n.Text() == text {
			out = append(out, n)
		}
	}
	return out
}

// FindParentOfType returns the nearest strict ancestor of n whose kind is
// one of kinds.
func FindParentOfType(n Node, kinds ...string) (Node, bool) {
	for p, ok := n.Parent(); ok; p, ok = p.Parent() {
		if slices.Contains(kinds, p.Kind()) {
			return p, true
		}
	}
	return Node{}, false
}

// FindErrorNodes returns the ERROR nodes under root in document order.
// Subtrees without errors are skipped.
func FindErrorNodes(root Node) []Node {
	return collectProblems(root, func(raw *tree_sitter.Node) bool { return raw.IsError() })
}

// FindMissingNodes returns the tokens the parser inserted to recover.
func FindMissingNodes(root Node) []Node {
	return collectProblems(root, func(raw *tree_sitter.Node) bool { return raw.IsMissing() })
}

// FindProblems returns error and missing nodes together, in document
// order.
func FindProblems(root Node) []Node {
	return collectProblems(root, func(raw *tree_sitter.Node) bool {
		return raw.IsError() || raw.IsMissing()
	})
}

func collectProblems(root Node, match func(*tree_sitter.Node) bool) []Node {
	var out []Node
	visit(root, func(raw *tree_sitter.Node) (bool, bool) {
		if match(raw) {
			out = append(out, root.Wrap(*raw))
		}
		return raw.HasError(), false
	})
	return out
}

// NodeAtPoint returns the smallest named node under root containing p,
// found by descending into the first child that contains the point. A
// point on a node's end boundary only counts as inside at end of file, so
// a cursor placed after the last byte still resolves.
func NodeAtPoint(root Node, p Point) (Node, bool) {
	if !root.Valid() {
		return Node{}, false
	}
	eof := EndPoint(root.tree.source)
	if !containsPoint(root, p, eof) {
		return Node{}, false
	}

	best := root
	for n := root; ; {
		next, ok := childContaining(n, p, eof)
		if !ok {
			break
		}
		if next.IsNamed() {
			best = next
		}
		n = next
	}
	return best, true
}

func childContaining(n Node, p Point, eof Point) (Node, bool) {
	for _, c := range n.Children() {
		if containsPoint(c, p, eof) {
			return c, true
		}
	}
	return Node{}, false
}

// NodesInRange returns the named nodes fully contained in [start, end),
// in pre-order. The search starts from the smallest node enclosing the
// range and filters its subtree.
func NodesInRange(root Node, start, end Point) []Node {
	raw, err := root.Raw()
	if err != nil || ComparePoints(end, start) < 0 {
		return nil
	}
	anc := enclosing(root, raw.DescendantForPointRange(start, end), func(n Node) bool {
		return ComparePoints(n.StartPoint(), start) <= 0 && ComparePoints(end, n.EndPoint()) <= 0
	})

	var out []Node
	for n := range Walk(anc) {
		if !n.IsNamed() {
			continue
		}
		if ComparePoints(n.StartPoint(), start) >= 0 && ComparePoints(n.EndPoint(), end) <= 0 {
			out = append(out, n)
		}
	}
	return out
}

// NodesInByteRange is NodesInRange over byte offsets.
func NodesInByteRange(root Node, start, end uint) []Node {
	raw, err := root.Raw()
	if err != nil || end < start {
		return nil
	}
	anc := enclosing(root, raw.DescendantForByteRange(start, end), func(n Node) bool {
		return n.StartByte() <= start && end <= n.EndByte()
	})

	var out []Node
	for n := range Walk(anc) {
		if n.IsNamed() && n.StartByte() >= start && n.EndByte() <= end {
			out = append(out, n)
		}
	}
	return out
}

// enclosing climbs from d until encloses holds, stopping at root.
func enclosing(root Node, d *tree_sitter.Node, encloses func(Node) bool) Node {
	if d == nil {
		return root
	}
	n := root.Wrap(*d)
	for !encloses(n) && !n.Equal(root) {
		parent, ok := n.Parent()
		if !ok {
			return root
		}
		n = parent
	}
	return n
}

func containsPoint(n Node, p Point, eof Point) bool {
	start, end := n.StartPoint(), n.EndPoint()
	if ComparePoints(p, start) < 0 {
		return false
	}
	if ComparePoints(p, end) < 0 {
		return true
	}
	return p == end && end == eof
}

// ComparePoints orders points by row, then column.
func ComparePoints(a, b Point) int {
	switch {
	case a.Row < b.Row:
		return -1
	case a.Row > b.Row:
		return 1
	case a.Column < b.Column:
		return -1
	case a.Column > b.Column:
		return 1
	}
	return 0
}
