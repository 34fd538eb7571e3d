package syntax

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// Node is a handle into a Tree. It is only valid while the tree keeps the
// generation the handle was created with; once the tree is superseded by
// an edit or closed, every accessor returns the zero value.
type Node struct {
	tree *Tree
	gen  uint64
	raw  tree_sitter.Node
}

// Valid reports whether the node still refers to a live tree generation.
func (n Node) Valid() bool {
	return n.tree != nil && n.tree.gen.Load() == n.gen
}

// Raw returns the tree-sitter node, or ErrStaleNode.
func (n Node) Raw() (*tree_sitter.Node, error) {
	if !n.Valid() {
		return nil, ErrStaleNode
	}
	raw := n.raw
	return &raw, nil
}

// Wrap returns a handle for raw, which must belong to the same tree. The
// handle shares n's generation.
func (n Node) Wrap(raw tree_sitter.Node) Node {
	return Node{tree: n.tree, gen: n.gen, raw: raw}
}

func (n Node) wrapPtr(raw *tree_sitter.Node) (Node, bool) {
	if raw == nil {
		return Node{}, false
	}
	return n.Wrap(*raw), true
}

// Tree returns the owning tree.
func (n Node) Tree() *Tree { return n.tree }

// ID returns the tree-sitter node id, unique within a tree.
func (n Node) ID() uintptr {
	if !n.Valid() {
		return 0
	}
	return n.raw.Id()
}

func (n Node) Kind() string {
	if !n.Valid() {
		return ""
	}
	return n.raw.Kind()
}

func (n Node) IsNamed() bool { return n.Valid() && n.raw.IsNamed() }

// IsError reports an explicit ERROR node.
func (n Node) IsError() bool { return n.Valid() && n.raw.IsError() }

// IsMissing reports a token the parser inserted to recover.
func (n Node) IsMissing() bool { return n.Valid() && n.raw.IsMissing() }

// HasError reports whether the node or a descendant is an error or
// missing node.
func (n Node) HasError() bool { return n.Valid() && n.raw.HasError() }

func (n Node) IsExtra() bool { return n.Valid() && n.raw.IsExtra() }

func (n Node) StartByte() uint {
	if !n.Valid() {
		return 0
	}
	return n.raw.StartByte()
}

func (n Node) EndByte() uint {
	if !n.Valid() {
		return 0
	}
	return n.raw.EndByte()
}

func (n Node) StartPoint() Point {
	if !n.Valid() {
		return Point{}
	}
	return n.raw.StartPosition()
}

func (n Node) EndPoint() Point {
	if !n.Valid() {
		return Point{}
	}
	return n.raw.EndPosition()
}

func (n Node) Range() Range {
	if !n.Valid() {
		return Range{}
	}
	return n.raw.Range()
}

// ParseState and NextParseState expose the parser states around the
// node, used for lookahead queries.
func (n Node) ParseState() uint16 {
	if !n.Valid() {
		return 0
	}
	return n.raw.ParseState()
}

func (n Node) NextParseState() uint16 {
	if !n.Valid() {
		return 0
	}
	return n.raw.NextParseState()
}

// Text returns the source text the node spans.
func (n Node) Text() string {
	if !n.Valid() {
		return ""
	}
	return n.raw.Utf8Text(n.tree.source)
}

func (n Node) ChildCount() uint {
	if !n.Valid() {
		return 0
	}
	return n.raw.ChildCount()
}

func (n Node) Child(i uint) (Node, bool) {
	if !n.Valid() {
		return Node{}, false
	}
	return n.wrapPtr(n.raw.Child(i))
}

// ChildByField returns the first child stored under a grammar field.
func (n Node) ChildByField(name string) (Node, bool) {
	if !n.Valid() {
		return Node{}, false
	}
	return n.wrapPtr(n.raw.ChildByFieldName(name))
}

// Children returns all children, named and anonymous.
func (n Node) Children() []Node {
	return n.children(false)
}

// NamedChildren returns the named children.
func (n Node) NamedChildren() []Node {
	return n.children(true)
}

func (n Node) children(named bool) []Node {
	if !n.Valid() {
		return nil
	}
	c := n.raw.Walk()
	defer c.Close()

	var raw []tree_sitter.Node
	if named {
		raw = n.raw.NamedChildren(c)
	} else {
		raw = n.raw.Children(c)
	}
	out := make([]Node, len(raw))
	for i := range raw {
		out[i] = n.Wrap(raw[i])
	}
	return out
}

func (n Node) Parent() (Node, bool) {
	if !n.Valid() {
		return Node{}, false
	}
	return n.wrapPtr(n.raw.Parent())
}

func (n Node) NextSibling() (Node, bool) {
	if !n.Valid() {
		return Node{}, false
	}
	return n.wrapPtr(n.raw.NextSibling())
}

func (n Node) PrevSibling() (Node, bool) {
	if !n.Valid() {
		return Node{}, false
	}
	return n.wrapPtr(n.raw.PrevSibling())
}

func (n Node) NextNamedSibling() (Node, bool) {
	if !n.Valid() {
		return Node{}, false
	}
	return n.wrapPtr(n.raw.NextNamedSibling())
}

func (n Node) PrevNamedSibling() (Node, bool) {
	if !n.Valid() {
		return Node{}, false
	}
	return n.wrapPtr(n.raw.PrevNamedSibling())
}

// Equal reports whether both handles refer to the same node of the same
// tree generation.
func (n Node) Equal(other Node) bool {
	if !n.Valid() || !other.Valid() {
		return false
	}
	return n.tree == other.tree && n.gen == other.gen && n.raw.Equals(other.raw)
}

// Sexp renders the node as an s-expression.
func (n Node) Sexp() string {
	if !n.Valid() {
		return ""
	}
	return n.raw.ToSexp()
}
