package syntax

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dusk-indust/sourcelens/internal/lang"
)

var (
	// ErrStaleNode is returned when a Node outlives the tree generation it
	// was obtained from.
	ErrStaleNode = errors.New("stale node: tree was replaced or closed")

	// ErrStaleTree is returned when an edit targets a superseded or closed
	// tree.
	ErrStaleTree = errors.New("stale tree")

	// ErrEditInProgress is returned when a second edit is started on a
	// tree that is already being edited.
	ErrEditInProgress = errors.New("edit already in progress")
)

// Point and Range are the tree-sitter position types.
type (
	Point = tree_sitter.Point
	Range = tree_sitter.Range
)

// State is the lifecycle position of a Tree.
type State int

const (
	Clean State = iota
	Editing
	Reparsing
	Failed
	Superseded
	Closed
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Editing:
		return "editing"
	case Reparsing:
		return "reparsing"
	case Failed:
		return "failed"
	case Superseded:
		return "superseded"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Tree owns a parsed tree-sitter tree and the exact source it was parsed
// from. Neither is ever modified in place: an edit produces a new Tree and
// supersedes this one, which bumps the generation and invalidates every
// Node handed out before.
//
// Concurrent read-only use (traversal, queries) is safe. Edits are
// serialised per tree through Begin.
type Tree struct {
	id       uuid.UUID
	language lang.ID
	grammar  *tree_sitter.Language
	source   []byte
	inner    *tree_sitter.Tree

	// Lineage for trees produced by an edit. Only the parent's ID is kept
	// so superseded trees do not stay reachable through their successors.
	parentID uuid.UUID
	hint     *tree_sitter.Tree
	edits    []Range

	gen    atomic.Uint64
	editMu sync.Mutex

	mu    sync.RWMutex
	state State
}

// NewTree wraps a freshly parsed tree. src is copied.
func NewTree(id lang.ID, grammar *tree_sitter.Language, inner *tree_sitter.Tree, src []byte) *Tree {
	return newTree(id, grammar, inner, bytes.Clone(src))
}

func newTree(id lang.ID, grammar *tree_sitter.Language, inner *tree_sitter.Tree, src []byte) *Tree {
	return &Tree{
		id:       uuid.New(),
		language: id,
		grammar:  grammar,
		source:   src,
		inner:    inner,
		state:    Clean,
	}
}

// ID returns the tree's unique identifier.
func (t *Tree) ID() uuid.UUID { return t.id }

// Language returns the language the tree was parsed with.
func (t *Tree) Language() lang.ID { return t.language }

// Grammar returns the tree-sitter language.
func (t *Tree) Grammar() *tree_sitter.Language { return t.grammar }

// Source returns the buffer the tree was parsed from. Callers must not
// modify it.
func (t *Tree) Source() []byte { return t.source }

// Len returns the source length in bytes.
func (t *Tree) Len() int { return len(t.source) }

// Generation returns the current generation. It changes when the tree is
// superseded or closed.
func (t *Tree) Generation() uint64 { return t.gen.Load() }

// State returns the lifecycle state.
func (t *Tree) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// ParentID returns the ID of the tree this one was derived from by an
// edit, or uuid.Nil.
func (t *Tree) ParentID() uuid.UUID { return t.parentID }

// Edits returns the spans changed by the edit that produced this tree, in
// this tree's coordinates.
func (t *Tree) Edits() []Range { return t.edits }

// Hint returns the parent tree-sitter tree with this tree's edits applied,
// or nil for a tree that was not produced by an edit.
func (t *Tree) Hint() *tree_sitter.Tree { return t.hint }

// Raw returns the underlying tree-sitter tree, or nil once closed.
func (t *Tree) Raw() *tree_sitter.Tree {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.state == Closed {
		return nil
	}
	return t.inner
}

// Root returns the root node. Superseded and closed trees return an
// invalid Node.
func (t *Tree) Root() Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.state == Superseded || t.state == Closed {
		return Node{}
	}
	return Node{tree: t, gen: t.gen.Load(), raw: *t.inner.RootNode()}
}

// HasError reports whether the tree contains error or missing nodes.
func (t *Tree) HasError() bool {
	root := t.Root()
	return root.HasError()
}

// NodeCount returns the number of nodes in the tree, root included.
func (t *Tree) NodeCount() int {
	raw, err := t.Root().Raw()
	if err != nil {
		return 0
	}
	return int(raw.DescendantCount())
}

// LineCount returns the number of lines in the source.
func (t *Tree) LineCount() int {
	return LineCount(t.source)
}

// Close frees the tree-sitter trees. It waits for an edit in flight.
func (t *Tree) Close() {
	t.editMu.Lock()
	defer t.editMu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Closed {
		return
	}
	t.state = Closed
	t.gen.Add(1)
	if t.inner != nil {
		t.inner.Close()
	}
	if t.hint != nil {
		t.hint.Close()
	}
}

// Txn is an edit in progress on a Tree. Exactly one of Commit, Fail or
// Abort must be called.
type Txn struct {
	tree *Tree
	prev State
	done bool
}

// Begin moves the tree from Clean (or Failed) to Editing. It fails with
// ErrEditInProgress if another edit holds the tree and with ErrStaleTree
// if the tree was superseded or closed.
func (t *Tree) Begin() (*Txn, error) {
	if !t.editMu.TryLock() {
		return nil, fmt.Errorf("%w: tree %s", ErrEditInProgress, t.id)
	}

	t.mu.Lock()
	st := t.state
	if st != Clean && st != Failed {
		t.mu.Unlock()
		t.editMu.Unlock()
		return nil, fmt.Errorf("%w: tree %s is %s", ErrStaleTree, t.id, st)
	}
	t.state = Editing
	t.mu.Unlock()

	return &Txn{tree: t, prev: st}, nil
}

// Tree returns the tree being edited.
func (x *Txn) Tree() *Tree { return x.tree }

// Reparsing records that the edited buffer has been handed to the parser.
func (x *Txn) Reparsing() {
	x.tree.setState(Reparsing)
}

// Commit supersedes the edited tree with a new one built from the reparse
// result. hint is the edited copy of the old tree passed to the parser;
// edits are the changed spans in new coordinates. src is not copied.
func (x *Txn) Commit(inner *tree_sitter.Tree, src []byte, hint *tree_sitter.Tree, edits []Range) *Tree {
	if x.done {
		panic("syntax: Txn used after completion")
	}
	x.done = true

	t := x.tree
	next := newTree(t.language, t.grammar, inner, src)
	next.parentID = t.id
	next.hint = hint
	next.edits = edits

	t.mu.Lock()
	t.state = Superseded
	t.gen.Add(1)
	t.mu.Unlock()
	t.editMu.Unlock()
	return next
}

// Fail marks the tree Failed. Its content is unchanged and a new edit may
// be attempted.
func (x *Txn) Fail() {
	x.finish(Failed)
}

// Abort returns the tree to the state it had before Begin.
func (x *Txn) Abort() {
	x.finish(x.prev)
}

func (x *Txn) finish(st State) {
	if x.done {
		return
	}
	x.done = true
	x.tree.setState(st)
	x.tree.editMu.Unlock()
}

func (t *Tree) setState(st State) {
	t.mu.Lock()
	t.state = st
	t.mu.Unlock()
}
