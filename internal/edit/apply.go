package edit

import (
	"context"
	"fmt"
	"slices"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dusk-indust/sourcelens/internal/lang"
	"github.com/dusk-indust/sourcelens/internal/syntax"
)

// Parser reparses a buffer for one language, reusing an edited tree.
type Parser interface {
	ID() lang.ID
	Parse(ctx context.Context, src []byte, old *tree_sitter.Tree) (*tree_sitter.Tree, error)
}

// Apply applies batch to tree and reparses incrementally. The batch is
// validated before the tree is touched. Operations are applied in position
// order to a copy of the source; each one is registered as an InputEdit on
// a clone of the old tree, which then guides the reparse.
//
// On success tree is superseded and the returned tree holds the new source.
// If the parser yields nothing, tree moves to Failed with its content
// unchanged and ErrReparseFailed is returned.
func Apply(ctx context.Context, p Parser, tree *syntax.Tree, batch Batch) (*syntax.Tree, error) {
	if lang.Normalize(p.ID()) != tree.Language() {
		return nil, fmt.Errorf("%w: parser is %s, tree is %s", ErrLanguageMismatch, p.ID(), tree.Language())
	}
	ops, err := batch.Normalize(tree.Source())
	if err != nil {
		return nil, err
	}

	txn, err := tree.Begin()
	if err != nil {
		return nil, err
	}

	hint := tree.Raw().Clone()
	buf, spans := replay(tree.Source(), ops, hint)

	txn.Reparsing()
	inner, err := p.Parse(ctx, buf, hint)
	if err != nil {
		hint.Close()
		txn.Fail()
		return nil, fmt.Errorf("%w: %w", ErrReparseFailed, err)
	}
	return txn.Commit(inner, buf, hint, spans), nil
}

// replay applies sorted, non-overlapping ops to a copy of src. Offsets of
// each op are shifted by the length change of the ops before it, and every
// InputEdit is expressed in the coordinates of the buffer as it stands at
// that point. It returns the new buffer and the replaced spans in new
// coordinates.
func replay(src []byte, ops Batch, hint *tree_sitter.Tree) ([]byte, []syntax.Range) {
	buf := slices.Clone(src)
	spans := make([]syntax.Range, 0, len(ops))
	delta := 0

	for _, op := range ops {
		start := uint(int(op.StartByte) + delta)
		oldEnd := uint(int(op.OldEndByte) + delta)
		startPt := syntax.PointAtByte(buf, start)
		oldEndPt := syntax.PointAtByte(buf, oldEnd)

		buf = slices.Concat(buf[:start], []byte(op.Text), buf[oldEnd:])

		newEnd := start + uint(len(op.Text))
		newEndPt := syntax.Advance(startPt, []byte(op.Text))
		if hint != nil {
			hint.Edit(&tree_sitter.InputEdit{
				StartByte:      start,
				OldEndByte:     oldEnd,
				NewEndByte:     newEnd,
				StartPosition:  startPt,
				OldEndPosition: oldEndPt,
				NewEndPosition: newEndPt,
			})
		}
		spans = append(spans, syntax.Range{
			StartByte:  start,
			EndByte:    newEnd,
			StartPoint: startPt,
			EndPoint:   newEndPt,
		})
		delta += op.Delta()
	}
	return buf, spans
}

// ApplyText returns src with ops applied, without parsing.
func ApplyText(src []byte, batch Batch) ([]byte, error) {
	ops, err := batch.Normalize(src)
	if err != nil {
		return nil, err
	}
	buf, _ := replay(src, ops, nil)
	return buf, nil
}
