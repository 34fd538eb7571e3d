// Package edit applies batches of text edits to syntax trees and reparses
// them incrementally.
package edit

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/dusk-indust/sourcelens/internal/syntax"
)

var (
	// ErrOverlappingEdits is wrapped by OverlappingEditsError.
	ErrOverlappingEdits = errors.New("overlapping edits")

	// ErrInvalidEdit is returned for an operation outside the buffer, with
	// inverted bounds or with points that disagree with its bytes.
	ErrInvalidEdit = errors.New("invalid edit")

	// ErrReparseFailed is returned when the parser yields no tree for the
	// edited buffer. The original tree is left in the Failed state.
	ErrReparseFailed = errors.New("reparse failed")

	// ErrLanguageMismatch is returned when two trees or a tree and a
	// parser disagree on the language.
	ErrLanguageMismatch = errors.New("language mismatch")
)

// Operation replaces the bytes [StartByte, OldEndByte) of the original
// buffer with Text. Points are optional; when set they must agree with the
// byte offsets.
type Operation struct {
	StartByte   uint         `json:"startByte"`
	OldEndByte  uint         `json:"oldEndByte"`
	StartPoint  syntax.Point `json:"startPoint"`
	OldEndPoint syntax.Point `json:"oldEndPoint"`
	Text        string       `json:"text"`
}

// NewOperation returns an operation over byte offsets. Points are filled in
// when the operation is normalised against a buffer.
func NewOperation(start, oldEnd uint, text string) Operation {
	return Operation{StartByte: start, OldEndByte: oldEnd, Text: text}
}

// Insert returns an operation inserting text at off.
func Insert(off uint, text string) Operation {
	return NewOperation(off, off, text)
}

// FromPoints returns an operation over row/column points of src.
func FromPoints(src []byte, start, oldEnd syntax.Point, text string) (Operation, error) {
	s, ok := syntax.ByteAtPoint(src, start)
	if !ok {
		return Operation{}, fmt.Errorf("%w: start %d:%d outside buffer", ErrInvalidEdit, start.Row, start.Column)
	}
	e, ok := syntax.ByteAtPoint(src, oldEnd)
	if !ok {
		return Operation{}, fmt.Errorf("%w: end %d:%d outside buffer", ErrInvalidEdit, oldEnd.Row, oldEnd.Column)
	}
	return Operation{StartByte: s, OldEndByte: e, StartPoint: start, OldEndPoint: oldEnd, Text: text}, nil
}

// Removed returns the number of bytes the operation deletes.
func (o Operation) Removed() int { return int(o.OldEndByte - o.StartByte) }

// Delta returns the change in buffer length the operation causes.
func (o Operation) Delta() int { return len(o.Text) - o.Removed() }

func (o Operation) String() string {
	return fmt.Sprintf("[%d,%d)->%q", o.StartByte, o.OldEndByte, o.Text)
}

func (o Operation) hasPoints() bool {
	return o.StartPoint != (syntax.Point{}) || o.OldEndPoint != (syntax.Point{})
}

// OverlappingEditsError names the first conflicting pair in a batch, in
// position order.
type OverlappingEditsError struct {
	First  Operation
	Second Operation
}

func (e *OverlappingEditsError) Error() string {
	return fmt.Sprintf("edits %s and %s overlap", e.First, e.Second)
}

func (e *OverlappingEditsError) Unwrap() error { return ErrOverlappingEdits }

// Batch is a set of operations over one buffer, applied atomically.
type Batch []Operation

// Normalize validates every operation against src and returns a copy
// sorted by start then old end, with points filled in. Two operations
// conflict when the second starts at or before the end of the first, so
// spans that merely touch are rejected as well.
func (b Batch) Normalize(src []byte) (Batch, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidEdit)
	}
	out := slices.Clone(b)
	for i := range out {
		op := &out[i]
		if op.StartByte > op.OldEndByte {
			return nil, fmt.Errorf("%w: operation %d %s has start after end", ErrInvalidEdit, i, op)
		}
		if op.OldEndByte > uint(len(src)) {
			return nil, fmt.Errorf("%w: operation %d %s past end of buffer (%d bytes)", ErrInvalidEdit, i, op, len(src))
		}
		start := syntax.PointAtByte(src, op.StartByte)
		end := syntax.PointAtByte(src, op.OldEndByte)
		if op.hasPoints() && (op.StartPoint != start || op.OldEndPoint != end) {
			return nil, fmt.Errorf("%w: operation %d %s points disagree with bytes", ErrInvalidEdit, i, op)
		}
		op.StartPoint, op.OldEndPoint = start, end
	}

	slices.SortStableFunc(out, func(a, b Operation) int {
		return cmp.Or(cmp.Compare(a.StartByte, b.StartByte), cmp.Compare(a.OldEndByte, b.OldEndByte))
	})
	for i := 1; i < len(out); i++ {
		if out[i].StartByte <= out[i-1].OldEndByte {
			return nil, &OverlappingEditsError{First: out[i-1], Second: out[i]}
		}
	}
	return out, nil
}

// Delta returns the total change in buffer length.
func (b Batch) Delta() int {
	var d int
	for _, op := range b {
		d += op.Delta()
	}
	return d
}
