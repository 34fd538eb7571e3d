package syntax

import "bytes"

// LineCount returns the number of lines in src. A trailing newline does
// not start a new line; empty input has zero lines.
func LineCount(src []byte) int {
	if len(src) == 0 {
		return 0
	}
	n := bytes.Count(src, []byte{'\n'})
	if src[len(src)-1] != '\n' {
		n++
	}
	return n
}

// PointAtByte converts a byte offset into a row/column point. Columns are
// byte offsets within the row, as tree-sitter counts them. Offsets past
// the end clamp to the end of src.
func PointAtByte(src []byte, off uint) Point {
	if off > uint(len(src)) {
		off = uint(len(src))
	}
	head := src[:off]
	row := uint(bytes.Count(head, []byte{'\n'}))
	col := off
	if i := bytes.LastIndexByte(head, '\n'); i >= 0 {
		col = off - uint(i) - 1
	}
	return Point{Row: row, Column: col}
}

// EndPoint returns the point just past the last byte of src.
func EndPoint(src []byte) Point {
	return PointAtByte(src, uint(len(src)))
}

// ByteAtPoint converts a point into a byte offset. It reports false when
// the row does not exist or the column runs past the end of the row.
func ByteAtPoint(src []byte, p Point) (uint, bool) {
	var off uint
	for row := uint(0); row < p.Row; row++ {
		i := bytes.IndexByte(src[off:], '\n')
		if i < 0 {
			return 0, false
		}
		off += uint(i) + 1
	}
	lineEnd := uint(len(src))
	if i := bytes.IndexByte(src[off:], '\n'); i >= 0 {
		lineEnd = off + uint(i)
	}
	if off+p.Column > lineEnd {
		return 0, false
	}
	return off + p.Column, true
}

// IsValidPosition reports whether p addresses a position inside the
// tree's source, end of line and end of file included.
func IsValidPosition(t *Tree, p Point) bool {
	_, ok := ByteAtPoint(t.source, p)
	return ok
}

// Advance returns the point reached after appending text at p.
func Advance(p Point, text []byte) Point {
	nl := bytes.Count(text, []byte{'\n'})
	if nl == 0 {
		return Point{Row: p.Row, Column: p.Column + uint(len(text))}
	}
	last := bytes.LastIndexByte(text, '\n')
	return Point{Row: p.Row + uint(nl), Column: uint(len(text) - last - 1)}
}
