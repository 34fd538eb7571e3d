package edit

import (
	"bytes"
	"fmt"

	"github.com/sourcegraph/go-diff/diff"
)

// BatchFromPatch converts a single-file unified diff into a batch over src.
// Each run of removed and added lines becomes one operation. Context and
// removed lines must match src, otherwise the patch is rejected.
func BatchFromPatch(src []byte, patch []byte) (Batch, error) {
	hunks, err := parseHunks(patch)
	if err != nil {
		return nil, err
	}
	if len(hunks) == 0 {
		return nil, fmt.Errorf("%w: patch has no hunks", ErrInvalidEdit)
	}

	lines := newLineIndex(src)
	var batch Batch
	for i, h := range hunks {
		ops, err := hunkOperations(lines, h)
		if err != nil {
			return nil, fmt.Errorf("hunk %d (@@ -%d,%d): %w", i+1, h.OrigStartLine, h.OrigLines, err)
		}
		batch = append(batch, ops...)
	}
	return batch, nil
}

func parseHunks(patch []byte) ([]*diff.Hunk, error) {
	if bytes.HasPrefix(bytes.TrimLeft(patch, "\n"), []byte("@@")) {
		hunks, err := diff.ParseHunks(patch)
		if err != nil {
			return nil, fmt.Errorf("parsing hunks: %w", err)
		}
		return hunks, nil
	}

	files, err := diff.ParseMultiFileDiff(patch)
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}
	if len(files) != 1 {
		return nil, fmt.Errorf("%w: patch touches %d files, want 1", ErrInvalidEdit, len(files))
	}
	return files[0].Hunks, nil
}

func hunkOperations(lines lineIndex, h *diff.Hunk) (Batch, error) {
	// A hunk that removes nothing names the line after which it inserts.
	cur := int(h.OrigStartLine) - 1
	if h.OrigLines == 0 {
		cur = int(h.OrigStartLine)
	}
	if cur < 0 || cur > lines.count() {
		return nil, fmt.Errorf("%w: hunk starts at line %d of %d", ErrInvalidEdit, h.OrigStartLine, lines.count())
	}

	var (
		ops      Batch
		runStart = -1
		removed  int
		inserted []byte
	)
	flush := func() {
		if runStart < 0 {
			return
		}
		ops = append(ops, NewOperation(lines.start(runStart), lines.start(runStart+removed), string(inserted)))
		runStart, removed, inserted = -1, 0, nil
	}
	begin := func() {
		if runStart < 0 {
			runStart = cur
		}
	}

	for _, line := range bytes.SplitAfter(h.Body, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		prefix, text := line[0], line[1:]
		switch prefix {
		case ' ', '\n':
			if prefix == '\n' {
				text = line
			}
			flush()
			if err := lines.expect(cur, text); err != nil {
				return nil, err
			}
			cur++
		case '-':
			begin()
			if err := lines.expect(cur, text); err != nil {
				return nil, err
			}
			removed++
			cur++
		case '+':
			begin()
			inserted = append(inserted, text...)
		default:
			return nil, fmt.Errorf("%w: unexpected hunk line %q", ErrInvalidEdit, line)
		}
	}
	flush()
	return ops, nil
}

// lineIndex records the byte offset at which each line of a buffer starts.
type lineIndex struct {
	src    []byte
	starts []uint
}

func newLineIndex(src []byte) lineIndex {
	starts := []uint{0}
	for i, b := range src {
		if b == '\n' && i+1 < len(src) {
			starts = append(starts, uint(i+1))
		}
	}
	if len(src) == 0 {
		starts = nil
	}
	return lineIndex{src: src, starts: starts}
}

func (l lineIndex) count() int { return len(l.starts) }

// start returns the offset of line i, or the buffer length past the last
// line.
func (l lineIndex) start(i int) uint {
	if i >= len(l.starts) {
		return uint(len(l.src))
	}
	return l.starts[i]
}

func (l lineIndex) text(i int) []byte {
	return bytes.TrimSuffix(l.src[l.start(i):l.start(i+1)], []byte("\n"))
}

func (l lineIndex) expect(i int, want []byte) error {
	want = bytes.TrimSuffix(want, []byte("\n"))
	if i >= l.count() {
		return fmt.Errorf("%w: patch expects line %d %q past end of buffer", ErrInvalidEdit, i+1, want)
	}
	if got := l.text(i); !bytes.Equal(got, want) {
		return fmt.Errorf("%w: line %d is %q, patch expects %q", ErrInvalidEdit, i+1, got, want)
	}
	return nil
}
