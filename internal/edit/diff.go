package edit

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/dusk-indust/sourcelens/internal/syntax"
)

// Diff returns the spans of b that differ from a, in b's coordinates,
// sorted and merged. When b was produced from a by Apply, the result is the
// union of the parser's changed ranges and the edited spans. Otherwise it
// is the single span between the longest common prefix and suffix of the
// two sources. Identical sources yield no ranges.
func Diff(a, b *syntax.Tree) ([]syntax.Range, error) {
	if a.Language() != b.Language() {
		return nil, fmt.Errorf("%w: %s vs %s", ErrLanguageMismatch, a.Language(), b.Language())
	}

	if b.ParentID() == a.ID() && b.Hint() != nil {
		inner := b.Raw()
		if inner == nil {
			return nil, fmt.Errorf("diff: %w", syntax.ErrStaleTree)
		}
		ranges := slices.Concat(b.Hint().ChangedRanges(inner), b.Edits())
		return mergeRanges(ranges), nil
	}

	r, ok := byteDiff(a.Source(), b.Source())
	if !ok {
		return nil, nil
	}
	return []syntax.Range{r}, nil
}

func byteDiff(a, b []byte) (syntax.Range, bool) {
	n := min(len(a), len(b))
	prefix := 0
	for prefix < n && a[prefix] == b[prefix] {
		prefix++
	}
	if prefix == len(a) && prefix == len(b) {
		return syntax.Range{}, false
	}
	suffix := 0
	for suffix < n-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	start, end := uint(prefix), uint(len(b)-suffix)
	return syntax.Range{
		StartByte:  start,
		EndByte:    end,
		StartPoint: syntax.PointAtByte(b, start),
		EndPoint:   syntax.PointAtByte(b, end),
	}, true
}

// mergeRanges sorts ranges and joins the ones that overlap or touch.
func mergeRanges(ranges []syntax.Range) []syntax.Range {
	if len(ranges) == 0 {
		return nil
	}
	slices.SortFunc(ranges, func(x, y syntax.Range) int {
		return cmp.Or(cmp.Compare(x.StartByte, y.StartByte), cmp.Compare(x.EndByte, y.EndByte))
	})

	out := []syntax.Range{ranges[0]}
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if r.StartByte > last.EndByte {
			out = append(out, r)
			continue
		}
		if r.EndByte > last.EndByte {
			last.EndByte = r.EndByte
			last.EndPoint = r.EndPoint
		}
	}
	return out
}

// Covers reports whether every span in want lies inside some range of got.
func Covers(got, want []syntax.Range) bool {
	for _, w := range want {
		if !slices.ContainsFunc(got, func(g syntax.Range) bool {
			return g.StartByte <= w.StartByte && w.EndByte <= g.EndByte
		}) {
			return false
		}
	}
	return true
}
