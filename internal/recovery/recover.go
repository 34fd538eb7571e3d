package recovery

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dusk-indust/sourcelens/internal/edit"
	"github.com/dusk-indust/sourcelens/internal/lang"
	"github.com/dusk-indust/sourcelens/internal/syntax"
)

// DefaultMaxAttempts bounds the number of trial reparses per recovery.
const DefaultMaxAttempts = 3

// Repair is a single token the recoverer may insert.
type Repair struct {
	Token string
	// MissingOnly limits the repair to places where the parser already
	// inserted the token as a MISSING node.
	MissingOnly bool
	// BlockHeader marks a token that ends a line opening an indented block.
	BlockHeader bool
}

var (
	blockDelimiter = Repair{Token: ":", BlockHeader: true}
	statementEnd   = Repair{Token: ";", MissingOnly: true}
)

var repairs = map[lang.ID][]Repair{
	lang.Python:     {blockDelimiter},
	lang.Go:         {statementEnd},
	lang.Rust:       {statementEnd},
	lang.JavaScript: {statementEnd},
	lang.Java:       {statementEnd},
	lang.C:          {statementEnd},
	lang.PHP:        {statementEnd},
}

// Repairs returns the repair set for a language, falling back to its base
// language.
func Repairs(id lang.ID) []Repair {
	for cur := lang.Normalize(id); cur != ""; cur = lang.BaseOf(cur) {
		if r, ok := repairs[cur]; ok {
			return r
		}
	}
	return nil
}

// Plans returns the insertions that could repair the problem at n, most
// likely first. A MISSING node whose kind is a repair token is filled in
// right after the preceding leaf. For an ERROR node, a block header repair
// first goes to the end of the line that opens an indented block; then the
// leaf just before the node and the leaves inside it are tried in order,
// keeping those whose following parse state accepts the token.
func Plans(tree *syntax.Tree, n syntax.Node) []edit.Operation {
	set := Repairs(tree.Language())
	if n.IsMissing() {
		at := n.StartByte()
		if before, ok := leafBefore(n); ok {
			at = before.EndByte()
		}
		for _, r := range set {
			if r.Token == n.Kind() {
				return []edit.Operation{edit.Insert(at, r.Token)}
			}
		}
		return nil
	}
	if !n.IsError() {
		return nil
	}

	var leaves []syntax.Node
	if before, ok := leafBefore(n); ok {
		leaves = append(leaves, before)
	}
	for c := range syntax.Walk(n) {
		if c.ChildCount() == 0 {
			leaves = append(leaves, c)
		}
	}

	var out []edit.Operation
	add := func(op edit.Operation) {
		if !slices.Contains(out, op) {
			out = append(out, op)
		}
	}
	for _, r := range set {
		if r.MissingOnly {
			continue
		}
		if r.BlockHeader {
			for _, at := range headerEnds(tree, n, r.Token) {
				add(edit.Insert(at, r.Token))
			}
		}
		for _, leaf := range leaves {
			state := leaf.NextParseState()
			if state == 0 || leaf.IsMissing() {
				continue
			}
			if slices.Contains(Lookahead(tree.Grammar(), state), r.Token) {
				add(edit.Insert(leaf.EndByte(), r.Token))
			}
		}
	}
	return out
}

// headerEnds returns the end offsets of the last token on the line where n
// starts, and on the line above it, when that line is followed by a more
// indented one and does not already end with token.
func headerEnds(tree *syntax.Tree, n syntax.Node, token string) []uint {
	src := tree.Source()
	row := n.StartPoint().Row
	rows := []uint{row}
	if row > 0 {
		rows = append(rows, row-1)
	}

	var out []uint
	for _, r := range rows {
		lineStart, ok := syntax.ByteAtPoint(src, syntax.Point{Row: r})
		if !ok {
			continue
		}
		nl := bytes.IndexByte(src[lineStart:], '\n')
		if nl < 0 {
			continue
		}
		lineEnd := lineStart + uint(nl)
		if !opensBlock(src, lineStart, lineEnd) {
			continue
		}
		last, ok := lastTokenIn(tree.Root(), lineStart, lineEnd)
		if !ok || last.Kind() == token {
			continue
		}
		out = append(out, last.EndByte())
	}
	return out
}

// opensBlock reports whether the next non-blank line after the line
// [start, end) is indented deeper than it.
func opensBlock(src []byte, start, end uint) bool {
	indent := indentOf(src[start:end])
	for rest := src[end+1:]; len(rest) > 0; {
		line := rest
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i], rest[i+1:]
		} else {
			rest = nil
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return indentOf(line) > indent
	}
	return false
}

func indentOf(line []byte) int {
	return len(line) - len(bytes.TrimLeft(line, " \t"))
}

// lastTokenIn returns the last non-empty, non-comment leaf lying inside
// [start, end).
func lastTokenIn(root syntax.Node, start, end uint) (syntax.Node, bool) {
	var last syntax.Node
	found := false
	for c := range syntax.Walk(root) {
		if c.StartByte() >= end {
			break
		}
		if c.ChildCount() > 0 || c.IsMissing() || c.StartByte() == c.EndByte() {
			continue
		}
		if c.StartByte() < start || c.EndByte() > end || strings.Contains(c.Kind(), "comment") {
			continue
		}
		last, found = c, true
	}
	return last, found
}

// Candidates returns the plans for every problem in tree, in document
// order, without duplicates.
func Candidates(tree *syntax.Tree) []edit.Operation {
	var out []edit.Operation
	for _, n := range syntax.FindProblems(tree.Root()) {
		for _, op := range Plans(tree, n) {
			if !slices.Contains(out, op) {
				out = append(out, op)
			}
		}
	}
	return out
}

// Outcome reports a recovery. When Recovered is false, Tree is the tree
// that was passed in and nothing was modified.
type Outcome struct {
	Tree      *syntax.Tree
	Attempts  int
	Recovered bool
	Applied   []edit.Operation
}

// Recoverer repairs trees by trying candidate insertions one at a time.
type Recoverer struct {
	maxAttempts int
	logger      *slog.Logger
}

// NewRecoverer returns a recoverer allowing at most maxAttempts trial
// reparses; zero or less selects DefaultMaxAttempts.
func NewRecoverer(maxAttempts int, logger *slog.Logger) *Recoverer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recoverer{maxAttempts: maxAttempts, logger: logger}
}

// MaxAttempts returns the attempt cap.
func (r *Recoverer) MaxAttempts() int { return r.maxAttempts }

// Attempt tries to make tree error-free. Each attempt applies one candidate
// to a private copy and keeps the result only if it has fewer problems.
// The original tree is never edited. On success the returned Outcome owns
// a new tree; otherwise it carries tree itself.
func (r *Recoverer) Attempt(ctx context.Context, p edit.Parser, tree *syntax.Tree) (*Outcome, error) {
	if !tree.HasError() {
		return &Outcome{Tree: tree}, nil
	}

	work, err := fork(tree)
	if err != nil {
		return nil, err
	}
	best := problemCount(work)
	attempts := 0
	var applied []edit.Operation

	for best > 0 && attempts < r.maxAttempts {
		progressed := false
		for _, op := range Candidates(work) {
			if attempts == r.maxAttempts {
				break
			}
			if err := ctx.Err(); err != nil {
				work.Close()
				return nil, fmt.Errorf("recovery: %w", err)
			}
			attempts++

			next, err := r.try(ctx, p, work, op)
			if err != nil {
				r.logger.Debug("recovery attempt failed",
					slog.String("language", string(tree.Language())),
					slog.Int("attempt", attempts),
					slog.String("edit", op.String()),
					slog.String("error", err.Error()))
				continue
			}

			n := problemCount(next)
			r.logger.Debug("recovery attempt",
				slog.String("language", string(tree.Language())),
				slog.Int("attempt", attempts),
				slog.String("edit", op.String()),
				slog.Int("problems_before", best),
				slog.Int("problems_after", n))
			if n < best {
				work.Close()
				work, best = next, n
				applied = append(applied, op)
				progressed = true
				break
			}
			next.Close()
		}
		if !progressed {
			break
		}
	}

	if best == 0 {
		return &Outcome{Tree: work, Attempts: attempts, Recovered: true, Applied: applied}, nil
	}
	work.Close()
	return &Outcome{Tree: tree, Attempts: attempts}, nil
}

// try applies op to a throwaway copy of work.
func (r *Recoverer) try(ctx context.Context, p edit.Parser, work *syntax.Tree, op edit.Operation) (*syntax.Tree, error) {
	trial, err := fork(work)
	if err != nil {
		return nil, err
	}
	defer trial.Close()
	return edit.Apply(ctx, p, trial, edit.Batch{op})
}

// fork returns an independent copy of t that can be edited without
// superseding t.
func fork(t *syntax.Tree) (*syntax.Tree, error) {
	inner := t.Raw()
	if inner == nil {
		return nil, fmt.Errorf("recovery: %w", syntax.ErrStaleTree)
	}
	return syntax.NewTree(t.Language(), t.Grammar(), inner.Clone(), t.Source()), nil
}

func problemCount(t *syntax.Tree) int {
	return len(syntax.FindProblems(t.Root()))
}
