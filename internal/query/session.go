package query

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dusk-indust/sourcelens/internal/patterns"
	"github.com/dusk-indust/sourcelens/internal/syntax"
)

// maxMatchLimit is the largest in-progress match limit tree-sitter accepts.
const maxMatchLimit = 65536

// Capture is one captured node.
type Capture struct {
	Name string
	Node syntax.Node
}

// Match is one pattern match with its unmasked captures.
type Match struct {
	Pattern  int
	Captures []Capture
}

// Stats describes one execution. ExceededMatchLimit and TimedOut mark a
// partial result; they are not errors.
type Stats struct {
	MatchCount         int
	CaptureCount       int
	ExceededMatchLimit bool
	TimedOut           bool
	Duration           time.Duration
}

// Result holds the captures of one execution. Captures maps a capture name
// to its nodes in match order.
type Result struct {
	Captures map[string][]syntax.Node
	Matches  []Match
	Stats    Stats
}

// Texts returns the source text of every node captured under name.
func (r *Result) Texts(name string) []string {
	nodes := r.Captures[name]
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Text()
	}
	return out
}

// Session runs a compiled query with its own settings and pattern and
// capture masks. Masks never touch the shared compiled query, so any
// number of sessions may use one Compiled concurrently.
type Session struct {
	compiled *Compiled

	mu               sync.RWMutex
	settings         patterns.Optimization
	disabledPatterns map[int]bool
	disabledCaptures map[string]bool
}

// NewSession creates a session over c.
func NewSession(c *Compiled, settings patterns.Optimization) *Session {
	return &Session{
		compiled:         c,
		settings:         settings,
		disabledPatterns: make(map[int]bool),
		disabledCaptures: make(map[string]bool),
	}
}

// Compiled returns the underlying query.
func (s *Session) Compiled() *Compiled { return s.compiled }

func (s *Session) Settings() patterns.Optimization {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Session) SetSettings(o patterns.Optimization) {
	s.mu.Lock()
	s.settings = o
	s.mu.Unlock()
}

// DisablePattern drops matches of the pattern at index i from results.
func (s *Session) DisablePattern(i int) error {
	if i < 0 || i >= s.compiled.PatternCount() {
		return fmt.Errorf("pattern index %d out of range [0,%d)", i, s.compiled.PatternCount())
	}
	s.mu.Lock()
	s.disabledPatterns[i] = true
	s.mu.Unlock()
	return nil
}

func (s *Session) EnablePattern(i int) {
	s.mu.Lock()
	delete(s.disabledPatterns, i)
	s.mu.Unlock()
}

// DisableCapture drops captures named name from results.
func (s *Session) DisableCapture(name string) {
	s.mu.Lock()
	s.disabledCaptures[name] = true
	s.mu.Unlock()
}

func (s *Session) EnableCapture(name string) {
	s.mu.Lock()
	delete(s.disabledCaptures, name)
	s.mu.Unlock()
}

// Execute runs the query over the subtree rooted at node. The match limit,
// start depth, ranges and timeout come from the session settings. Hitting
// the limit or the timeout yields a partial result flagged in Stats; a
// cancelled context is an error.
func (s *Session) Execute(ctx context.Context, node syntax.Node) (*Result, error) {
	raw, err := node.Raw()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	opts := s.settings
	skipPattern := maps.Clone(s.disabledPatterns)
	skipCapture := maps.Clone(s.disabledCaptures)
	s.mu.RUnlock()

	cursor := tree_sitter.NewQueryCursor()
	defer cursor.Close()
	configure(cursor, opts)

	// The timeout budget counts only time spent inside matches.Next.
	start := time.Now()
	budget := time.Duration(opts.Timeout) * time.Microsecond
	var spent time.Duration
	stepStart := start
	var timedOut, cancelled bool
	progress := func(tree_sitter.QueryCursorState) bool {
		if ctx.Err() != nil {
			cancelled = true
			return true
		}
		if budget > 0 && spent+time.Since(stepStart) > budget {
			timedOut = true
			return true
		}
		return false
	}

	res := &Result{Captures: make(map[string][]syntax.Node)}
	names := s.compiled.captures
	matches := cursor.MatchesWithOptions(s.compiled.inner, raw, node.Tree().Source(),
		tree_sitter.QueryCursorOptions{ProgressCallback: progress})

	for {
		stepStart = time.Now()
		m := matches.Next()
		spent += time.Since(stepStart)
		if m == nil {
			break
		}
		if skipPattern[int(m.PatternIndex)] {
			continue
		}
		match := Match{Pattern: int(m.PatternIndex)}
		for _, c := range m.Captures {
			name := names[c.Index]
			if skipCapture[name] {
				continue
			}
			n := node.Wrap(c.Node)
			match.Captures = append(match.Captures, Capture{Name: name, Node: n})
			res.Captures[name] = append(res.Captures[name], n)
		}
		res.Matches = append(res.Matches, match)
		res.Stats.CaptureCount += len(match.Captures)
	}

	if cancelled {
		return nil, fmt.Errorf("query cancelled: %w", ctx.Err())
	}
	res.Stats.MatchCount = len(res.Matches)
	res.Stats.ExceededMatchLimit = cursor.DidExceedMatchLimit()
	res.Stats.TimedOut = timedOut
	res.Stats.Duration = time.Since(start)
	return res, nil
}

func configure(c *tree_sitter.QueryCursor, o patterns.Optimization) {
	if o.MatchLimit > 0 {
		c.SetMatchLimit(uint(min(o.MatchLimit, maxMatchLimit)))
	}
	if o.MaxStartDepth > 0 {
		d := uint(o.MaxStartDepth)
		c.SetMaxStartDepth(&d)
	}
	if r := o.ByteRange; r != nil {
		c.SetByteRange(r.Start, r.End)
	}
	if r := o.PointRange; r != nil {
		c.SetPointRange(r.Start, r.End)
	}
}
