package patterns

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dusk-indust/sourcelens/internal/lang"
)

// Optimization bounds the cost of executing a query.
type Optimization struct {
	// MatchLimit caps the number of in-progress matches. Zero means the
	// tree-sitter default.
	MatchLimit uint32 `json:"matchLimit" yaml:"matchLimit"`

	// MaxStartDepth limits how deep below the queried node a match may
	// start. Zero means unbounded.
	MaxStartDepth uint32 `json:"maxStartDepth" yaml:"maxStartDepth"`

	// Timeout in microseconds. Zero disables the timeout.
	Timeout uint64 `json:"timeoutMicros" yaml:"timeoutMicros"`

	// ByteRange and PointRange restrict execution to a region.
	ByteRange  *ByteRange  `json:"byteRange,omitempty" yaml:"-"`
	PointRange *PointRange `json:"pointRange,omitempty" yaml:"-"`
}

// ByteRange is a half-open byte interval.
type ByteRange struct {
	Start uint `json:"start"`
	End   uint `json:"end"`
}

// PointRange is a half-open row/column interval.
type PointRange struct {
	Start tree_sitter.Point `json:"start"`
	End   tree_sitter.Point `json:"end"`
}

// Merge returns o with every non-zero field of over applied on top.
func (o Optimization) Merge(over Optimization) Optimization {
	if over.MatchLimit != 0 {
		o.MatchLimit = over.MatchLimit
	}
	if over.MaxStartDepth != 0 {
		o.MaxStartDepth = over.MaxStartDepth
	}
	if over.Timeout != 0 {
		o.Timeout = over.Timeout
	}
	if over.ByteRange != nil {
		br := *over.ByteRange
		o.ByteRange = &br
	}
	if over.PointRange != nil {
		pr := *over.PointRange
		o.PointRange = &pr
	}
	return o
}

var defaultOptimizations = map[Category]Optimization{
	Function:   {MatchLimit: 100, MaxStartDepth: 5, Timeout: 1000},
	Class:      {MatchLimit: 50, MaxStartDepth: 3, Timeout: 1000},
	Method:     {MatchLimit: 200, MaxStartDepth: 6, Timeout: 1000},
	Import:     {MatchLimit: 50, MaxStartDepth: 2, Timeout: 500},
	Interface:  {MatchLimit: 50, MaxStartDepth: 3, Timeout: 1000},
	Struct:     {MatchLimit: 50, MaxStartDepth: 3, Timeout: 1000},
	Namespace:  {MatchLimit: 30, MaxStartDepth: 2, Timeout: 500},
	Comment:    {MatchLimit: 1000, MaxStartDepth: 10, Timeout: 1000},
	String:     {MatchLimit: 1000, MaxStartDepth: 10, Timeout: 1000},
	Error:      {MatchLimit: 1000, MaxStartDepth: 20, Timeout: 5000},
	JSXElement: {MatchLimit: 100, MaxStartDepth: 8, Timeout: 1000},
}

var fallbackOptimization = Optimization{MatchLimit: 100, Timeout: 1000}

// denseVariants produce deeper, wider trees than their core language, so
// the structural categories get a larger budget.
var denseVariants = map[lang.ID]map[Category]bool{
	lang.JSX: {Function: true, Class: true, JSXElement: true},
	lang.TSX: {Function: true, Class: true, JSXElement: true},
}

const (
	denseMatchMultiplier = 2
	denseDepthIncrement  = 5
)

// DefaultOptimization returns the tuning for a category, scaled for dense
// language variants. id may be empty. The result is a fresh copy.
func DefaultOptimization(cat Category, id lang.ID) Optimization {
	opt, ok := defaultOptimizations[cat]
	if !ok {
		opt = fallbackOptimization
	}
	if denseVariants[lang.Normalize(id)][cat] {
		opt.MatchLimit *= denseMatchMultiplier
		opt.MaxStartDepth += denseDepthIncrement
	}
	return opt
}
