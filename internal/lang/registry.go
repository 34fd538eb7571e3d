package lang

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnsupportedLanguage is returned when no grammar is registered for
	// a language ID.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrHandleReleased is returned by a Handle after Registry.Release.
	ErrHandleReleased = errors.New("language handle released")

	// ErrParseCancelled is returned when the parser produced no tree
	// because the timeout elapsed or the context was cancelled.
	ErrParseCancelled = errors.New("parse cancelled")
)

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout sets the per-parse timeout in microseconds applied to every
// handle. Zero disables the timeout.
func WithTimeout(micros uint64) Option {
	return func(r *Registry) { r.timeout = micros }
}

// WithLogger sets the logger used for handle lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithGrammar registers an additional grammar. ptr is the value returned
// by a tree-sitter binding's Language function.
func WithGrammar(id, base ID, ptr unsafe.Pointer, exts ...string) Option {
	return func(r *Registry) { r.grammars[Normalize(id)] = customGrammar(base, ptr, exts) }
}

// Registry resolves language IDs to handles. Handles are created once per
// language and cached until released; concurrent Resolve calls for the
// same ID share one creation.
type Registry struct {
	grammars   map[ID]grammar
	extensions map[string]ID
	timeout    uint64
	logger     *slog.Logger

	mu      sync.RWMutex
	handles map[ID]*Handle
	group   singleflight.Group
	created atomic.Int64
}

// NewRegistry creates a Registry with the builtin grammars registered.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		grammars: builtinGrammars(),
		handles:  make(map[ID]*Handle),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.extensions = extensionIndex(r.grammars)
	return r
}

// Resolve returns the cached handle for id, creating it on first use.
func (r *Registry) Resolve(id ID) (*Handle, error) {
	id = Normalize(id)
	g, ok := r.grammars[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, id)
	}

	r.mu.RLock()
	h := r.handles[id]
	r.mu.RUnlock()
	if h != nil {
		return h, nil
	}

	v, err, _ := r.group.Do(string(id), func() (any, error) {
		r.mu.RLock()
		existing := r.handles[id]
		r.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		h, err := newHandle(id, g, r.timeout)
		if err != nil {
			return nil, err
		}
		r.created.Add(1)

		r.mu.Lock()
		r.handles[id] = h
		r.mu.Unlock()

		r.logger.Debug("language handle created",
			slog.String("language", string(id)),
			slog.Uint64("abi_version", uint64(g.language.AbiVersion())))
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// Release drops the cached handle for id and frees its parser. A later
// Resolve creates a fresh handle. Releasing an unknown or uncached ID is a
// no-op.
func (r *Registry) Release(id ID) {
	id = Normalize(id)
	r.mu.Lock()
	h := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()

	if h != nil {
		h.release()
		r.logger.Debug("language handle released", slog.String("language", string(id)))
	}
}

// Close releases every cached handle.
func (r *Registry) Close() error {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[ID]*Handle)
	r.mu.Unlock()

	for _, h := range handles {
		h.release()
	}
	return nil
}

// Supported reports whether a grammar is registered for id.
func (r *Registry) Supported(id ID) bool {
	_, ok := r.grammars[Normalize(id)]
	return ok
}

// Known returns the registered language IDs in sorted order.
func (r *Registry) Known() []ID {
	return sortedIDs(r.grammars)
}

// Base returns the core language of a dialect, or "" if id has none.
func (r *Registry) Base(id ID) ID {
	return r.grammars[Normalize(id)].base
}

// ForExtension maps a file name or extension to a language ID.
func (r *Registry) ForExtension(name string) (ID, bool) {
	id, ok := r.extensions[extOf(name)]
	return id, ok
}

// Created returns how many handles the registry has instantiated.
func (r *Registry) Created() int64 {
	return r.created.Load()
}

// Handle binds a language ID to its grammar and a parser. Parsers are not
// thread-safe, so Parse calls on one handle are serialised.
type Handle struct {
	id      ID
	base    ID
	grammar *tree_sitter.Language
	timeout uint64

	mu       sync.Mutex
	parser   *tree_sitter.Parser
	released bool
}

func newHandle(id ID, g grammar, timeout uint64) (*Handle, error) {
	parser := tree_sitter.NewParser()
	if err := parser.SetLanguage(g.language); err != nil {
		parser.Close()
		return nil, fmt.Errorf("set language %s: %w", id, err)
	}
	return &Handle{
		id:      id,
		base:    g.base,
		grammar: g.language,
		timeout: timeout,
		parser:  parser,
	}, nil
}

// ID returns the language ID.
func (h *Handle) ID() ID { return h.id }

// Base returns the core language for dialects, or "".
func (h *Handle) Base() ID { return h.base }

// Grammar returns the tree-sitter language.
func (h *Handle) Grammar() *tree_sitter.Language { return h.grammar }

// Timeout returns the parse timeout in microseconds.
func (h *Handle) Timeout() uint64 { return h.timeout }

// Parse parses src, reusing unchanged subtrees of old when it is non-nil.
// old must already carry the edits that turned its source into src.
func (h *Handle) Parse(ctx context.Context, src []byte, old *tree_sitter.Tree) (*tree_sitter.Tree, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil, fmt.Errorf("%w: %s", ErrHandleReleased, h.id)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrParseCancelled, h.id, err)
	}

	var deadline time.Time
	if h.timeout > 0 {
		deadline = time.Now().Add(time.Duration(h.timeout) * time.Microsecond)
	}
	timedOut := false
	opts := &tree_sitter.ParseOptions{
		ProgressCallback: func(tree_sitter.ParseState) bool {
			if ctx.Err() != nil {
				return true
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				timedOut = true
				return true
			}
			return false
		},
	}
	read := func(offset int, _ tree_sitter.Point) []byte {
		if offset < len(src) {
			return src[offset:]
		}
		return nil
	}

	tree := h.parser.ParseWithOptions(read, old, opts)
	if tree == nil {
		// A cancelled parser resumes where it stopped unless reset.
		h.parser.Reset()
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrParseCancelled, h.id, err)
		}
		if timedOut {
			return nil, fmt.Errorf("%w: %s: timeout after %dµs", ErrParseCancelled, h.id, h.timeout)
		}
		return nil, fmt.Errorf("%w: %s: parser returned no tree", ErrParseCancelled, h.id)
	}
	return tree, nil
}

func (h *Handle) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	h.parser.Close()
	h.parser = nil
}
