package export

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/sourcelens/internal/syntax"
)

const maxLabelLen = 40

// MermaidOptions limits the size of a generated diagram.
type MermaidOptions struct {
	// MaxDepth of zero or less means unlimited.
	MaxDepth int
	// ShowText adds the source text of leaves to their labels.
	ShowText bool
}

// GenerateMermaid produces a Mermaid graph TD diagram of the named subtree
// at root. Error nodes and missing nodes are styled so they stand out.
func GenerateMermaid(root syntax.Node, opts MermaidOptions) (string, error) {
	if !root.Valid() {
		return "", syntax.ErrStaleNode
	}

	nextID := 0
	newID := func() string {
		id := fmt.Sprintf("N%d", nextID)
		nextID++
		return id
	}

	var sb strings.Builder
	var problems []string
	sb.WriteString("graph TD\n")

	var visit func(n syntax.Node, id string, depth int)
	visit = func(n syntax.Node, id string, depth int) {
		sb.WriteString(fmt.Sprintf("  %s[\"%s\"]\n", id, label(n, opts.ShowText)))
		if n.IsError() || n.IsMissing() {
			problems = append(problems, id)
		}
		if opts.MaxDepth > 0 && depth+1 >= opts.MaxDepth {
			return
		}
		for _, c := range n.Children() {
			if !c.IsNamed() && !c.IsMissing() {
				continue
			}
			cid := newID()
			visit(c, cid, depth+1)
			sb.WriteString(fmt.Sprintf("  %s --> %s\n", id, cid))
		}
	}
	visit(root, newID(), 0)

	if len(problems) > 0 {
		sb.WriteString("  classDef problem fill:#fdd,stroke:#c00\n")
		sb.WriteString(fmt.Sprintf("  class %s problem\n", strings.Join(problems, ",")))
	}
	return sb.String(), nil
}

func label(n syntax.Node, showText bool) string {
	kind := n.Kind()
	if n.IsMissing() {
		kind = "MISSING " + kind
	}
	if !showText || n.ChildCount() > 0 {
		return escapeLabel(kind)
	}
	text := n.Text()
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	if len(text) > maxLabelLen {
		text = text[:maxLabelLen] + "..."
	}
	return escapeLabel(kind) + ": " + escapeLabel(text)
}

// escapeLabel makes text safe inside a quoted Mermaid label.
func escapeLabel(s string) string {
	return strings.NewReplacer(`"`, "#quot;", "<", "#lt;", ">", "#gt;").Replace(s)
}
