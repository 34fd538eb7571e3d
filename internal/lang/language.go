package lang

import (
	"path/filepath"
	"sort"
	"strings"
	"unsafe"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_bash "github.com/tree-sitter/tree-sitter-bash/bindings/go"
	tree_sitter_c "github.com/tree-sitter/tree-sitter-c/bindings/go"
	tree_sitter_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"
	tree_sitter_embedded_template "github.com/tree-sitter/tree-sitter-embedded-template/bindings/go"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_html "github.com/tree-sitter/tree-sitter-html/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_json "github.com/tree-sitter/tree-sitter-json/bindings/go"
	tree_sitter_php "github.com/tree-sitter/tree-sitter-php/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_ruby "github.com/tree-sitter/tree-sitter-ruby/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// ID identifies a language grammar, e.g. "python" or "tsx".
type ID string

const (
	Go         ID = "go"
	Python     ID = "python"
	Rust       ID = "rust"
	TypeScript ID = "typescript"
	TSX        ID = "tsx"
	JavaScript ID = "javascript"
	JSX        ID = "jsx"
	Java       ID = "java"
	C          ID = "c"
	Cpp        ID = "cpp"
	Ruby       ID = "ruby"
	JSON       ID = "json"
	Bash       ID = "bash"
	HTML       ID = "html"
	PHP        ID = "php"

	// EmbeddedTemplate covers ERB and EJS style templates.
	EmbeddedTemplate ID = "embedded_template"
)

// aliases maps alternate spellings and dialect file types onto a
// registered ID.
var aliases = map[string]ID{
	"golang":  Go,
	"py":      Python,
	"python3": Python,
	"rs":      Rust,
	"ts":      TypeScript,
	"js":      JavaScript,
	"node":    JavaScript,
	"c++":     Cpp,
	"cc":      Cpp,
	"cxx":     Cpp,
	"hh":      Cpp,
	"hpp":     Cpp,
	"h":       C,
	"rb":      Ruby,
	"sh":      Bash,
	"shell":   Bash,
	"htm":     HTML,
	"erb":     EmbeddedTemplate,
	"ejs":     EmbeddedTemplate,
}

// Normalize lower-cases id and resolves known aliases.
func Normalize(id ID) ID {
	s := strings.ToLower(strings.TrimSpace(string(id)))
	if a, ok := aliases[s]; ok {
		return a
	}
	return ID(s)
}

// grammar is one entry of the registry's language table.
type grammar struct {
	base       ID
	language   *tree_sitter.Language
	extensions []string
}

// builtinGrammars returns the grammars compiled into the binary. Dialects
// record their core language as base so pattern lookup can fall back to it.
func builtinGrammars() map[ID]grammar {
	return map[ID]grammar{
		Go:         {language: tree_sitter.NewLanguage(tree_sitter_go.Language()), extensions: []string{".go"}},
		Python:     {language: tree_sitter.NewLanguage(tree_sitter_python.Language()), extensions: []string{".py", ".pyi"}},
		Rust:       {language: tree_sitter.NewLanguage(tree_sitter_rust.Language()), extensions: []string{".rs"}},
		TypeScript: {base: JavaScript, language: tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript()), extensions: []string{".ts", ".mts", ".cts"}},
		TSX:        {base: TypeScript, language: tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTSX()), extensions: []string{".tsx"}},
		JavaScript: {language: tree_sitter.NewLanguage(tree_sitter_javascript.Language()), extensions: []string{".js", ".mjs", ".cjs"}},
		JSX:        {base: JavaScript, language: tree_sitter.NewLanguage(tree_sitter_javascript.Language()), extensions: []string{".jsx"}},
		Java:       {language: tree_sitter.NewLanguage(tree_sitter_java.Language()), extensions: []string{".java"}},
		C:          {language: tree_sitter.NewLanguage(tree_sitter_c.Language()), extensions: []string{".c", ".h"}},
		Cpp:        {base: C, language: tree_sitter.NewLanguage(tree_sitter_cpp.Language()), extensions: []string{".cpp", ".cc", ".cxx", ".hpp", ".hh", ".hxx"}},
		Ruby:       {language: tree_sitter.NewLanguage(tree_sitter_ruby.Language()), extensions: []string{".rb"}},
		JSON:       {language: tree_sitter.NewLanguage(tree_sitter_json.Language()), extensions: []string{".json"}},
		Bash:       {language: tree_sitter.NewLanguage(tree_sitter_bash.Language()), extensions: []string{".sh", ".bash"}},
		HTML:       {language: tree_sitter.NewLanguage(tree_sitter_html.Language()), extensions: []string{".html", ".htm"}},
		PHP:        {language: tree_sitter.NewLanguage(tree_sitter_php.LanguagePHP()), extensions: []string{".php"}},

		EmbeddedTemplate: {language: tree_sitter.NewLanguage(tree_sitter_embedded_template.Language()), extensions: []string{".erb", ".ejs"}},
	}
}

// builtinBase is the static dialect table, usable without a Registry.
var builtinBase = map[ID]ID{
	TypeScript: JavaScript,
	TSX:        TypeScript,
	JSX:        JavaScript,
	Cpp:        C,
}

// Builtin reports whether id names a grammar compiled into the binary.
func Builtin(id ID) bool {
	switch Normalize(id) {
	case Go, Python, Rust, TypeScript, TSX, JavaScript, JSX, Java, C, Cpp, Ruby, JSON, Bash, HTML, PHP, EmbeddedTemplate:
		return true
	}
	return false
}

// BaseOf returns the core language of a builtin dialect, or "" when id has
// no base.
func BaseOf(id ID) ID {
	return builtinBase[Normalize(id)]
}

// customGrammar creates a table entry for a grammar supplied by the caller.
func customGrammar(base ID, ptr unsafe.Pointer, exts []string) grammar {
	return grammar{base: Normalize(base), language: tree_sitter.NewLanguage(ptr), extensions: exts}
}

func extensionIndex(grammars map[ID]grammar) map[string]ID {
	idx := make(map[string]ID)
	ids := sortedIDs(grammars)
	for _, id := range ids {
		for _, ext := range grammars[id].extensions {
			if _, taken := idx[ext]; !taken {
				idx[ext] = id
			}
		}
	}
	return idx
}

func sortedIDs(grammars map[ID]grammar) []ID {
	ids := make([]ID, 0, len(grammars))
	for id := range grammars {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// extOf returns the lower-cased extension of a file name or a bare
// extension such as "py" or ".py".
func extOf(name string) string {
	if !strings.Contains(name, ".") {
		return "." + strings.ToLower(name)
	}
	return strings.ToLower(filepath.Ext(name))
}
