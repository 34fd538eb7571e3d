package patterns

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dusk-indust/sourcelens/internal/lang"
)

// ErrNoPattern is returned when neither a language nor its base language
// defines a pattern for the requested category.
var ErrNoPattern = errors.New("no pattern for category")

// Category is the semantic kind of construct a pattern matches.
type Category string

const (
	Function   Category = "function"
	Class      Category = "class"
	Method     Category = "method"
	Import     Category = "import"
	Interface  Category = "interface"
	Struct     Category = "struct"
	Namespace  Category = "namespace"
	Comment    Category = "comment"
	String     Category = "string"
	Error      Category = "error"
	JSXElement Category = "jsx_element"
)

// AllCategories lists every category in a stable order.
var AllCategories = []Category{
	Function, Class, Method, Import, Interface, Struct, Namespace,
	Comment, String, Error, JSXElement,
}

// Pattern is a query template for one language and category. Captures
// follow the "<category>.<role>" convention, e.g. "function.name".
type Pattern struct {
	Language lang.ID  `json:"language"`
	Category Category `json:"category"`
	Source   string   `json:"source"`
	Captures []string `json:"captures"`
}

// NameCapture returns the capture that binds the construct's name.
func (c Category) NameCapture() string { return string(c) + ".name" }

// DefCapture returns the capture that binds the whole construct.
func (c Category) DefCapture() string { return string(c) + ".def" }

const errorPattern = `(ERROR) @error.node`

// library holds the patterns per language. A category missing here is
// looked up on the language's base.
var library = map[lang.ID]map[Category]string{
	lang.Python: {
		Function: `(function_definition name: (identifier) @function.name) @function.def`,
		Class:    `(class_definition name: (identifier) @class.name) @class.def`,
		Method: `(class_definition
  body: (block (function_definition name: (identifier) @method.name) @method.def))
(class_definition
  body: (block (decorated_definition
    definition: (function_definition name: (identifier) @method.name)) @method.def))`,
		Import: `(import_statement name: (_) @import.name) @import.def
(import_from_statement module_name: (_) @import.name) @import.def`,
		Comment: `(comment) @comment.def`,
		String:  `(string) @string.def`,
	},
	lang.Go: {
		Function: `(function_declaration name: (identifier) @function.name) @function.def`,
		Method: `(method_declaration
  receiver: (parameter_list) @method.receiver
  name: (field_identifier) @method.name) @method.def`,
		Struct:    `(type_spec name: (type_identifier) @struct.name type: (struct_type)) @struct.def`,
		Interface: `(type_spec name: (type_identifier) @interface.name type: (interface_type)) @interface.def`,
		Import:    `(import_spec path: (_) @import.name) @import.def`,
		Namespace: `(package_clause (package_identifier) @namespace.name) @namespace.def`,
		Comment:   `(comment) @comment.def`,
		String: `(interpreted_string_literal) @string.def
(raw_string_literal) @string.def`,
	},
	lang.Rust: {
		Function: `(function_item name: (identifier) @function.name) @function.def`,
		Class:    `(impl_item type: (_) @class.name) @class.def`,
		Method: `(impl_item
  body: (declaration_list (function_item name: (identifier) @method.name) @method.def))`,
		Struct: `(struct_item name: (type_identifier) @struct.name) @struct.def
(enum_item name: (type_identifier) @struct.name) @struct.def`,
		Interface: `(trait_item name: (type_identifier) @interface.name) @interface.def`,
		Import:    `(use_declaration argument: (_) @import.name) @import.def`,
		Namespace: `(mod_item name: (identifier) @namespace.name) @namespace.def`,
		Comment: `(line_comment) @comment.def
(block_comment) @comment.def`,
		String: `(string_literal) @string.def
(raw_string_literal) @string.def`,
	},
	lang.JavaScript: {
		Function: `(function_declaration name: (_) @function.name) @function.def
(generator_function_declaration name: (_) @function.name) @function.def
(variable_declarator
  name: (identifier) @function.name
  value: [(arrow_function) (function_expression)]) @function.def`,
		Class:   `(class_declaration name: (_) @class.name) @class.def`,
		Method:  `(method_definition name: (_) @method.name) @method.def`,
		Import:  `(import_statement source: (string) @import.name) @import.def`,
		Comment: `(comment) @comment.def`,
		String: `(string) @string.def
(template_string) @string.def`,
		JSXElement: `(jsx_element open_tag: (jsx_opening_element name: (_) @jsx_element.name)) @jsx_element.def
(jsx_self_closing_element name: (_) @jsx_element.name) @jsx_element.def`,
	},
	lang.TypeScript: {
		Class: `(class_declaration name: (type_identifier) @class.name) @class.def
(abstract_class_declaration name: (type_identifier) @class.name) @class.def`,
		Interface: `(interface_declaration name: (type_identifier) @interface.name) @interface.def`,
		Struct:    `(type_alias_declaration name: (type_identifier) @struct.name) @struct.def`,
		Namespace: `(internal_module name: (_) @namespace.name) @namespace.def`,
	},
	lang.Java: {
		Function: `(method_declaration name: (identifier) @function.name) @function.def`,
		Class: `(class_declaration name: (identifier) @class.name) @class.def
(record_declaration name: (identifier) @class.name) @class.def
(enum_declaration name: (identifier) @class.name) @class.def`,
		Method: `(method_declaration name: (identifier) @method.name) @method.def
(constructor_declaration name: (identifier) @method.name) @method.def`,
		Interface: `(interface_declaration name: (identifier) @interface.name) @interface.def`,
		Import:    `(import_declaration (_) @import.name) @import.def`,
		Namespace: `(package_declaration (_) @namespace.name) @namespace.def`,
		Comment: `(line_comment) @comment.def
(block_comment) @comment.def`,
		String: `(string_literal) @string.def`,
	},
	lang.C: {
		Function: `(function_definition
  declarator: (function_declarator declarator: (identifier) @function.name)) @function.def`,
		Struct:  `(struct_specifier name: (type_identifier) @struct.name body: (_)) @struct.def`,
		Import:  `(preproc_include path: (_) @import.name) @import.def`,
		Comment: `(comment) @comment.def`,
		String:  `(string_literal) @string.def`,
	},
	lang.Cpp: {
		Class: `(class_specifier name: (_) @class.name body: (_)) @class.def`,
		Method: `(field_declaration_list
  (function_definition
    declarator: (function_declarator declarator: (field_identifier) @method.name)) @method.def)`,
		Namespace: `(namespace_definition name: (_) @namespace.name) @namespace.def`,
		String: `(string_literal) @string.def
(raw_string_literal) @string.def`,
	},
	lang.Ruby: {
		Function: `(method name: (_) @function.name) @function.def`,
		Class:    `(class name: (_) @class.name) @class.def`,
		Method: `(method name: (_) @method.name) @method.def
(singleton_method name: (_) @method.name) @method.def`,
		Namespace: `(module name: (_) @namespace.name) @namespace.def`,
		Import: `((call
  method: (identifier) @import.method
  arguments: (argument_list (string) @import.name)) @import.def
  (#match? @import.method "^(require|require_relative|load)$"))`,
		Comment: `(comment) @comment.def`,
		String:  `(string) @string.def`,
	},
	lang.PHP: {
		Function: `(function_definition name: (name) @function.name) @function.def`,
		Class: `(class_declaration name: (name) @class.name) @class.def
(trait_declaration name: (name) @class.name) @class.def`,
		Method:    `(method_declaration name: (name) @method.name) @method.def`,
		Interface: `(interface_declaration name: (name) @interface.name) @interface.def`,
		Namespace: `(namespace_definition name: (namespace_name) @namespace.name) @namespace.def`,
		Import:    `(namespace_use_declaration (namespace_use_clause) @import.name) @import.def`,
		Comment:   `(comment) @comment.def`,
		String: `(string) @string.def
(encapsed_string) @string.def`,
	},
	lang.Bash: {
		Function: `(function_definition name: (word) @function.name) @function.def`,
		Comment:  `(comment) @comment.def`,
		String: `(string) @string.def
(raw_string) @string.def`,
	},
	lang.JSON: {
		Comment: `(comment) @comment.def`,
		String:  `(string) @string.def`,
	},
	lang.HTML: {
		Comment: `(comment) @comment.def`,
		String:  `(quoted_attribute_value) @string.def`,
	},
	lang.EmbeddedTemplate: {
		Comment: `(comment_directive) @comment.def`,
	},
}

// omitted blocks base fallback for categories whose base pattern uses
// node kinds the dialect's grammar lacks.
var omitted = map[lang.ID]map[Category]bool{
	lang.TypeScript: {JSXElement: true},
}

// Dialects reports which languages exist and what each one is based on.
// *lang.Registry satisfies it, so grammars added with lang.WithGrammar
// resolve through their base language's patterns.
type Dialects interface {
	Supported(id lang.ID) bool
	Base(id lang.ID) lang.ID
}

type builtinDialects struct{}

func (builtinDialects) Supported(id lang.ID) bool { return lang.Builtin(id) }
func (builtinDialects) Base(id lang.ID) lang.ID   { return lang.BaseOf(id) }

// Lookup resolves the pattern for a category: the language's own pattern,
// then its base language's, then ErrNoPattern. Languages without a
// builtin grammar fail with lang.ErrUnsupportedLanguage.
func Lookup(id lang.ID, cat Category) (Pattern, error) {
	return LookupIn(builtinDialects{}, id, cat)
}

// LookupIn is Lookup over the languages known to d.
func LookupIn(d Dialects, id lang.ID, cat Category) (Pattern, error) {
	id = lang.Normalize(id)
	if !d.Supported(id) {
		return Pattern{}, fmt.Errorf("%w: %q", lang.ErrUnsupportedLanguage, id)
	}

	src, ok := resolve(d, id, cat)
	if !ok {
		return Pattern{}, fmt.Errorf("%w: %s/%s", ErrNoPattern, id, cat)
	}
	return Pattern{
		Language: id,
		Category: cat,
		Source:   src,
		Captures: CaptureNames(src),
	}, nil
}

func resolve(d Dialects, id lang.ID, cat Category) (string, bool) {
	if cat == Error {
		return errorPattern, true
	}
	// omitted applies to the nearest builtin grammar in the chain.
	checked := false
	seen := make(map[lang.ID]bool)
	for cur := id; cur != "" && !seen[cur]; cur = d.Base(cur) {
		seen[cur] = true
		if !checked && lang.Builtin(cur) {
			checked = true
			if omitted[cur][cat] {
				return "", false
			}
		}
		if src, ok := library[cur][cat]; ok {
			return src, true
		}
	}
	return "", false
}

// Categories lists the categories resolvable for a builtin language, in
// the order of AllCategories.
func Categories(id lang.ID) []Category {
	return CategoriesIn(builtinDialects{}, id)
}

// CategoriesIn is Categories over the languages known to d.
func CategoriesIn(d Dialects, id lang.ID) []Category {
	id = lang.Normalize(id)
	if !d.Supported(id) {
		return nil
	}
	var cats []Category
	for _, c := range AllCategories {
		if _, ok := resolve(d, id, c); ok {
			cats = append(cats, c)
		}
	}
	return cats
}

// ParseCategory converts a user-supplied category name.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllCategories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

var captureRe = regexp.MustCompile(`@([A-Za-z_][A-Za-z0-9_.\-]*)`)

// CaptureNames returns the distinct capture names declared in src, sorted.
func CaptureNames(src string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range captureRe.FindAllStringSubmatch(src, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	sort.Strings(names)
	return names
}
