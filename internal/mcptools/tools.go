package mcptools

import "github.com/dusk-indust/sourcelens/internal/export"

// --- MCP Tool Input Types ---
// These structs define the JSON schema for each MCP tool's input.
// The MCP Go SDK auto-generates JSON schemas from struct tags.

// ParseSourceInput is the input for the parse_source MCP tool.
type ParseSourceInput struct {
	Content   string `json:"content" jsonschema:"the source text to parse"`
	Language  string `json:"language" jsonschema:"language name or alias, e.g. python, go, tsx"`
	Recover   bool   `json:"recover,omitempty" jsonschema:"try small repairs when the source has syntax errors"`
	Outline   bool   `json:"outline,omitempty" jsonschema:"include an indented outline of the named syntax tree"`
	Mermaid   bool   `json:"mermaid,omitempty" jsonschema:"include a Mermaid diagram of the syntax tree"`
	TreeDepth int    `json:"treeDepth,omitempty" jsonschema:"maximum depth of the outline and diagram (default: unlimited)"`
}

// ParseSourceOutput is the result of the parse_source MCP tool.
type ParseSourceOutput struct {
	Language  string                `json:"language"`
	IsValid   bool                  `json:"isValid"`
	NodeCount int                   `json:"nodeCount"`
	LineCount int                   `json:"lineCount"`
	Metadata  export.MetadataExport `json:"metadata"`
	Errors    []export.ErrorExport  `json:"errors,omitempty"`
	Repairs   []export.EditExport   `json:"repairs,omitempty"`
	Content   string                `json:"content,omitempty"`
	Outline   string                `json:"outline,omitempty"`
	Mermaid   string                `json:"mermaid,omitempty"`
}

// RunQueryInput is the input for the run_query MCP tool.
type RunQueryInput struct {
	Content       string `json:"content" jsonschema:"the source text to query"`
	Language      string `json:"language" jsonschema:"language name or alias"`
	Category      string `json:"category,omitempty" jsonschema:"builtin pattern category: function, class, method, import, interface, struct, namespace, comment, string, error, jsx_element"`
	Pattern       string `json:"pattern,omitempty" jsonschema:"tree-sitter query source, used when category is empty"`
	MatchLimit    uint32 `json:"matchLimit,omitempty" jsonschema:"cap on in-progress matches"`
	MaxStartDepth uint32 `json:"maxStartDepth,omitempty" jsonschema:"deepest level below the root where a match may start"`
}

// RunQueryOutput is the result of the run_query MCP tool.
type RunQueryOutput struct {
	Captures []export.CaptureExport `json:"captures"`
	Stats    export.StatsExport     `json:"stats"`
}

// EditInput is one byte-range replacement.
type EditInput struct {
	StartByte  uint   `json:"startByte" jsonschema:"first byte to replace"`
	OldEndByte uint   `json:"oldEndByte" jsonschema:"end of the replaced range, exclusive"`
	Text       string `json:"text" jsonschema:"replacement text"`
}

// ApplyEditsInput is the input for the apply_edits MCP tool.
type ApplyEditsInput struct {
	Content  string      `json:"content" jsonschema:"the source text to edit"`
	Language string      `json:"language" jsonschema:"language name or alias"`
	Patch    string      `json:"patch,omitempty" jsonschema:"unified diff against content; takes precedence over edits"`
	Edits    []EditInput `json:"edits,omitempty" jsonschema:"byte-range edits, applied as one batch"`
}

// ApplyEditsOutput is the result of the apply_edits MCP tool.
type ApplyEditsOutput struct {
	Content string               `json:"content"`
	IsValid bool                 `json:"isValid"`
	Edits   []export.EditExport  `json:"edits"`
	Changed []export.RangeExport `json:"changedRanges"`
	Errors  []export.ErrorExport `json:"errors,omitempty"`
}

// DiffSourcesInput is the input for the diff_sources MCP tool.
type DiffSourcesInput struct {
	Old      string `json:"old" jsonschema:"the original source text"`
	New      string `json:"new" jsonschema:"the changed source text"`
	Language string `json:"language" jsonschema:"language name or alias"`
}

// DiffSourcesOutput is the result of the diff_sources MCP tool.
type DiffSourcesOutput struct {
	Changed []export.RangeExport `json:"changedRanges"`
}

// ClassifyErrorsInput is the input for the classify_errors MCP tool.
type ClassifyErrorsInput struct {
	Content  string `json:"content" jsonschema:"the source text to check"`
	Language string `json:"language" jsonschema:"language name or alias"`
}

// ClassifyErrorsOutput is the result of the classify_errors MCP tool.
type ClassifyErrorsOutput struct {
	IsValid bool                 `json:"isValid"`
	Errors  []export.ErrorExport `json:"errors"`
}

// ListLanguagesInput is the input for the list_languages MCP tool.
type ListLanguagesInput struct{}

// LanguageInfo describes one supported language.
type LanguageInfo struct {
	Name       string   `json:"name"`
	Base       string   `json:"base,omitempty"`
	Categories []string `json:"categories"`
}

// ListLanguagesOutput is the result of the list_languages MCP tool.
type ListLanguagesOutput struct {
	Languages []LanguageInfo `json:"languages"`
}
