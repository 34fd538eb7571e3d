package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dusk-indust/sourcelens/internal/engine"
	"github.com/dusk-indust/sourcelens/internal/lang"
)

// walkOptions filters the files collected from directories.
type walkOptions struct {
	// Language forces every file to this language. When empty the language
	// comes from the file extension.
	Language lang.ID
	// Languages limits directory walks to these languages. Empty allows all.
	Languages   []string
	ExcludeDirs []string
}

// collectSources reads the named files and every recognised source file
// below the named directories. Explicitly named files must have a known
// language; files found while walking are skipped when they do not.
func collectSources(reg *lang.Registry, paths []string, opts walkOptions) ([]engine.Source, error) {
	allowed := make(map[lang.ID]bool, len(opts.Languages))
	for _, l := range opts.Languages {
		allowed[lang.Normalize(lang.ID(l))] = true
	}
	excludeSet := make(map[string]bool, len(opts.ExcludeDirs))
	for _, d := range opts.ExcludeDirs {
		excludeSet[d] = true
	}

	languageOf := func(path string) (lang.ID, bool) {
		if opts.Language != "" {
			return opts.Language, true
		}
		return reg.ForExtension(path)
	}

	var sources []engine.Source
	add := func(path string, id lang.ID) error {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		sources = append(sources, engine.Source{Name: path, Content: content, Language: id})
		return nil
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", root, err)
		}
		if !info.IsDir() {
			id, ok := languageOf(root)
			if !ok {
				return nil, fmt.Errorf("%s: unknown language, use --lang", root)
			}
			if err := add(root, id); err != nil {
				return nil, err
			}
			continue
		}

		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // skip inaccessible paths
			}
			if d.IsDir() {
				name := d.Name()
				if path != root && (name == ".git" || excludeSet[name]) {
					return filepath.SkipDir
				}
				return nil
			}
			id, ok := languageOf(path)
			if !ok {
				return nil
			}
			if len(allowed) > 0 && !allowed[id] && !allowed[lang.BaseOf(id)] {
				return nil
			}
			return add(path, id)
		})
		if walkErr != nil {
			return nil, fmt.Errorf("walk: %w", walkErr)
		}
	}
	return sources, nil
}
