package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/sourcelens/internal/edit"
	"github.com/dusk-indust/sourcelens/internal/export"
	"github.com/dusk-indust/sourcelens/internal/lang"
)

type editFlags struct {
	lang  string
	patch string
	write bool
}

// editReport is the JSON form of an applied patch.
type editReport struct {
	Name    string               `json:"name"`
	IsValid bool                 `json:"isValid"`
	Edits   []export.EditExport  `json:"edits"`
	Changed []export.RangeExport `json:"changedRanges"`
	Errors  []export.ErrorExport `json:"errors,omitempty"`
	Content string               `json:"content,omitempty"`
}

func newEditCmd() *cobra.Command {
	var f editFlags
	cmd := &cobra.Command{
		Use:   "edit <file> --patch <diff>",
		Short: "Apply a unified diff to a file with an incremental reparse",
		Long:  "Converts a unified diff into byte edits, applies them to the parsed file, reparses incrementally, and reports the changed ranges and any syntax errors the edit introduced.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd, args[0], f)
		},
	}
	cmd.Flags().StringVar(&f.lang, "lang", "", "treat the file as this language")
	cmd.Flags().StringVar(&f.patch, "patch", "", "unified diff to apply ('-' reads stdin)")
	cmd.Flags().BoolVar(&f.write, "write", false, "write the edited source back to the file")
	_ = cmd.MarkFlagRequired("patch")
	return cmd
}

func runEdit(cmd *cobra.Command, path string, f editFlags) error {
	a := current

	sources, err := collectSources(a.registry, []string{path}, walkOptions{Language: lang.ID(f.lang)})
	if err != nil {
		return err
	}
	if len(sources) != 1 {
		return fmt.Errorf("%s: expected a single file", path)
	}
	src := sources[0]

	var patch []byte
	if f.patch == "-" {
		patch, err = io.ReadAll(cmd.InOrStdin())
	} else {
		patch, err = os.ReadFile(f.patch)
	}
	if err != nil {
		return fmt.Errorf("read patch: %w", err)
	}

	batch, err := edit.BatchFromPatch(src.Content, patch)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	e := a.engine(false)
	defer e.Close()

	ctx := cmd.Context()
	res, err := e.Parse(ctx, src.Content, src.Language)
	if err != nil {
		return err
	}
	defer res.Close()

	next, err := e.ApplyEdits(ctx, res.Tree, batch)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer next.Close()

	changed, err := e.Diff(res.Tree, next.Tree)
	if err != nil {
		return err
	}

	content := next.Tree.Source()
	if f.write {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, content, info.Mode().Perm()); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}

	if flagFormat == "json" {
		report := editReport{
			Name:    path,
			IsValid: next.IsValid,
			Edits:   export.ExportEdits(batch),
			Changed: export.ExportRanges(changed),
			Errors:  export.ExportErrors(next.Errors),
		}
		if !f.write {
			report.Content = string(content)
		}
		return export.WriteJSON(a.stdout, report)
	}

	if !f.write {
		a.stdout.Write(content)
	}
	formatRangesText(a.stderr, path, export.ExportRanges(changed))
	formatErrorsText(a.stderr, path, export.ExportErrors(next.Errors))
	return nil
}
