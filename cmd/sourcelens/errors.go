package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/sourcelens/internal/export"
	"github.com/dusk-indust/sourcelens/internal/lang"
)

// errSyntax makes the errors command exit non-zero when any file has a
// syntax error.
var errSyntax = errors.New("syntax errors found")

// fileErrors is the JSON form of one file's classified errors.
type fileErrors struct {
	Name   string               `json:"name"`
	Errors []export.ErrorExport `json:"errors"`
}

func newErrorsCmd() *cobra.Command {
	var langFlag string
	cmd := &cobra.Command{
		Use:   "errors <path>...",
		Short: "Classify syntax errors in files",
		Long:  "Reports each syntax error with its position, the surrounding context, and the tokens the grammar expected. Exits non-zero when any file has errors.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runErrors(cmd, args, lang.ID(langFlag))
		},
	}
	cmd.Flags().StringVar(&langFlag, "lang", "", "treat every file as this language")
	return cmd
}

func runErrors(cmd *cobra.Command, args []string, id lang.ID) error {
	a := current
	sources, err := collectSources(a.registry, args, walkOptions{
		Language:    id,
		Languages:   a.cfg.Languages,
		ExcludeDirs: a.cfg.ExcludeDirs,
	})
	if err != nil {
		return err
	}

	e := a.engine(false)
	defer e.Close()

	results, err := e.ParseAll(cmd.Context(), sources)
	defer func() {
		for _, r := range results {
			r.Result.Close()
		}
	}()
	if err != nil {
		return err
	}

	out := []fileErrors{}
	total := 0
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("%s: %w", r.Name, r.Err)
		}
		errs := export.ExportErrors(e.ClassifyErrors(r.Result.Tree))
		total += len(errs)
		if flagFormat == "json" {
			if errs == nil {
				errs = []export.ErrorExport{}
			}
			out = append(out, fileErrors{Name: r.Name, Errors: errs})
			continue
		}
		formatErrorsText(a.stdout, r.Name, errs)
	}

	if flagFormat == "json" {
		if err := export.WriteJSON(a.stdout, out); err != nil {
			return err
		}
	}
	if total > 0 {
		return fmt.Errorf("%w: %d in %d files", errSyntax, total, len(results))
	}
	return nil
}
