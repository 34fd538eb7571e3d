package main

import (
	"github.com/spf13/cobra"

	"github.com/dusk-indust/sourcelens/internal/export"
	"github.com/dusk-indust/sourcelens/internal/patterns"
)

func newLanguagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List supported languages and their pattern categories",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			a := current
			var rows []languageRow
			for _, id := range a.registry.Known() {
				row := languageRow{Name: string(id), Categories: []string{}}
				if base := a.registry.Base(id); base != "" && base != id {
					row.Base = string(base)
				}
				for _, c := range patterns.CategoriesIn(a.registry, id) {
					row.Categories = append(row.Categories, string(c))
				}
				rows = append(rows, row)
			}
			if flagFormat == "json" {
				return export.WriteJSON(a.stdout, rows)
			}
			formatLanguagesText(a.stdout, rows)
			return nil
		},
	}
}
