package cli

import (
	"github.com/spf13/cobra"

	"histclean/internal/domain"
)

type modelJSON struct {
	Label        string `json:"label"`
	Table        string `json:"table,omitempty"`
	HistoryTable string `json:"history_table"`
	Configured   bool   `json:"configured"`
}

func newModelsCmd(g *globalOptions) *cobra.Command {
	var auto bool

	cmd := &cobra.Command{
		Use:   "models [app.model ...]",
		Short: "List historical models",
		Long: "Lists the configured models, resolves the named ones, or with --auto lists\n" +
			"every model whose history table can be discovered in the database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := g.open(ctx, appOptions{target: true})
			if err != nil {
				return err
			}
			defer a.Close()

			var models []domain.Model
			switch {
			case len(args) > 0:
				models, err = a.registry.Resolve(ctx, args)
			case auto:
				models, err = a.registry.Auto(ctx)
			default:
				models = a.registry.Configured()
			}
			if err != nil {
				return err
			}

			configured := make(map[string]bool)
			for _, m := range a.registry.Configured() {
				configured[m.Label] = true
			}

			if getOutputFormat(cmd) == "json" {
				out := make([]modelJSON, len(models))
				for i, m := range models {
					out[i] = modelJSON{Label: m.Label, Table: m.Table, HistoryTable: m.HistoryTable, Configured: configured[m.Label]}
				}
				return printJSON(cmd.OutOrStdout(), out)
			}

			rows := make([][]string, len(models))
			for i, m := range models {
				table := m.Table
				if m.HistoryOnly() {
					table = "-"
				}
				source := "convention"
				if configured[m.Label] {
					source = "config"
				}
				rows[i] = []string{m.Label, table, m.HistoryTable, source}
			}
			printTable(cmd.OutOrStdout(), []string{"model", "table", "history table", "source"}, rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&auto, "auto", false, "Discover models from the database schema")
	return cmd
}
