package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"histclean/internal/domain"
)

type runJSON struct {
	ID            string            `json:"id"`
	Trigger       string            `json:"trigger"`
	Models        []string          `json:"models"`
	DryRun        bool              `json:"dry_run"`
	WindowMinutes int64             `json:"window_minutes,omitempty"`
	BatchSize     int               `json:"batch_size,omitempty"`
	Status        string            `json:"status"`
	Found         int64             `json:"found"`
	Duplicates    int64             `json:"duplicates"`
	Deleted       int64             `json:"deleted"`
	Error         *string           `json:"error,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    *time.Time        `json:"finished_at,omitempty"`
	ModelReports  []modelReportJSON `json:"model_reports,omitempty"`
}

func toRunJSON(r domain.CleanupRun) runJSON {
	return runJSON{
		ID:            r.ID,
		Trigger:       r.Trigger,
		Models:        r.Models,
		DryRun:        r.DryRun,
		WindowMinutes: int64(r.Window / time.Minute),
		BatchSize:     r.BatchSize,
		Status:        string(r.Status),
		Found:         r.Found,
		Duplicates:    r.Duplicates,
		Deleted:       r.Deleted,
		Error:         r.ErrorMessage,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
}

func newRunsCmd(g *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded cleanup runs",
		Long:  "Lists the cleanup-run ledger newest-first, or shows one run with its per-model counters.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := g.open(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				run, err := a.runs.Get(ctx, args[0])
				if err != nil {
					return err
				}
				models, err := a.runs.ModelReports(ctx, run.ID)
				if err != nil {
					return err
				}
				if getOutputFormat(cmd) == "json" {
					rj := toRunJSON(*run)
					rj.ModelReports = toModelReportsJSON(models)
					return printJSON(out, rj)
				}
				printRunDetail(out, run)
				printModelReports(out, models)
				return nil
			}

			runs, total, err := a.runs.List(ctx, domain.PageRequest{MaxResults: limit})
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				list := make([]runJSON, len(runs))
				for i, r := range runs {
					list[i] = toRunJSON(r)
				}
				return printJSON(out, map[string]any{"runs": list, "total": total})
			}

			rows := make([][]string, len(runs))
			for i, r := range runs {
				dry := ""
				if r.DryRun {
					dry = "dry"
				}
				rows[i] = []string{
					r.ID,
					string(r.Status),
					r.Trigger,
					dry,
					strings.Join(r.Models, ","),
					formatCount(r.Duplicates),
					formatCount(r.Deleted),
					formatWhen(r.StartedAt),
				}
			}
			printTable(out, []string{"id", "status", "trigger", "mode", "models", "duplicates", "deleted", "started"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", domain.DefaultMaxResults, "Maximum number of runs to list")
	return cmd
}

func printRunDetail(w io.Writer, r *domain.CleanupRun) {
	finished := "-"
	if r.FinishedAt != nil {
		finished = formatWhen(*r.FinishedAt)
	}
	fields := [][2]string{
		{"id", r.ID},
		{"status", string(r.Status)},
		{"trigger", r.Trigger},
		{"dry run", fmt.Sprintf("%t", r.DryRun)},
		{"window", formatWindow(r.Window)},
		{"batch size", fmt.Sprintf("%d", r.BatchSize)},
		{"found", formatCount(r.Found)},
		{"duplicates", formatCount(r.Duplicates)},
		{"deleted", formatCount(r.Deleted)},
		{"started", formatWhen(r.StartedAt)},
		{"finished", finished},
	}
	if r.ErrorMessage != nil {
		fields = append(fields, [2]string{"error", *r.ErrorMessage})
	}
	for _, f := range fields {
		_, _ = fmt.Fprintf(w, "%s: %s\n", f[0], f[1])
	}
	_, _ = fmt.Fprintln(w)
}
