package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"histclean/internal/domain"
	"histclean/internal/registry"
)

// stdinIsTerminal reports whether confirmation prompts can be shown.
var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

type cleanFlags struct {
	auto       bool
	dry        bool
	minutes    int
	excluded   []string
	batchSize  int
	batchSleep int
	keep       string
	parallel   int
	txRate     float64
	archive    string
	yes        bool
}

// options converts the flags. Excluded fields fall back to the config file.
func (f *cleanFlags) options(g *globalOptions) (domain.CleanupOptions, error) {
	if f.minutes < 0 {
		return domain.CleanupOptions{}, domain.ErrValidation("--minutes must not be negative")
	}
	keep, err := domain.ParseKeepPolicy(f.keep)
	if err != nil {
		return domain.CleanupOptions{}, err
	}
	var excluded []string
	for _, v := range f.excluded {
		excluded = append(excluded, strings.Fields(v)...)
	}
	if len(excluded) == 0 {
		excluded = g.file.ExcludedFields
	}
	opts := domain.CleanupOptions{
		DryRun:         f.dry,
		Window:         time.Duration(f.minutes) * time.Minute,
		ExcludedFields: excluded,
		BatchSize:      f.batchSize,
		BatchSleep:     time.Duration(f.batchSleep) * time.Second,
		Keep:           keep,
		Parallelism:    f.parallel,
		TxRate:         f.txRate,
	}
	return opts, opts.Validate()
}

func newCleanCmd(g *globalOptions) *cobra.Command {
	f := &cleanFlags{}

	cmd := &cobra.Command{
		Use:   "clean [app.model ...]",
		Short: "Delete duplicate history snapshots",
		Long: "Scans the history of the named models (or every discovered model with --auto)\n" +
			"and deletes snapshots identical to their neighbour in all tracked fields.",
		Example: "  histclean clean polls.poll --minutes 60 --dry\n" +
			"  histclean clean --auto --batch-size 1000 --batch-sleep 2 --excluded-fields modified",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.checkLabels(args); err != nil {
				return err
			}
			if len(args) == 0 && !f.auto {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), registry.Hint)
				return nil
			}
			opts, err := f.options(g)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := g.open(ctx, appOptions{target: true, archiveURI: g.archiveURI(f.archive)})
			if err != nil {
				return err
			}
			defer a.Close()

			var models []domain.Model
			if len(args) > 0 {
				models, err = a.registry.Resolve(ctx, args)
			} else {
				models, err = a.registry.Auto(ctx)
			}
			if err != nil {
				return err
			}
			if len(models) == 0 {
				g.logger.Warn("no historical models found")
				return nil
			}

			if !opts.DryRun && !f.yes && stdinIsTerminal() {
				ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), models)
				if err != nil {
					return err
				}
				if !ok {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Aborted.")
					return nil
				}
			}

			report, err := a.service.Run(ctx, domain.TriggerCLI, models, opts)
			if report != nil {
				if perr := printReport(cmd, report); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}

	f.bind(cmd.Flags())
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}

// checkLabels catches excluded fields passed space-separated, which the
// command line parser takes for model labels.
func (f *cleanFlags) checkLabels(args []string) error {
	if len(f.excluded) == 0 {
		return nil
	}
	for _, a := range args {
		if !strings.Contains(a, ".") {
			return domain.ErrValidation("%q is not an app.model label: pass several excluded fields as --excluded-fields a,b or repeat the flag", a)
		}
	}
	return nil
}

// bind registers the flags shared by clean and serve.
func (f *cleanFlags) bind(flags *pflag.FlagSet) {
	flags.BoolVar(&f.auto, "auto", false, "Automatically search for models with history tables")
	flags.BoolVarP(&f.dry, "dry", "d", false, "Dry (test) run only, no changes")
	flags.IntVarP(&f.minutes, "minutes", "m", 0, "Only search the last MINUTES of history")
	flags.StringSliceVar(&f.excluded, "excluded-fields", nil, "Fields to be excluded from the diff check, comma-separated or repeated (a,b or --excluded-fields a --excluded-fields b)")
	flags.IntVar(&f.batchSize, "batch-size", 0, "Delete in batches of this size, each in its own transaction")
	flags.IntVar(&f.batchSleep, "batch-sleep", 0, "Seconds to wait in between batches")
	flags.StringVar(&f.keep, "keep", string(domain.KeepOldest), "Snapshot of a duplicate pair to keep: oldest or latest")
	flags.IntVar(&f.parallel, "parallel", 1, "Models processed concurrently")
	flags.Float64Var(&f.txRate, "tx-rate", 0, "Max delete transactions per second (0 is unlimited)")
	flags.StringVar(&f.archive, "archive", "", "Archive deleted snapshots to this location (dir, s3://, gs://, az://)")
	flags.SetNormalizeFunc(underscoreToDash)
}

// underscoreToDash accepts --excluded_fields for --excluded-fields.
func underscoreToDash(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func confirm(in io.Reader, out io.Writer, models []domain.Model) (bool, error) {
	labels := make([]string, len(models))
	for i, m := range models {
		labels[i] = m.Label
	}
	_, _ = fmt.Fprintf(out, "Duplicate snapshots of %s will be deleted. Continue? [y/N] ", strings.Join(labels, ", "))
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

type reportJSON struct {
	RunID      string            `json:"run_id"`
	DryRun     bool              `json:"dry_run"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Models     []modelReportJSON `json:"models"`
	Found      int64             `json:"found"`
	Duplicates int64             `json:"duplicates"`
	Deleted    int64             `json:"deleted"`
}

type modelReportJSON struct {
	Model      string `json:"model"`
	Found      int64  `json:"found"`
	Objects    int64  `json:"objects"`
	Duplicates int64  `json:"duplicates"`
	Deleted    int64  `json:"deleted"`
	Batches    int    `json:"batches"`
}

func toModelReportsJSON(in []domain.ModelReport) []modelReportJSON {
	out := make([]modelReportJSON, len(in))
	for i, m := range in {
		out[i] = modelReportJSON(m)
	}
	return out
}

func printReport(cmd *cobra.Command, r *domain.Report) error {
	found, dups, deleted := r.Totals()
	out := cmd.OutOrStdout()

	if getOutputFormat(cmd) == "json" {
		return printJSON(out, reportJSON{
			RunID:      r.RunID,
			DryRun:     r.DryRun,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			Models:     toModelReportsJSON(r.Models),
			Found:      found,
			Duplicates: dups,
			Deleted:    deleted,
		})
	}

	printModelReports(out, r.Models)
	elapsed := r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)
	if r.DryRun {
		_, _ = fmt.Fprintf(out, "Dry run: %s of %s snapshots are duplicates (%s)\n",
			formatCount(dups), formatCount(found), elapsed)
		return nil
	}
	_, _ = fmt.Fprintf(out, "Removed %s duplicate snapshots of %s scanned (%s)\n",
		formatCount(deleted), formatCount(found), elapsed)
	return nil
}

func printModelReports(w io.Writer, reports []domain.ModelReport) {
	rows := make([][]string, 0, len(reports))
	for _, m := range reports {
		rows = append(rows, []string{
			m.Model,
			formatCount(m.Found),
			formatCount(m.Objects),
			formatCount(m.Duplicates),
			formatCount(m.Deleted),
			fmt.Sprintf("%d", m.Batches),
		})
	}
	printTable(w, []string{"model", "found", "objects", "duplicates", "deleted", "batches"}, rows)
}
