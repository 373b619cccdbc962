package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"histclean/internal/config"
	"histclean/internal/domain"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			errObj := map[string]interface{}{
				"error": err.Error(),
			}
			if kind := errorKind(err); kind != "" {
				errObj["kind"] = kind
			}
			_ = printJSON(os.Stdout, errObj)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func errorKind(err error) string {
	var notFound *domain.NotFoundError
	var notHistorical *domain.NotHistoricalModelError
	var validation *domain.ValidationError
	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &notHistorical):
		return "not_historical"
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &conflict):
		return "conflict"
	default:
		return ""
	}
}

// globalOptions carries the persistent flags and everything resolved from
// them before a subcommand runs.
type globalOptions struct {
	configPath string
	driver     string
	dsn        string
	ledger     string
	logLevel   string
	verbosity  int
	output     string

	env    *config.Config
	file   *FileConfig
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "histclean",
		Short: "Remove duplicate audit-history snapshots",
		Long: "histclean scans the historical tables written by ORM history extensions and\n" +
			"deletes consecutive snapshots that do not differ in any tracked field.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutputFormat(g.output); err != nil {
				return err
			}
			return g.resolve(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Config file (default ~/.histclean/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&g.driver, "driver", "", "Database driver: sqlite3, postgres or duckdb (inferred from the DSN when empty)")
	rootCmd.PersistentFlags().StringVar(&g.dsn, "dsn", "", "Database DSN of the application whose history is cleaned")
	rootCmd.PersistentFlags().StringVar(&g.ledger, "ledger", "", "Path of the SQLite run ledger")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides --verbosity)")
	rootCmd.PersistentFlags().IntVarP(&g.verbosity, "verbosity", "v", 1, "Verbosity: 0 warnings only, 1 info, 2 debug")
	rootCmd.PersistentFlags().StringVarP(&g.output, "output", "o", "table", "Output format (table, json)")

	rootCmd.AddCommand(newCleanCmd(g))
	rootCmd.AddCommand(newModelsCmd(g))
	rootCmd.AddCommand(newRunsCmd(g))
	rootCmd.AddCommand(newServeCmd(g))
	rootCmd.AddCommand(newTokenCmd(g))
	rootCmd.AddCommand(newVersionCmd())

	// Shell completions
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// resolve loads the environment and the config file and applies the
// precedence flag > env > file > default to the connection settings.
func (g *globalOptions) resolve(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	env, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	g.env = env

	file, err := LoadFileConfig(g.configPath)
	if err != nil {
		return err
	}
	g.file = file

	flags := cmd.Flags()
	if !flags.Changed("driver") {
		g.driver = firstNonEmpty(os.Getenv("HISTCLEAN_DRIVER"), file.Database.Driver)
	}
	if !flags.Changed("dsn") {
		g.dsn = firstNonEmpty(os.Getenv("HISTCLEAN_DSN"), file.Database.DSN)
	}
	if !flags.Changed("ledger") {
		g.ledger = firstNonEmpty(os.Getenv("HISTCLEAN_LEDGER_PATH"), file.Ledger, defaultLedgerPath)
	}
	if !flags.Changed("log-level") {
		g.logLevel = os.Getenv("LOG_LEVEL")
	}

	g.logger = newLogger(cmd.ErrOrStderr(), g.level())
	for _, w := range env.Warnings {
		g.logger.Debug("config", "warning", w)
	}
	return nil
}

// level maps --log-level, or failing that --verbosity, to a slog level.
func (g *globalOptions) level() slog.Level {
	if g.logLevel != "" {
		return (&config.Config{LogLevel: g.logLevel}).SlogLevel()
	}
	switch {
	case g.verbosity <= 0:
		return slog.LevelWarn
	case g.verbosity == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
