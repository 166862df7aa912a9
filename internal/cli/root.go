package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"minder-cli/internal/format"
	"minder-cli/internal/logging"
	"minder-cli/internal/store"

	"github.com/spf13/cobra"
)

type App struct {
	Dir        string
	Project    string
	PrettyJSON bool
	Format     string
	LogLevel   string

	cfg store.Config
	log *slog.Logger
}

func NewRootCmd() *cobra.Command {
	app := &App{log: logging.Discard()}

	cmd := &cobra.Command{
		Use:          "minder",
		Short:        "Minder: a personal task outline",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Create a workspace with a first project
  minder init --name Home

  # Add items and shape the outline
  minder items add "plan the trip"
  minder items child item-abc "book flights"
  minder items nest item-def

  # What should I do now?
  minder view focus --format text

  # Direct item lookup (shortcut for: minder items show <item-id>)
  minder item-abc
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return app.setup(cmd)
	}

	cmd.PersistentFlags().StringVar(&app.Dir, "dir", envOr("MINDER_DIR", ""), "Path to the workspace dir (default: nearest .minder)")
	cmd.PersistentFlags().StringVar(&app.Project, "project", envOr("MINDER_PROJECT", ""), "Project id or name (default: current project)")
	cmd.PersistentFlags().BoolVar(&app.PrettyJSON, "pretty", false, "Pretty-print output")
	cmd.PersistentFlags().StringVar(&app.Format, "format", envOr("MINDER_FORMAT", "json"), "Output format (json|edn|yaml|text)")
	cmd.PersistentFlags().StringVar(&app.LogLevel, "log-level", envOr("MINDER_LOG_LEVEL", ""), "Log level on stderr (debug|info|warn|error)")

	cmd.AddCommand(newInitCmd(app))
	cmd.AddCommand(newProjectsCmd(app))
	cmd.AddCommand(newItemsCmd(app))
	cmd.AddCommand(newViewCmd(app))
	cmd.AddCommand(newEventsCmd(app))
	cmd.AddCommand(newWatchCmd(app))
	cmd.AddCommand(newDoctorCmd(app))
	cmd.AddCommand(newDocsCmd(app))
	cmd.AddCommand(newPublishCmd(app))
	cmd.AddCommand(newTUICmd(app))
	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newWebTUICmd(app))

	return cmd
}

// setup resolves the workspace dir, merges global and workspace config, and
// builds the logger. Flags beat environment, which beats config files.
func (app *App) setup(cmd *cobra.Command) error {
	if !format.Valid(app.Format) {
		return writeErr(cmd, fmt.Errorf("unknown format: %s", app.Format))
	}
	if app.Dir == "" {
		d, err := store.DefaultDir()
		if err != nil {
			return writeErr(cmd, err)
		}
		app.Dir = d
	}
	cfg, err := store.LoadConfig(store.GlobalConfigDir(), app.Dir)
	if err != nil {
		return writeErr(cmd, err)
	}
	if dsn := os.Getenv("MINDER_PG_DSN"); dsn != "" {
		cfg.Store.Driver, cfg.Store.DSN = "postgres", dsn
	}
	app.cfg = cfg

	levelStr := app.LogLevel
	if levelStr == "" {
		levelStr = cfg.Log.Level
	}
	level, err := logging.ParseLevel(levelStr)
	if err != nil {
		return writeErr(cmd, err)
	}
	app.log = logging.New(cmd.ErrOrStderr(), level)
	return nil
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func writeOut(cmd *cobra.Command, app *App, v any) error {
	return format.Write(cmd.OutOrStdout(), v, app.Format, app.PrettyJSON)
}

func writeErr(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
	return err
}
