package cli

import (
	"strings"

	"minder-cli/internal/model"
	"minder-cli/internal/statusutil"
	"minder-cli/internal/store"

	"github.com/spf13/cobra"
)

func newInitCmd(app *App) *cobra.Command {
	var name, driver, dsn, filter string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace and its first project",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := store.Store{Dir: app.Dir}
			if err := s.Ensure(); err != nil {
				return writeErr(cmd, err)
			}

			wrote := false
			if driver != "" || dsn != "" || filter != "" {
				cfg, err := store.ReadConfigDir(app.Dir)
				if err != nil {
					return writeErr(cmd, err)
				}
				if driver != "" {
					cfg.Store.Driver = driver
				}
				if dsn != "" {
					cfg.Store.DSN = dsn
				}
				if filter != "" {
					f, err := statusutil.NormalizeFilter(filter)
					if err != nil {
						return writeErr(cmd, err)
					}
					cfg.View.Filter = string(f)
				}
				if err := cfg.Validate(); err != nil {
					return writeErr(cmd, err)
				}
				if err := store.SaveConfig(app.Dir, cfg); err != nil {
					return writeErr(cmd, err)
				}
				if app.cfg, err = store.LoadConfig(store.GlobalConfigDir(), app.Dir); err != nil {
					return writeErr(cmd, err)
				}
				wrote = true
			}

			ctx := cmd.Context()
			b, err := openBackend(ctx, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer b.Close()

			var project *model.Project
			name = strings.TrimSpace(name)
			if p, err := b.FindProject(ctx, name); err == nil {
				project = &p
			} else {
				projects, err := b.ListProjects(ctx)
				if err != nil {
					return writeErr(cmd, err)
				}
				if len(projects) == 0 || cmd.Flags().Changed("name") {
					p, err := b.CreateProject(ctx, name)
					if err != nil {
						return writeErr(cmd, err)
					}
					project = &p
				}
			}
			if project != nil && cmd.Flags().Changed("name") {
				if err := b.SetCurrentProject(ctx, project.ID); err != nil {
					return writeErr(cmd, err)
				}
			}

			return writeOut(cmd, app, map[string]any{
				"data": map[string]any{
					"dir":           app.Dir,
					"driver":        app.cfg.Store.Driver,
					"configWritten": wrote,
					"project":       project,
				},
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "Inbox", "Name of the first project")
	cmd.Flags().StringVar(&driver, "driver", "", "Store driver to record in the workspace config (sqlite|postgres)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres DSN to record in the workspace config")
	cmd.Flags().StringVar(&filter, "filter", "", "Default view filter to record in the workspace config")
	return cmd
}
