package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func newProjectsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Project commands",
	}
	cmd.AddCommand(newProjectsAddCmd(app))
	cmd.AddCommand(newProjectsListCmd(app))
	cmd.AddCommand(newProjectsUseCmd(app))
	return cmd
}

func newProjectsAddCmd(app *App) *cobra.Command {
	var use bool

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBackend(ctx, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer b.Close()

			p, err := b.CreateProject(ctx, strings.TrimSpace(args[0]))
			if err != nil {
				return writeErr(cmd, err)
			}
			if use {
				if err := b.SetCurrentProject(ctx, p.ID); err != nil {
					return writeErr(cmd, err)
				}
			}
			return writeOut(cmd, app, map[string]any{"data": p})
		},
	}
	cmd.Flags().BoolVar(&use, "use", false, "Make the new project current")
	return cmd
}

func newProjectsListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBackend(ctx, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer b.Close()

			ps, err := b.ListProjects(ctx)
			if err != nil {
				return writeErr(cmd, err)
			}
			cur, err := b.CurrentProjectID(ctx)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{
				"data": ps,
				"meta": map[string]any{"currentProjectId": cur},
			})
		},
	}
}

func newProjectsUseCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "use <project-id|name>",
		Short: "Set the current project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBackend(ctx, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer b.Close()

			p, err := b.FindProject(ctx, args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			if err := b.SetCurrentProject(ctx, p.ID); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": p})
		},
	}
}
