package cli

import (
	"fmt"

	"minder-cli/internal/gitrepo"
	"minder-cli/internal/publish"

	"github.com/spf13/cobra"
)

func newPublishCmd(app *App) *cobra.Command {
	var toDir string
	var overwrite bool
	var ids bool
	var commit bool
	var message string

	cmd := &cobra.Command{
		Use:   "publish [filter]",
		Short: "Export the outline as a Markdown checklist (not canonical)",
		Long: `Render the outline under a filter as a nested Markdown checklist.

With --to the file <dir>/<project-id>.md is written and its path reported;
without it the Markdown is printed to stdout. --commit then commits that file
to the git repository containing --to.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ""
			if len(args) == 1 {
				filter = args[0]
			}
			ctx := cmd.Context()
			s, err := openSession(ctx, app, filter)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer s.Close()

			if toDir == "" {
				if commit {
					return writeErr(cmd, fmt.Errorf("--commit needs --to"))
				}
				md := publish.RenderOutlineMarkdown(s.project.Name, s.e.Filter(), s.e.Rows(), publish.RenderOptions{IncludeIDs: ids})
				_, err := fmt.Fprint(cmd.OutOrStdout(), md)
				return err
			}
			res, err := publish.WriteOutline(s.e, s.project.Name, toDir, publish.WriteOptions{
				IncludeIDs: ids,
				Overwrite:  overwrite,
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			app.log.Info("outline published", "project", s.project.ID, "path", res.Written[0])
			meta := map[string]any{"project": s.project.ID, "filter": s.e.Filter()}
			if commit {
				if message == "" {
					message = fmt.Sprintf("minder: publish %s (%s)", s.project.Name, s.e.Filter())
				}
				cr, err := gitrepo.CommitPaths(res.Written, message)
				if err != nil {
					return writeErr(cmd, err)
				}
				app.log.Debug("publish commit", "committed", cr.Committed, "hash", cr.Hash)
				meta["git"] = cr
			}
			return writeOut(cmd, app, map[string]any{"data": res, "meta": meta})
		},
	}

	cmd.Flags().StringVar(&toDir, "to", "", "Output directory (default: print to stdout)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&ids, "ids", false, "Append item ids")
	cmd.Flags().BoolVar(&commit, "commit", false, "Commit the written file to the enclosing git repository")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message for --commit")
	return cmd
}
