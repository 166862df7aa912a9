package cli

import (
	"errors"

	"minder-cli/internal/gitrepo"
	"minder-cli/internal/outline"

	"github.com/spf13/cobra"
)

var errDoctorIssuesFound = errors.New("doctor found errors")

func newDoctorCmd(app *App) *cobra.Command {
	var fail bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the current project for orphans, parent cycles and rank ties",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, app, "")
			if err != nil {
				return writeErr(cmd, err)
			}
			defer s.Close()

			report := outline.Check(s.e.Tree())
			git, err := gitrepo.GetStatus(app.Dir)
			if err != nil {
				app.log.Warn("workspace git status", "dir", app.Dir, "err", err)
			}
			if err := writeOut(cmd, app, map[string]any{
				"data": report,
				"meta": map[string]any{
					"project":   s.project.ID,
					"issues":    len(report.Issues),
					"hasErrors": report.HasErrors(),
					"git":       git,
				},
			}); err != nil {
				return err
			}

			if fail && report.HasErrors() {
				return errDoctorIssuesFound
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fail, "fail", false, "Exit with non-zero status if errors are found")
	return cmd
}
