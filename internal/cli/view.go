package cli

import (
	"github.com/spf13/cobra"
)

type viewOptions struct {
	outline bool
	root    string
}

func newViewCmd(app *App) *cobra.Command {
	var opts viewOptions

	cmd := &cobra.Command{
		Use:   "view [filter]",
		Short: "List visible items under a filter (focus|review|pile|waiting|done|notdone|all)",
		Long: `List what is visible under a filter.

By default this is the flat list of visible leaves, sorted by state priority
and recency. With --outline it is the rank-ordered outline: parents with their
visible children, collapsed parents closed, pinned parents repeated as roots.`,
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
			return writeView(cmd, app, s, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.outline, "outline", false, "Show the outline instead of the flat leaf list")
	cmd.Flags().StringVar(&opts.root, "root", "", "Restrict the flat list to the subtree of this item")
	return cmd
}

func writeView(cmd *cobra.Command, app *App, s *session, opts viewOptions) error {
	meta := map[string]any{
		"project": s.project.ID,
		"filter":  s.e.Filter(),
	}
	if opts.outline {
		return writeOut(cmd, app, map[string]any{"data": s.e.Rows(), "meta": meta})
	}
	if opts.root != "" {
		if _, err := s.e.Item(opts.root); err != nil {
			return writeErr(cmd, err)
		}
		meta["root"] = opts.root
	}
	return writeOut(cmd, app, map[string]any{"data": s.e.FlatList(opts.root), "meta": meta})
}
